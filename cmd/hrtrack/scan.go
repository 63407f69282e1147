package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hrtrack/hrtrack/internal/ble"
	"github.com/hrtrack/hrtrack/internal/session"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for heart rate straps",
	Long: `Scan for nearby Bluetooth Low Energy devices and display them.

Devices advertising the standard Heart Rate service are marked *HR*.
Wear the strap during the scan, most straps only advertise while they
sense a heartbeat.`,
	RunE: runScan,
}

var (
	scanTimeout time.Duration
	scanVerbose bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanTimeout, "scan-timeout", "t", 12*time.Second, "Scan window")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	progress := NewCountdownProgressPrinter("Scanning for BLE devices", "Scanning", scanTimeout)
	progress.Start()

	central := ble.NewCentral(logger)
	devices, err := central.Scan(ctx, scanTimeout)
	progress.Stop()
	if err != nil {
		logger.WithError(err).Error("scan failed")
		return err
	}

	return displayDevicesTable(devices)
}

func displayDevicesTable(devices []session.DeviceRef) error {
	if len(devices) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	// Straps first, then by signal strength
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].HasHeartRateService != devices[j].HasHeartRateService {
			return devices[i].HasHeartRateService
		}
		return devices[i].RSSI > devices[j].RSSI
	})

	hrMark := "*HR*"
	if term.IsTerminal(int(os.Stdout.Fd())) {
		hrMark = color.New(color.FgGreen, color.Bold).Sprint("*HR*")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\t")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, dev := range devices {
		name := dev.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		mark := ""
		if dev.HasHeartRateService {
			mark = hrMark
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, dev.Identifier, dev.RSSI, mark)
	}

	return w.Flush()
}
