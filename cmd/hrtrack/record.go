package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hrtrack/hrtrack/internal/addrstore"
	"github.com/hrtrack/hrtrack/internal/ble"
	"github.com/hrtrack/hrtrack/internal/hrlog"
	"github.com/hrtrack/hrtrack/internal/session"
	"github.com/hrtrack/hrtrack/internal/stats"
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record heart rate to CSV",
	Long: `Connect to a heart rate strap and log measurements to a CSV file.

Each notification becomes one row (timestamp, bpm, battery_percent).
Without --address or --name the previously used strap is preferred; the
scan result is matched by the Heart Rate service otherwise. The session
reconnects automatically if the strap drops the link, and Ctrl+C stops
it cleanly.`,
	RunE: runRecord,
}

var (
	recordAddress     string
	recordName        string
	recordOut         string
	recordScanTimeout time.Duration
	recordVerbose     bool
)

func init() {
	recordCmd.Flags().StringVarP(&recordAddress, "address", "a", "", "Exact device address to connect")
	recordCmd.Flags().StringVarP(&recordName, "name", "n", "", "Name hint for device matching")
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "Output CSV path (default: logs/hr_log_YYYYMMDD_HHMMSS.csv)")
	recordCmd.Flags().DurationVarP(&recordScanTimeout, "scan-timeout", "t", 12*time.Second, "Scan window for device discovery")
	recordCmd.Flags().BoolVar(&recordVerbose, "verbose", false, "Enable debug logging")
}

func runRecord(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	outPath := recordOut
	if outPath == "" {
		outPath = hrlog.DefaultPath(time.Now())
	}
	writer, err := hrlog.Open(outPath, logger)
	if err != nil {
		return err
	}

	store := addrstore.New(addrstore.DefaultPath(), logger)

	cfg := session.DefaultConfig()
	cfg.ScanTimeout = recordScanTimeout

	engine := session.NewEngine(ble.NewCentral(logger), store, writer, stats.New(), cfg, logger)
	engine.Start(context.Background())
	defer engine.Stop()

	// Ctrl+C cancels discovery and later stops the session
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	dev, err := discoverTarget(ctx, engine, store)
	if err != nil {
		return err
	}
	if dev.Name != "" {
		fmt.Printf("Found: %s (%s)\n", dev.Name, dev.Identifier)
	} else {
		fmt.Printf("Found: %s\n", dev.Identifier)
	}

	progress := NewProgressPrinter("Connecting to "+dev.Identifier, "Connecting")
	progress.Start()
	err = engine.Connect(ctx, dev.Identifier)
	progress.Stop()
	if err != nil {
		return err
	}

	fmt.Printf("Logging to: %s\n", writer.Path())
	fmt.Println("Connected. Receiving HR notifications... Ctrl+C to stop.")

	feed, err := session.NewFeed(engine.Events(), uint32(cfg.EventBuffer), logger)
	if err != nil {
		return err
	}
	feed.Start(context.Background())
	defer feed.Stop()

	return runDisplayLoop(ctx, engine, feed)
}

// discoverTarget scans and picks the strap, preferring an explicit
// --address, then the remembered address, then the name hint.
func discoverTarget(ctx context.Context, engine *session.Engine, store *addrstore.Store) (session.DeviceRef, error) {
	remembered := ""
	if recordAddress == "" {
		if saved, ok := store.Load(); ok {
			remembered = saved
		}
	}

	progress := NewCountdownProgressPrinter("Scanning for the strap", "Scanning", recordScanTimeout)
	progress.Start()
	devices, err := engine.Scan(ctx)
	progress.Stop()
	if err != nil {
		return session.DeviceRef{}, err
	}

	if recordAddress != "" {
		if dev, ok := pickDevice(devices, recordAddress, ""); ok {
			return dev, nil
		}
		return session.DeviceRef{}, ErrDeviceNotFound
	}

	if remembered != "" {
		if dev, ok := pickDevice(devices, remembered, ""); ok {
			return dev, nil
		}
	}

	if dev, ok := pickDevice(devices, "", recordName); ok {
		return dev, nil
	}
	return session.DeviceRef{}, ErrDeviceNotFound
}

// runDisplayLoop drains the feed on a one second clock and renders each
// sample the way the log file records it.
func runDisplayLoop(ctx context.Context, engine *session.Engine, feed *session.Feed) error {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	bpmColor := color.New(color.FgGreen, color.Bold)

	render := func(ev session.Event) {
		switch ev.Kind {
		case session.EventSample:
			battery := "-"
			if ev.Battery != nil {
				battery = fmt.Sprintf("%d", *ev.Battery)
			}
			bpm := fmt.Sprintf("%d", ev.Measurement.BPM)
			if isTTY {
				bpm = bpmColor.Sprint(bpm)
			}
			fmt.Printf("%s  BPM=%s  Battery=%s%%\n",
				ev.Measurement.Timestamp.Format("2006-01-02T15:04:05"), bpm, battery)
		case session.EventStateChange:
			if ev.Reason != "" {
				fmt.Printf("[%s] %s\n", ev.State, ev.Reason)
			} else {
				fmt.Printf("[%s]\n", ev.State)
			}
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping...")
			engine.Stop()
			if _, err := feed.Drain(render); err != nil {
				return err
			}
			printSummary(engine)
			return nil
		case <-ticker.C:
			if _, err := feed.Drain(render); err != nil {
				return err
			}
			switch engine.State() {
			case session.StateFailed:
				printSummary(engine)
				return fmt.Errorf("session failed, see log for details")
			case session.StateStopped:
				printSummary(engine)
				return nil
			}
		}
	}
}

func printSummary(engine *session.Engine) {
	hist := engine.Histogram()
	fmt.Printf("Samples recorded: %d\n", hist.Total())
	if best, ok := hist.MostCommon(); ok {
		fmt.Printf("Most common range: %s bpm (%d samples)\n", best.Label(), best.Count)
	}
}
