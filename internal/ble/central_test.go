package ble

import (
	"context"
	"fmt"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrtrack/hrtrack/internal/gatt"
)

// fakeDevice scripts Scan. The embedded interface covers the methods the
// tests never reach.
type fakeDevice struct {
	blelib.Device
	advs    []blelib.Advertisement
	scanErr error
}

func (d *fakeDevice) Scan(ctx context.Context, _ bool, h blelib.AdvHandler) error {
	for _, adv := range d.advs {
		h(adv)
	}
	if d.scanErr != nil {
		return d.scanErr
	}
	<-ctx.Done()
	return ctx.Err()
}

// fakeAdv carries the advertisement fields discovery consumes.
type fakeAdv struct {
	blelib.Advertisement
	addr     string
	name     string
	rssi     int
	services []string
}

func (a *fakeAdv) Addr() blelib.Addr { return blelib.NewAddr(a.addr) }
func (a *fakeAdv) LocalName() string { return a.name }
func (a *fakeAdv) RSSI() int         { return a.rssi }

func (a *fakeAdv) Services() []blelib.UUID {
	uuids := make([]blelib.UUID, 0, len(a.services))
	for _, s := range a.services {
		uuids = append(uuids, blelib.MustParse(s))
	}
	return uuids
}

func withFakeDevice(t *testing.T, dev *fakeDevice) {
	t.Helper()
	original := DeviceFactory
	DeviceFactory = func() (blelib.Device, error) { return dev, nil }
	t.Cleanup(func() { DeviceFactory = original })
}

func testCentral() *Central {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewCentral(logger)
}

func TestScanMergesAdvertisementsPerAddress(t *testing.T) {
	// The strap advertises the service list and the name in separate
	// packets, discovery must merge them into one entry.
	withFakeDevice(t, &fakeDevice{advs: []blelib.Advertisement{
		&fakeAdv{addr: "aa:bb:cc:dd:ee:01", rssi: -48, services: []string{"180d"}},
		&fakeAdv{addr: "aa:bb:cc:dd:ee:01", name: "H64 40352", rssi: -51},
		&fakeAdv{addr: "aa:bb:cc:dd:ee:02", name: "Lamp", rssi: -70},
	}})

	devices, err := testCentral().Scan(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	strap := devices[0]
	assert.Equal(t, "aa:bb:cc:dd:ee:01", strap.Identifier)
	assert.Equal(t, "H64 40352", strap.Name)
	assert.Equal(t, -51, strap.RSSI)
	assert.True(t, strap.HasHeartRateService)

	assert.Equal(t, "Lamp", devices[1].Name)
	assert.False(t, devices[1].HasHeartRateService)
}

func TestScanRecognizesLongFormServiceUUID(t *testing.T) {
	withFakeDevice(t, &fakeDevice{advs: []blelib.Advertisement{
		&fakeAdv{addr: "aa:bb:cc:dd:ee:03", name: "Strap",
			services: []string{"0000180d-0000-1000-8000-00805f9b34fb"}},
	}})

	devices, err := testCentral().Scan(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].HasHeartRateService)
}

func TestScanNormalizesBluetoothOffError(t *testing.T) {
	withFakeDevice(t, &fakeDevice{
		scanErr: fmt.Errorf("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
	})

	_, err := testCentral().Scan(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBluetoothOff)
}

func TestScanWindowExpiryIsNotAnError(t *testing.T) {
	withFakeDevice(t, &fakeDevice{})

	devices, err := testCentral().Scan(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestFindCharacteristic(t *testing.T) {
	profile := &blelib.Profile{
		Services: []*blelib.Service{
			{
				UUID: blelib.MustParse("180d"),
				Characteristics: []*blelib.Characteristic{
					{UUID: blelib.MustParse("2a37")},
				},
			},
			{
				UUID: blelib.MustParse("180f"),
				Characteristics: []*blelib.Characteristic{
					{UUID: blelib.MustParse("2a19")},
				},
			},
		},
	}

	assert.NotNil(t, findCharacteristic(profile, gatt.HeartRateServiceUUID, gatt.HeartRateMeasurementUUID))
	assert.NotNil(t, findCharacteristic(profile, gatt.BatteryServiceUUID, gatt.BatteryLevelUUID))
	assert.Nil(t, findCharacteristic(profile, gatt.HeartRateServiceUUID, gatt.BatteryLevelUUID))
	assert.Nil(t, findCharacteristic(profile, "1800", "2a00"))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect error
	}{
		{"darwin bluetooth off", fmt.Errorf("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), ErrBluetoothOff},
		{"generic bluetooth off", fmt.Errorf("Bluetooth is turned off"), ErrBluetoothOff},
		{"not connected", fmt.Errorf("device not connected"), ErrNotConnected},
		{"peer disconnected", fmt.Errorf("peripheral disconnected"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, NormalizeError(tt.err), tt.expect)
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})

	t.Run("unknown errors pass through", func(t *testing.T) {
		err := fmt.Errorf("some other error")
		assert.Equal(t, err, NormalizeError(err))
	})
}
