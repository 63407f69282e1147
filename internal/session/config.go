package session

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Config holds the engine's timing knobs. Zero values are filled in by
// DefaultConfig; callers typically tweak one or two fields.
type Config struct {
	// ScanTimeout bounds a discovery scan.
	ScanTimeout time.Duration `default:"12s"`

	// ConnectTimeout bounds the dial plus profile discovery handshake.
	ConnectTimeout time.Duration `default:"30s"`

	// ReconnectAttempts is how many times the engine retries after the
	// peer drops the connection before giving up.
	ReconnectAttempts int `default:"5"`

	// ReconnectBackoff is the delay before the first reconnect attempt;
	// it doubles per attempt up to ReconnectBackoffMax.
	ReconnectBackoff time.Duration `default:"1s"`

	// ReconnectBackoffMax caps the exponential backoff.
	ReconnectBackoffMax time.Duration `default:"10s"`

	// EventBuffer is the capacity of the outbound event ring.
	EventBuffer int `default:"256"`

	// NotificationBuffer is the capacity of the inbound notification
	// channel between the radio callback and the dispatch loop.
	NotificationBuffer int `default:"64"`
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// backoffFor returns the delay before reconnect attempt n (1-based).
func (c *Config) backoffFor(attempt int) time.Duration {
	d := c.ReconnectBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.ReconnectBackoffMax {
			return c.ReconnectBackoffMax
		}
	}
	if d > c.ReconnectBackoffMax {
		return c.ReconnectBackoffMax
	}
	return d
}
