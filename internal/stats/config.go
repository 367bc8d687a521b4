package stats

import "time"

// Config defines configuration for the stats collector
type Config struct {
	// Show a progress bar on the terminal
	Enabled bool `toml:"enabled"`

	// Inbox configuration; a zero send timeout blocks producers until the
	// collector catches up so no outcome is dropped
	InboxBufferSize  int           `toml:"inbox_buffer_size"`
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout"`
}

// DefaultConfig returns default stats collector configuration
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		InboxBufferSize:  1000,
		InboxSendTimeout: 0,
	}
}
