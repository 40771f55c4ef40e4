package smtp

import (
	"os"
	"time"
)

// Config holds configuration for the capture server
type Config struct {
	Hostname        string        // name announced in the greeting
	ListenAddr      string        // SMTP listen address
	MaxMessageBytes int64         // largest accepted DATA payload
	MaxRecipients   int           // recipients per transaction
	StartTLS        bool          // advertise STARTTLS
	CertFile        string        // optional certificate, self-signed when empty
	KeyFile         string        // optional key for CertFile
	ReadTimeout     time.Duration // per-read deadline
	WriteTimeout    time.Duration // per-write deadline
}

// DefaultConfig returns the capture server defaults, listening where the
// fixture sender submits
func DefaultConfig() *Config {
	return &Config{
		Hostname:        "localhost",
		ListenAddr:      "127.0.0.1:1025",
		MaxMessageBytes: 10 * 1024 * 1024,
		MaxRecipients:   100,
		StartTLS:        true,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    60 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultConfig
func (c *Config) withDefaults() *Config {
	out := *c
	defaults := DefaultConfig()

	if out.Hostname == "" {
		if hostname, err := os.Hostname(); err == nil {
			out.Hostname = hostname
		} else {
			out.Hostname = defaults.Hostname
		}
	}
	if out.ListenAddr == "" {
		out.ListenAddr = defaults.ListenAddr
	}
	if out.MaxMessageBytes <= 0 {
		out.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if out.MaxRecipients <= 0 {
		out.MaxRecipients = defaults.MaxRecipients
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = defaults.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	return &out
}
