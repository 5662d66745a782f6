package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lightninglabs/arq/arq"
	"github.com/lightninglabs/arq/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	defaultWindow     = 8
	defaultPacketSize = 1024
	defaultTimeout    = 500 * time.Millisecond
	defaultLinger     = 2 * time.Second
	defaultDBPath     = "arqcat.db"
)

// duration is a time.Duration that can be read from a TOML string such as
// "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// config is the full arqcat configuration. It is filled from the TOML file
// given with --config first; flags set on the command line win.
type config struct {
	DebugLevel string     `toml:"debuglevel"`
	Send       sendConfig `toml:"send"`
	Recv       recvConfig `toml:"recv"`
}

type sendConfig struct {
	Peer           string   `toml:"peer"`
	File           string   `toml:"file"`
	Mode           string   `toml:"mode"`
	Window         uint16   `toml:"window"`
	SeqSpace       uint16   `toml:"seqspace"`
	PacketSize     int      `toml:"packet-size"`
	Timeout        duration `toml:"timeout"`
	Loss           float64  `toml:"loss"`
	Corrupt        float64  `toml:"corrupt"`
	MaxRetransmits int      `toml:"max-retransmits"`
	StallTimeout   duration `toml:"stall-timeout"`
	BackoffMax     duration `toml:"backoff-max"`
	Integrity      string   `toml:"integrity"`
}

type recvConfig struct {
	Listen    string   `toml:"listen"`
	Out       string   `toml:"out"`
	Sink      string   `toml:"sink"`
	DB        string   `toml:"db"`
	Loss      float64  `toml:"loss"`
	Linger    duration `toml:"linger"`
	Integrity string   `toml:"integrity"`
}

var (
	cfg        config
	configFile string
)

// loadConfigFile reads the TOML file into cfg and then re-applies every flag
// that was set explicitly, so that the command line overrides the file.
func loadConfigFile(cmd *cobra.Command) error {
	if configFile == "" {
		return nil
	}

	// The flags write into cfg directly, so their values have to be saved
	// before the file overwrites them.
	changed := make(map[string]string)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	if _, err := toml.DecodeFile(configFile, &cfg); err != nil {
		return fmt.Errorf("unable to read config %s: %w", configFile,
			err)
	}

	for name, value := range changed {
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("unable to apply --%s: %w", name, err)
		}
	}

	return nil
}

func (c *sendConfig) validate() error {
	switch {
	case c.Peer == "":
		return fmt.Errorf("--peer is required")

	case c.File == "":
		return fmt.Errorf("--file is required")

	case c.Mode != "gbn" && c.Mode != "saw":
		return fmt.Errorf("unknown mode %q, expected gbn or saw",
			c.Mode)

	case c.PacketSize <= 0 ||
		c.PacketSize > transport.MaxDatagramSize-arq.DataOverhead:

		return fmt.Errorf("packet size must be in [1, %d]",
			transport.MaxDatagramSize-arq.DataOverhead)
	}

	return nil
}

func (c *recvConfig) validate() error {
	switch {
	case c.Listen == "":
		return fmt.Errorf("--listen is required")

	case c.Sink != "file" && c.Sink != "bolt":
		return fmt.Errorf("unknown sink %q, expected file or bolt",
			c.Sink)

	case c.Sink == "file" && c.Out == "":
		return fmt.Errorf("--out is required for the file sink")
	}

	return nil
}
