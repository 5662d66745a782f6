package main

import (
	"fmt"
	"os"
	"time"

	"github.com/lightninglabs/arq/arq"
	"github.com/lightninglabs/arq/transport"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a file to a receiving arqcat",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runSend(&cfg.Send)
	},
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&cfg.Send.Peer, "peer", "", "host:port of the receiver")
	f.StringVar(&cfg.Send.File, "file", "", "file to send")
	f.StringVar(&cfg.Send.Mode, "mode", "gbn", "protocol, gbn or saw")
	f.Uint16Var(&cfg.Send.Window, "window", defaultWindow,
		"window size for gbn")
	f.Uint16Var(&cfg.Send.SeqSpace, "seqspace", 0,
		"size of the sequence space, defaults to window+1")
	f.IntVar(&cfg.Send.PacketSize, "packet-size", defaultPacketSize,
		"payload bytes per packet")
	f.DurationVar(&cfg.Send.Timeout.Duration, "timeout", defaultTimeout,
		"retransmission timeout")
	f.Float64Var(&cfg.Send.Loss, "loss", 0,
		"probability of dropping a frame in either direction")
	f.Float64Var(&cfg.Send.Corrupt, "corrupt", 0,
		"probability of corrupting a frame that is not dropped")
	f.IntVar(&cfg.Send.MaxRetransmits, "max-retransmits", 0,
		"give up after this many timeout rounds without progress, "+
			"0 retries forever")
	f.DurationVar(&cfg.Send.StallTimeout.Duration, "stall-timeout", 0,
		"give up if no packet is acknowledged for this long")
	f.DurationVar(&cfg.Send.BackoffMax.Duration, "backoff-max", 0,
		"double the timeout after every timeout round up to this "+
			"value")
	f.StringVar(&cfg.Send.Integrity, "integrity", "internet",
		"frame integrity function, internet or crc16")
}

func runSend(c *sendConfig) error {
	if err := c.validate(); err != nil {
		return err
	}

	integrity, err := arq.ParseIntegrity(c.Integrity)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	packets := arq.Chunk(data, c.PacketSize)

	conn, err := transport.Dial(c.Peer)
	if err != nil {
		return err
	}
	defer conn.Close()

	var ch arq.Channel = conn
	if c.Loss > 0 || c.Corrupt > 0 {
		faults, err := arq.NewRandomFaults(
			c.Loss, c.Loss, c.Corrupt, time.Now().UnixNano(),
		)
		if err != nil {
			return err
		}
		ch = arq.NewFaultyChannel(conn, faults)
	}

	opts := []arq.Option{
		arq.WithIntegrity(integrity),
		arq.WithMaxRetransmits(c.MaxRetransmits),
		arq.WithStallTimeout(c.StallTimeout.Duration),
	}
	if c.BackoffMax.Duration > 0 {
		opts = append(opts, arq.WithTimeoutOptions(
			arq.WithResendBackoff(c.BackoffMax.Duration),
		))
	}

	var sender *arq.Sender
	switch c.Mode {
	case "saw":
		sender, err = arq.NewStopAndWaitSender(
			ch, c.Timeout.Duration, packets, opts...,
		)

	default:
		if c.SeqSpace != 0 {
			opts = append(opts, arq.WithSeqSpace(c.SeqSpace))
		}
		sender, err = arq.NewSender(
			ch, c.Window, c.Timeout.Duration, packets, opts...,
		)
	}
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext()
	defer cancel()

	log.Infof("Sending %s (%d bytes, %d packets) to %s using %s",
		c.File, len(data), len(packets), c.Peer, c.Mode)

	summary, err := sender.Run(ctx)
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}

	log.Infof("Done: %v", summary)

	return nil
}
