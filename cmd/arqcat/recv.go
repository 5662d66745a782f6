package main

import (
	"fmt"
	"time"

	"github.com/lightninglabs/arq/arq"
	"github.com/lightninglabs/arq/sink"
	"github.com/lightninglabs/arq/transport"
	"github.com/spf13/cobra"
)

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Receive a single file from a sending arqcat",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runRecv(&cfg.Recv)
	},
}

func init() {
	f := recvCmd.Flags()
	f.StringVar(&cfg.Recv.Listen, "listen", "", "host:port to listen on")
	f.StringVar(&cfg.Recv.Out, "out", "", "file to write the data to")
	f.StringVar(&cfg.Recv.Sink, "sink", "file",
		"where to persist the data, file or bolt")
	f.StringVar(&cfg.Recv.DB, "db", defaultDBPath,
		"database path for the bolt sink")
	f.Float64Var(&cfg.Recv.Loss, "loss", 0,
		"probability of dropping a frame in either direction")
	f.DurationVar(&cfg.Recv.Linger.Duration, "linger", defaultLinger,
		"how long to keep answering after the last packet, at "+
			"least three of the sender's resend intervals")
	f.StringVar(&cfg.Recv.Integrity, "integrity", "internet",
		"frame integrity function, internet or crc16")
}

func runRecv(c *recvConfig) error {
	if err := c.validate(); err != nil {
		return err
	}

	integrity, err := arq.ParseIntegrity(c.Integrity)
	if err != nil {
		return err
	}

	var (
		out  arq.Sink
		bolt *sink.Bolt
	)
	switch c.Sink {
	case "bolt":
		bolt, err = sink.OpenBolt(c.DB)
		if err != nil {
			return err
		}
		defer bolt.Close()

		out = bolt

	default:
		out = sink.NewFile(c.Out)
	}

	conn, err := transport.Listen(c.Listen)
	if err != nil {
		return err
	}
	defer conn.Close()

	var ch arq.Channel = conn
	if c.Loss > 0 {
		faults, err := arq.NewRandomFaults(
			c.Loss, c.Loss, 0, time.Now().UnixNano(),
		)
		if err != nil {
			return err
		}
		ch = arq.NewFaultyChannel(conn, faults)
	}

	receiver, err := arq.NewReceiver(
		ch, out, arq.WithIntegrity(integrity),
		arq.WithTimeoutOptions(
			arq.WithLingerTimeout(c.Linger.Duration),
		),
	)
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext()
	defer cancel()

	log.Infof("Waiting for a transfer on %v", conn.LocalAddr())

	summary, err := receiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}

	if bolt != nil {
		log.Infof("Stored transfer %v in %s", bolt.LastID(), c.DB)
	} else {
		log.Infof("Wrote %s", c.Out)
	}

	log.Infof("Done: %v", summary)

	return nil
}
