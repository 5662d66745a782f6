package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/spf13/cobra"
)

// interceptor turns SIGINT and SIGTERM into a shutdown request. It is set up
// before any subcommand runs.
var interceptor signal.Interceptor

var rootCmd = &cobra.Command{
	Use:   "arqcat",
	Short: "Send and receive files over UDP with Go-Back-N or Stop-and-Wait",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadConfigFile(cmd); err != nil {
			return err
		}

		ic, err := signal.Intercept()
		if err != nil {
			return err
		}
		interceptor = ic

		logMgr := newLogManager(os.Stdout)
		setupLoggers(logMgr, interceptor)

		return build.ParseAndSetDebugLevels(cfg.DebugLevel, logMgr)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"path to a TOML config file, flags override its values")
	rootCmd.PersistentFlags().StringVar(&cfg.DebugLevel, "debuglevel",
		"info", "logging level for all subsystems {trace, debug, "+
			"info, warn, error, critical} or a list of "+
			"<subsystem>=<level> pairs")

	rootCmd.AddCommand(sendCmd, recvCmd)
}

// interruptContext returns a context that is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-interceptor.ShutdownChannel():
			log.Infof("Received shutdown signal, aborting transfer")
			cancel()

		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
