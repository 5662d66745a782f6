package main

import (
	"io"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightninglabs/arq/arq"
	"github.com/lightninglabs/arq/sink"
	"github.com/lightninglabs/arq/transport"
	"github.com/lightningnetwork/lnd"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
)

const Subsystem = "ACAT"

// log is disabled until setupLoggers runs.
var log = btclog.Disabled

// newLogManager creates the root log manager that writes every subsystem to
// w.
func newLogManager(w io.Writer) *build.SubLoggerManager {
	return build.NewSubLoggerManager(btclog.NewDefaultHandler(w))
}

// setupLoggers initializes all package-global logger variables.
func setupLoggers(root *build.SubLoggerManager, intercept signal.Interceptor) {
	genLogger := genSubLogger(root, intercept)

	log = build.NewSubLogger(Subsystem, genLogger)

	lnd.SetSubLogger(root, Subsystem, log)
	lnd.AddSubLogger(root, arq.Subsystem, intercept, arq.UseLogger)
	lnd.AddSubLogger(root, transport.Subsystem, intercept, transport.UseLogger)
	lnd.AddSubLogger(root, sink.Subsystem, intercept, sink.UseLogger)
}

// genSubLogger creates a logger for a subsystem. We provide an instance of
// a signal.Interceptor to be able to shutdown in the case of a critical error.
func genSubLogger(root *build.SubLoggerManager,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	// Create a shutdown function which will request shutdown from our
	// interceptor if it is listening.
	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	// Return a function which will create a sublogger from our root
	// logger without shutdown fn.
	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}
