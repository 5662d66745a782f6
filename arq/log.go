package arq

import (
	"github.com/btcsuite/btclog/v2"
)

const Subsystem = "ARQ"

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log btclog.Logger

// The default amount of logging is none.
func init() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// newPrefixLogger returns the package logger with every line tagged by
// prefix. It tells the sender and receiver side of a transfer apart when both
// run in the same process.
func newPrefixLogger(prefix string) btclog.Logger {
	return log.WithPrefix(prefix)
}
