package itest

import (
	"fmt"
	"os"
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/go-errors/errors"
	"github.com/lightninglabs/arq/arq"
	"github.com/lightninglabs/arq/sink"
	"github.com/lightninglabs/arq/transport"
	"github.com/lightningnetwork/lnd"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/stretchr/testify/require"
)

// testCase is a struct that holds a single test case.
type testCase struct {
	name string
	test func(t *harnessTest)

	// windowedOnly marks tests that make no sense for Stop-and-Wait.
	windowedOnly bool
}

// testConfig selects the protocol variant a test case runs with.
type testConfig struct {
	stopAndWait bool
	integrity   arq.Integrity
}

func (c *testConfig) String() string {
	mode := "gbn"
	if c.stopAndWait {
		mode = "saw"
	}

	return fmt.Sprintf("mode:%s,integrity:%v", mode, c.integrity)
}

// harnessTest wraps a regular testing.T providing enhanced error detection
// and propagation. All error will be augmented with a full stack-trace in
// order to aid in debugging. Additionally, any panics caused by active
// test cases will also be handled and represented as fatals.
type harnessTest struct {
	t *testing.T

	// testCase is populated during test execution and represents the
	// current test case.
	testCase *testCase

	cfg *testConfig

	receiver *receiverHarness
}

// newHarnessTest creates a new instance of a harnessTest from a regular
// testing.T instance.
func newHarnessTest(t *testing.T, cfg *testConfig) *harnessTest {
	return &harnessTest{t: t, cfg: cfg}
}

// Skipf calls the underlying testing.T's Skip method, causing the current test
// to be skipped.
func (h *harnessTest) Skipf(format string, args ...interface{}) {
	h.t.Skipf(format, args...)
}

// Fatalf causes the current active test case to fail with a fatal error. All
// integration tests should mark test failures solely with this method due to
// the error stack traces it produces.
func (h *harnessTest) Fatalf(format string, a ...interface{}) {
	stacktrace := errors.Wrap(fmt.Sprintf(format, a...), 1).ErrorStack()

	if h.testCase != nil {
		h.t.Fatalf("Failed: (%v): exited with error: \n"+
			"%v", h.testCase.name, stacktrace)
	} else {
		h.t.Fatalf("Error outside of test: %v", stacktrace)
	}
}

// RunTestCase executes a harness test case. Any errors or panics will be
// represented as fatal.
func (h *harnessTest) RunTestCase(testCase *testCase) {
	h.testCase = testCase
	defer func() {
		h.testCase = nil
	}()

	defer func() {
		if err := recover(); err != nil {
			description := errors.Wrap(err, 2).ErrorStack()
			h.t.Fatalf("Failed: (%v) panicked with: \n%v",
				h.testCase.name, description)
		}
	}()

	testCase.test(h)
}

func (h *harnessTest) Logf(format string, args ...interface{}) {
	h.t.Logf(format, args...)
}

func (h *harnessTest) Log(args ...interface{}) {
	h.t.Log(args...)
}

// startReceiver starts a receiver harness with the given options and
// registers it for shutdown.
func (h *harnessTest) startReceiver(opts ...receiverOption) *receiverHarness {
	opts = append([]receiverOption{
		withReceiverIntegrity(h.cfg.integrity),
	}, opts...)

	receiver, err := newReceiverHarness(opts...)
	require.NoError(h.t, err)
	require.NoError(h.t, receiver.start())

	h.receiver = receiver

	return receiver
}

// newSender creates a sender harness aimed at the running receiver that
// uses the protocol variant of the test config.
func (h *harnessTest) newSender(opts ...senderOption) *senderHarness {
	require.NotNil(h.t, h.receiver, "no receiver started")

	opts = append([]senderOption{
		withStopAndWait(h.cfg.stopAndWait),
		withSenderIntegrity(h.cfg.integrity),
	}, opts...)

	return newSenderHarness(h.receiver.addr(), opts...)
}

// shutdown stops the receiver.
func (h *harnessTest) shutdown() error {
	if h.receiver == nil {
		return nil
	}

	return h.receiver.stop()
}

// interceptor is shared by every test run. signal.Intercept can only be
// called once per process.
var interceptor *signal.Interceptor

// setupLogging initializes the logging subsystem for the arq, transport and
// sink packages.
func setupLogging(t *testing.T) {
	logMgr := build.NewSubLoggerManager(btclog.NewDefaultHandler(os.Stdout))

	if interceptor == nil {
		ic, err := signal.Intercept()
		require.NoError(t, err)
		interceptor = &ic
	}

	lnd.AddSubLogger(logMgr, arq.Subsystem, *interceptor, arq.UseLogger)
	lnd.AddSubLogger(
		logMgr, transport.Subsystem, *interceptor, transport.UseLogger,
	)
	lnd.AddSubLogger(logMgr, sink.Subsystem, *interceptor, sink.UseLogger)

	err := build.ParseAndSetDebugLevels("debug,UDPT=info", logMgr)
	require.NoError(t, err)

	t.Cleanup(func() {
		arq.UseLogger(btclog.Disabled)
		transport.UseLogger(btclog.Disabled)
		sink.UseLogger(btclog.Disabled)
	})
}
