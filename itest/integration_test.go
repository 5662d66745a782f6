package itest

import (
	"fmt"
	"testing"

	"github.com/lightninglabs/arq/arq"
)

// TestARQ runs the itests as transfers over UDP on the loopback interface.
func TestARQ(t *testing.T) {
	// If no tests are registered, then we can exit early.
	if len(testCases) == 0 {
		t.Skip("integration tests not selected")
	}

	setupLogging(t)

	testConfigs := []*testConfig{
		{stopAndWait: false, integrity: arq.IntegrityInternet},
		{stopAndWait: false, integrity: arq.IntegrityCRC16},
		{stopAndWait: true, integrity: arq.IntegrityInternet},
		{stopAndWait: true, integrity: arq.IntegrityCRC16},
	}

	t.Logf("Running %v integration tests", len(testCases))
	for _, testCase := range testCases {

		testCase := testCase
		for _, config := range testConfigs {
			config := config

			if config.stopAndWait && testCase.windowedOnly {
				continue
			}

			name := fmt.Sprintf("%s(%v)", testCase.name, config)

			success := t.Run(name, func(t1 *testing.T) {
				ht := newHarnessTest(t1, config)

				// Now we have everything to run the test case.
				ht.RunTestCase(testCase)

				// Shut down the receiver to remove all state.
				err := ht.shutdown()
				if err != nil {
					t1.Fatalf("error shutting down "+
						"harness: %v", err)
				}
			})

			// Close at the first failure. Mimic behavior of
			// original test framework.
			if !success {
				break
			}
		}
	}
}
