//go:build itest
// +build itest

package itest

var testCases = []*testCase{
	{
		name: "test happy path",
		test: testHappyPath,
	},
	{
		name: "test lossy transfer",
		test: testLossyTransfer,
	},
	{
		name: "test corrupted transfer",
		test: testCorruptedTransfer,
	},
	{
		name:         "test large transfer",
		test:         testLargeTransfer,
		windowedOnly: true,
	},
	{
		name: "test bolt sink",
		test: testBoltSink,
	},
	{
		name: "test empty transfer",
		test: testEmptyTransfer,
	},
}
