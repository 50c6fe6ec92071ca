// Package props resolves the test properties that configure a harness.
//
// A property is looked up in three layers: values forced by the test, then
// process-wide system properties (see System), then values set by the test as
// defaults. A forced value can never be overridden from outside the test; a
// default can.
package props

// Property names consulted by the harness.
const (
	// ContainerPort is the port the test container listens on. Zero selects
	// an ephemeral port.
	ContainerPort = "apptest.config.test.container.port"

	// LogTraffic enables logging of every request and response sent by the
	// harness client.
	LogTraffic = "apptest.config.test.logging.enable"

	// DumpEntity adds request and response bodies to the traffic log.
	DumpEntity = "apptest.config.test.logging.dumpEntity"

	// RecordLogLevel enables log record capture at the given level. Its
	// absence disables capture.
	RecordLogLevel = "apptest.config.test.log.recordLevel"

	// ContainerFactory names the registered test-container factory used by
	// the harness.
	ContainerFactory = "apptest.config.test.container.factory"
)

// DefaultContainerPort is used when ContainerPort is absent or malformed.
const DefaultContainerPort = 9998
