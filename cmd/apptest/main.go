// apptest serves the sample greeting application in an HTTP test container.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "apptest",
	Short: "apptest runs applications in an in-process HTTP test container",
	Long: `apptest hosts the sample greeting application in the same HTTP test
container the harness uses, so it can be explored with any HTTP client.

Test properties such as apptest.config.test.container.port may be given as
environment variables (APPTEST_CONFIG_TEST_CONTAINER_PORT) or in dotenv files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
