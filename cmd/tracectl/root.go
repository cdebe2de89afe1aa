// Command tracectl drives the trace/template subsystem against the
// simulated forest/mapper/event-runtime, for manual exercise and
// diagnostics. It is not part of the specified subsystem (spec §6
// treats the forest and scheduler as external collaborators); it
// exists the way the teacher pack's cmd/boot_bench exists: a runnable
// harness over library code, not a production entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tracectl",
	Short: "tracectl - trace/template replay subsystem harness",
	Long:  `tracectl drives the begin/replay/capture/complete trace-control cycle against a simulated region forest, for manual exercise and diagnostics.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
