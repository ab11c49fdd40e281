// Command zdmrctl is a debug/inspection CLI for the zdmrd daemon: it is
// one consumer of the Control API, structured the way danzo's cmd/root.go
// composes subcommands, but every subcommand here talks to the daemon over
// HTTP instead of driving a download itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagHost  string
	flagPort  int
	flagToken string
)

func printError(text string) { fmt.Fprintln(os.Stderr, errorStyle.Render(text)) }
func printSuccess(text string) { fmt.Println(successStyle.Render(text)) }

func main() {
	root := &cobra.Command{
		Use:   "zdmrctl",
		Short: "Inspect and control a running zdmrd daemon",
	}
	root.PersistentFlags().StringVar(&flagHost, "host", "127.0.0.1", "zdmrd control API host")
	root.PersistentFlags().IntVar(&flagPort, "port", 47113, "zdmrd control API port")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("ZDMR_TOKEN"), "control API bearer token (default: $ZDMR_TOKEN)")

	root.AddCommand(
		newAddCmd(),
		newListCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newPauseAllCmd(),
		newResumeAllCmd(),
		newRetryCmd(),
		newRmCmd(),
		newWatchCmd(),
		newSettingsCmd(),
	)

	if err := root.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func newAPIClient() *client {
	return newClient(flagHost, flagPort, flagToken)
}
