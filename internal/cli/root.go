package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var jsonOut bool

// errReported marks a failure the command already wrote to stdout, so
// Execute exits non-zero without emitting a second document.
var errReported = errors.New("failure already reported")

var rootCmd = &cobra.Command{
	Use:   "fuel",
	Short: "Autonomous task execution for AI agents",
	Long: "fuel — a persistent task queue plus a daemon that feeds ready work\n" +
		"to coding agents, reviews what they build, and keeps score.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Errors are printed here so that every
// command gets the same plain-text or --json error shape.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errReported) {
		if jsonOut {
			b, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Println(string(b))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(blockedCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(reopenCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(depCmd)
	rootCmd.AddCommand(epicCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(stuckCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(consumeCmd)
}
