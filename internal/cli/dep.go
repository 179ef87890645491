package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage dependency edges between tasks",
}

var depAddCmd = &cobra.Command{
	Use:   "add [task] [blocker]",
	Short: "Block a task on another task",
	Args:  cobra.ExactArgs(2),
	RunE:  runDepAdd,
}

var depRmCmd = &cobra.Command{
	Use:     "rm [task] [blocker]",
	Aliases: []string{"remove"},
	Short:   "Remove a dependency edge",
	Args:    cobra.ExactArgs(2),
	RunE:    runDepRm,
}

func init() {
	depCmd.AddCommand(depAddCmd)
	depCmd.AddCommand(depRmCmd)
}

func runDepAdd(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.AddDependency(args[0], args[1]); err != nil {
		return err
	}
	task, err := st.Find(args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(task)
	}
	fmt.Printf("%s is now blocked by %s\n", args[0], args[1])
	return nil
}

func runDepRm(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.RemoveDependency(args[0], args[1]); err != nil {
		return err
	}
	task, err := st.Find(args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(task)
	}
	fmt.Printf("%s is no longer blocked by %s\n", args[0], args[1])
	return nil
}
