package cli

import (
	"fmt"

	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/spf13/cobra"
)

var (
	updTitle       string
	updDescription string
	updPriority    int
	updType        string
	updComplexity  string
	updSize        string
	updLabels      []string
	updEpic        string
)

var updateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Update fields on a task",
	Long:  "Updates only the flags you pass. An empty --description clears the description.",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updTitle, "title", "", "New title")
	updateCmd.Flags().StringVarP(&updDescription, "description", "d", "", "New description (empty clears it)")
	updateCmd.Flags().IntVarP(&updPriority, "priority", "p", 0, "New priority 0..4")
	updateCmd.Flags().StringVarP(&updType, "type", "t", "", "New type")
	updateCmd.Flags().StringVarP(&updComplexity, "complexity", "c", "", "New complexity")
	updateCmd.Flags().StringVarP(&updSize, "size", "s", "", "New size")
	updateCmd.Flags().StringSliceVarP(&updLabels, "label", "l", nil, "Replacement label set (repeatable)")
	updateCmd.Flags().StringVarP(&updEpic, "epic", "e", "", "New epic id (empty unlinks)")
}

// runUpdate builds a patch from exactly the flags that were set, so an
// empty string passed on purpose is distinguishable from an unset flag.
func runUpdate(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var patch store.TaskPatch
	flags := cmd.Flags()

	if flags.Changed("title") {
		patch.Title = &updTitle
	}
	if flags.Changed("description") {
		patch.Description = &updDescription
	}
	if flags.Changed("priority") {
		patch.Priority = &updPriority
	}
	if flags.Changed("type") {
		if !store.ValidTaskType(updType) {
			return fmt.Errorf("invalid type %q", updType)
		}
		t := store.TaskType(updType)
		patch.Type = &t
	}
	if flags.Changed("complexity") {
		if !store.ValidComplexity(updComplexity) {
			return fmt.Errorf("invalid complexity %q", updComplexity)
		}
		c := store.Complexity(updComplexity)
		patch.Complexity = &c
	}
	if flags.Changed("size") {
		if updSize != "" && !store.ValidSize(updSize) {
			return fmt.Errorf("invalid size %q", updSize)
		}
		s := store.Size(updSize)
		patch.Size = &s
	}
	if flags.Changed("label") {
		patch.Labels = &updLabels
	}
	if flags.Changed("epic") {
		patch.EpicID = &updEpic
	}

	task, err := st.Update(args[0], patch)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(task)
	}
	fmt.Printf("Updated %s: %s\n", task.ID, task.Title)
	return nil
}
