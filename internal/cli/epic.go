package cli

import (
	"fmt"
	"strings"

	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/spf13/cobra"
)

var epicDescription string

var epicCmd = &cobra.Command{
	Use:   "epic",
	Short: "Group tasks under epics",
}

var epicAddCmd = &cobra.Command{
	Use:     "add [title]",
	Aliases: []string{"create"},
	Short:   "Create an epic",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runEpicAdd,
}

var epicLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List epics",
	RunE:    runEpicLs,
}

var epicShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show an epic and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicShow,
}

var epicApproveCmd = &cobra.Command{
	Use:   "approve [id]",
	Short: "Mark an epic approved",
	Args:  cobra.ExactArgs(1),
	RunE:  setEpicStatusCmd(store.EpicApproved),
}

var epicRejectCmd = &cobra.Command{
	Use:   "reject [id]",
	Short: "Mark an epic rejected",
	Args:  cobra.ExactArgs(1),
	RunE:  setEpicStatusCmd(store.EpicRejected),
}

var epicReviewedCmd = &cobra.Command{
	Use:   "reviewed [id]",
	Short: "Mark an epic reviewed",
	Args:  cobra.ExactArgs(1),
	RunE:  setEpicStatusCmd(store.EpicReviewed),
}

var epicRmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete an epic, leaving its tasks unlinked",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpicRm,
}

func init() {
	epicAddCmd.Flags().StringVarP(&epicDescription, "description", "d", "", "Epic description")

	epicCmd.AddCommand(epicAddCmd)
	epicCmd.AddCommand(epicLsCmd)
	epicCmd.AddCommand(epicShowCmd)
	epicCmd.AddCommand(epicApproveCmd)
	epicCmd.AddCommand(epicRejectCmd)
	epicCmd.AddCommand(epicReviewedCmd)
	epicCmd.AddCommand(epicRmCmd)
}

func runEpicAdd(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	epic, err := st.CreateEpic(strings.Join(args, " "), epicDescription)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(epic)
	}
	fmt.Printf("Created %s: %s\n", epic.ID, epic.Title)
	return nil
}

func runEpicLs(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	epics, err := st.ListEpics()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(epics)
	}
	if len(epics) == 0 {
		fmt.Println("No epics.")
		return nil
	}
	for i := range epics {
		e := &epics[i]
		fmt.Printf("%s  [%s]  %s\n", e.ID, e.Status, e.Title)
	}
	return nil
}

func runEpicShow(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	epic, err := st.FindEpic(args[0])
	if err != nil {
		return err
	}
	tasks, err := st.EpicTasks(epic.ID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{"epic": epic, "tasks": tasks})
	}

	fmt.Printf("%s  %s  [%s]\n", epic.ID, epic.Title, epic.Status)
	if epic.Description != "" {
		fmt.Printf("  %s\n", epic.Description)
	}
	for i := range tasks {
		fmt.Printf("  %s\n", taskLine(&tasks[i]))
	}
	return nil
}

func setEpicStatusCmd(status store.EpicStatus) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, _, err := mustStore()
		if err != nil {
			return err
		}
		defer st.Close()

		epic, err := st.SetEpicStatus(args[0], status)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(epic)
		}
		fmt.Printf("%s is now %s\n", epic.ID, epic.Status)
		return nil
	}
}

func runEpicRm(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	epic, err := st.FindEpic(args[0])
	if err != nil {
		return err
	}
	if err := st.DeleteEpic(epic.ID); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]string{"deleted": epic.ID})
	}
	fmt.Printf("Deleted %s: %s (tasks kept, unlinked)\n", epic.ID, epic.Title)
	return nil
}
