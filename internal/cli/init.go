package cli

import (
	"fmt"
	"os"

	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/ashleyhindle/fuel/internal/workspace"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize fuel in the current directory",
	Long:  "Creates .fuel/ with config and database, updates .gitignore and AGENTS.md. Safe to re-run.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	fctx := workspace.New(cwd)
	fresh := !fctx.Initialized()

	if err := fctx.EnsureDirs(); err != nil {
		return fmt.Errorf("create %s: %w", fctx.Dir(), err)
	}

	if _, err := os.Stat(fctx.ConfigPath()); os.IsNotExist(err) {
		if err := config.Save(fctx.ConfigPath(), config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}

	// Opening the store runs migrations.
	st, err := store.New(fctx.DBPath())
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	defer st.Close()

	if err := fctx.UpdateGitignore(); err != nil {
		return fmt.Errorf("update .gitignore: %w", err)
	}
	if err := fctx.WriteGuidelines(); err != nil {
		return fmt.Errorf("update AGENTS.md: %w", err)
	}

	// One starter task on first init only, so a second init never
	// duplicates it.
	if fresh {
		_, err := st.CreateTask(store.NewTask{
			Title:       "Edit .fuel/reality.md to describe this project",
			Description: "reality.md is injected into every agent prompt. Describe the stack, the conventions, and where things live.",
			Priority:    2,
			Labels:      []string{"needs-human"},
		})
		if err != nil {
			return fmt.Errorf("create starter task: %w", err)
		}
	}

	if jsonOut {
		return printJSON(map[string]any{"initialized": true, "dir": fctx.Dir()})
	}

	fmt.Println("Initialized fuel in .fuel/")
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit .fuel/config.yaml to configure your agents")
	fmt.Println("  2. Run: fuel add \"your first task\"")
	fmt.Println("  3. Run: fuel consume start")
	return nil
}
