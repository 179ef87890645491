package cli

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ashleyhindle/fuel/internal/consume"
	"github.com/ashleyhindle/fuel/internal/ipc"
	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/ashleyhindle/fuel/internal/tui"
	"github.com/ashleyhindle/fuel/internal/workspace"
	"github.com/spf13/cobra"
)

var boardWatch bool

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the board",
	Long:  "Renders the board once, or live with --watch. Uses the running daemon's view when available.",
	RunE:  runBoard,
}

func init() {
	boardCmd.Flags().BoolVarP(&boardWatch, "watch", "w", false, "Refresh the board live")
}

// fetchSnapshot asks the daemon first and falls back to reading the
// store directly when no daemon is running.
func fetchSnapshot(fctx workspace.FuelContext) (*consume.Snapshot, error) {
	if pf, err := consume.ReadPIDFile(fctx.PIDPath()); err == nil {
		var snap consume.Snapshot
		if err := ipc.Call(pf.Port, "snapshot", nil, &snap); err == nil {
			return &snap, nil
		}
	}
	return localSnapshot(fctx)
}

// localSnapshot builds a daemon-free board view straight from the
// store: same shape, no health or instance data.
func localSnapshot(fctx workspace.FuelContext) (*consume.Snapshot, error) {
	st, err := store.New(fctx.DBPath())
	if err != nil {
		return nil, err
	}
	defer st.Close()

	snap := &consume.Snapshot{}
	if snap.Ready, err = st.Ready(); err != nil {
		return nil, err
	}

	inProgress, err := st.All(store.TaskFilter{Status: store.StatusInProgress})
	if err != nil {
		return nil, err
	}
	for _, t := range inProgress {
		entry := consume.InProgressEntry{Task: t}
		if run, err := st.LatestRun(t.ID); err == nil {
			entry.Run = run
			entry.Duration = run.Duration().Round(time.Second).String()
		}
		snap.InProgress = append(snap.InProgress, entry)
	}

	inReview, err := st.All(store.TaskFilter{Status: store.StatusReview})
	if err != nil {
		return nil, err
	}
	for _, t := range inReview {
		snap.Review = append(snap.Review, consume.ReviewEntry{Task: t})
	}

	if snap.Blocked, err = st.Blocked(); err != nil {
		return nil, err
	}

	humans, err := st.All(store.TaskFilter{Labels: []string{"needs-human"}})
	if err != nil {
		return nil, err
	}
	for _, t := range humans {
		if t.Status == store.StatusClosed {
			continue
		}
		snap.Human = append(snap.Human, consume.HumanEntry{Task: t, Reason: t.Description})
	}

	if snap.Done, err = st.RecentClosed(10); err != nil {
		return nil, err
	}
	return snap, nil
}

func runBoard(cmd *cobra.Command, args []string) error {
	fctx, err := fuelContext()
	if err != nil {
		return err
	}

	if boardWatch {
		model := tui.New(func() (*consume.Snapshot, error) {
			return fetchSnapshot(fctx)
		})
		p := tea.NewProgram(model, tea.WithAltScreen())
		_, err := p.Run()
		return err
	}

	snap, err := fetchSnapshot(fctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(snap)
	}
	fmt.Print(tui.RenderBoard(snap))
	return nil
}
