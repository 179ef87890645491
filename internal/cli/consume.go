package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashleyhindle/fuel/internal/consume"
	"github.com/ashleyhindle/fuel/internal/health"
	"github.com/ashleyhindle/fuel/internal/ipc"
	"github.com/ashleyhindle/fuel/internal/workspace"
	"github.com/spf13/cobra"
)

var (
	consumeVerbose  bool
	consumeGraceful bool
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run and control the task-consuming daemon",
}

var consumeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the consume daemon in the foreground",
	RunE:  runConsumeStart,
}

var consumeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running daemon to shut down",
	RunE:  runConsumeStop,
}

var consumeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running and what it is doing",
	RunE:  runConsumeStatus,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show per-agent health from the running daemon",
	RunE:  runHealth,
}

func init() {
	consumeStartCmd.Flags().BoolVarP(&consumeVerbose, "verbose", "v", false, "Debug-level logging")
	consumeStopCmd.Flags().BoolVar(&consumeGraceful, "graceful", false, "Let in-flight agents finish before stopping")

	consumeCmd.AddCommand(consumeStartCmd)
	consumeCmd.AddCommand(consumeStopCmd)
	consumeCmd.AddCommand(consumeStatusCmd)
}

func runConsumeStart(cmd *cobra.Command, args []string) error {
	st, fctx, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	cfg, err := mustConfig(fctx)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if consumeVerbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	d := consume.New(fctx, st, cfg, log, consume.Options{})
	err = d.Run()
	if errors.Is(err, consume.ErrAlreadyRunning) {
		return fmt.Errorf("consume daemon already running (see .fuel/consume.pid)")
	}
	return err
}

// daemonPort prefers the port recorded in the PID file of the running
// daemon over the configured one, so stop/status reach the right
// instance after a config edit.
func daemonPort(fctx workspace.FuelContext) (int, error) {
	if pf, err := consume.ReadPIDFile(fctx.PIDPath()); err == nil && pf.Port > 0 {
		return pf.Port, nil
	}
	cfg, err := mustConfig(fctx)
	if err != nil {
		return 0, err
	}
	return cfg.Consume.PortOrDefault(), nil
}

func runConsumeStop(cmd *cobra.Command, args []string) error {
	fctx, err := fuelContext()
	if err != nil {
		return err
	}
	port, err := daemonPort(fctx)
	if err != nil {
		return err
	}

	var out map[string]bool
	if err := ipc.Call(port, "stop", map[string]bool{"graceful": consumeGraceful}, &out); err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	if jsonOut {
		return printJSON(out)
	}
	if consumeGraceful {
		fmt.Println("Stopping (graceful): in-flight agents get a chance to finish.")
	} else {
		fmt.Println("Stopping.")
	}
	return nil
}

func runConsumeStatus(cmd *cobra.Command, args []string) error {
	fctx, err := fuelContext()
	if err != nil {
		return err
	}

	pf, err := consume.ReadPIDFile(fctx.PIDPath())
	if err != nil {
		if jsonOut {
			return printJSON(map[string]any{"running": false})
		}
		fmt.Println("Daemon is not running.")
		return nil
	}

	var snap consume.Snapshot
	if err := ipc.Call(pf.Port, "snapshot", nil, &snap); err != nil {
		if jsonOut {
			return printJSON(map[string]any{"running": false, "stale_pid_file": true})
		}
		fmt.Printf("Daemon not reachable (stale PID file, pid %d).\n", pf.PID)
		return nil
	}

	if jsonOut {
		return printJSON(map[string]any{"running": true, "pid": pf.PID, "snapshot": snap})
	}

	fmt.Printf("Daemon running: pid %d, instance %s, up %s\n", pf.PID, snap.InstanceID, snap.Uptime)
	fmt.Printf("  ready %d | in progress %d | review %d | blocked %d | needs human %d\n",
		len(snap.Ready), len(snap.InProgress), len(snap.Review), len(snap.Blocked), len(snap.Human))
	for _, h := range snap.Health {
		fmt.Printf("  agent %s: %s (%d/%d ok)\n", h.Agent, h.Status, h.Successes, h.Spawns)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	fctx, err := fuelContext()
	if err != nil {
		return err
	}
	port, err := daemonPort(fctx)
	if err != nil {
		return err
	}

	var agents []health.AgentHealth
	if err := ipc.Call(port, "health", nil, &agents); err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	if jsonOut {
		return printJSON(agents)
	}
	if len(agents) == 0 {
		fmt.Println("No agents have run yet.")
		return nil
	}
	for _, h := range agents {
		line := fmt.Sprintf("%s  %s  spawns %d  ok %d  failed %d", h.Agent, h.Status, h.Spawns, h.Successes, h.Failures)
		if h.CooldownUntil != nil {
			line += fmt.Sprintf("  cooldown until %s", h.CooldownUntil.Format("15:04:05"))
		}
		fmt.Println(line)
	}
	return nil
}
