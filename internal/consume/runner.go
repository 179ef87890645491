package consume

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/health"
	"github.com/ashleyhindle/fuel/internal/ipc"
	"github.com/ashleyhindle/fuel/internal/proc"
	"github.com/ashleyhindle/fuel/internal/prompt"
	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/ashleyhindle/fuel/internal/workspace"
)

// Daemon is the consume supervisor: a single-threaded cooperative loop
// that owns all scheduling state. Concurrency comes only from the child
// processes; IPC commands are marshalled onto the loop through the
// server's queue.
type Daemon struct {
	log     *slog.Logger
	fctx    workspace.FuelContext
	st      *store.Store
	cfg     *config.Config
	procs   *proc.Manager
	health  *health.Tracker
	prompts *prompt.Builder
	life    *Lifecycle
	server  *ipc.Server

	agentChildren  map[int64]childRef
	reviewChildren map[int64]reviewRef
	reviewQueue    []queuedReview

	tickInterval time.Duration
	grace        time.Duration
	draining     bool
	hardStop     bool
}

// Options tune the loop. Zero values get defaults.
type Options struct {
	TickInterval time.Duration // default 1s
	Grace        time.Duration // graceful-shutdown deadline, default 30s
}

// New assembles a daemon over an initialized workspace.
func New(fctx workspace.FuelContext, st *store.Store, cfg *config.Config, log *slog.Logger, opts Options) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}

	return &Daemon{
		log:            log,
		fctx:           fctx,
		st:             st,
		cfg:            cfg,
		procs:          proc.NewManager(log),
		health:         health.New(cfg.Consume.MaxAgentAttemptsOrDefault(), cfg.Consume.CooldownOrDefault()),
		prompts:        prompt.New(fctx.RealityPath()),
		life:           NewLifecycle(fctx.PIDPath(), fctx.LockPath()),
		agentChildren:  map[int64]childRef{},
		reviewChildren: map[int64]reviewRef{},
		tickInterval:   opts.TickInterval,
		grace:          opts.Grace,
	}
}

// Run starts the daemon and blocks until shutdown completes. Returns nil
// on a graceful exit.
func (d *Daemon) Run() error {
	port := d.cfg.Consume.PortOrDefault()

	if err := d.life.Start(port); err != nil {
		return err
	}
	defer d.life.Cleanup()

	server, err := ipc.NewServer(port, d.log)
	if err != nil {
		return err
	}
	d.server = server
	go server.Serve()
	defer server.Close()

	d.procs.RegisterSignalHandlers()
	d.requeueOrphanedReviews()
	d.log.Info("consume daemon started",
		"instance_id", d.life.InstanceID, "port", port, "tick", d.tickInterval)

	for {
		if d.procs.IsShuttingDown() {
			d.drain()
			d.log.Info("consume daemon stopped", "instance_id", d.life.InstanceID)
			return nil
		}
		d.tick()

		// Sleep until the next tick or the next IPC command, whichever
		// comes first.
		select {
		case env := <-server.Queue():
			d.handleIPC(env)
		case <-time.After(d.tickInterval):
		}
	}
}

// tick is one pass of the scheduling loop: reap children, run reviews,
// admit ready work, service queued IPC.
func (d *Daemon) tick() {
	for _, c := range d.procs.Poll() {
		d.routeCompletion(c)
	}

	d.processReviews()

	if !d.draining {
		d.admitReady()
	}

	d.serviceIPC()
}

// routeCompletion hands a reaped child to the completion handler or the
// review manager depending on which set it belongs to.
func (d *Daemon) routeCompletion(c proc.Completion) {
	if ref, ok := d.agentChildren[c.ChildID]; ok {
		delete(d.agentChildren, c.ChildID)
		d.handleCompletion(ref, c)
		return
	}
	if ref, ok := d.reviewChildren[c.ChildID]; ok {
		delete(d.reviewChildren, c.ChildID)
		d.handleReviewCompletion(ref, c)
		return
	}
	d.log.Warn("completion for unknown child", "child_id", c.ChildID, "agent", c.Agent)
}

// admitReady walks the ready list in store order and launches everything
// health and the per-agent caps allow.
func (d *Daemon) admitReady() {
	ready, err := d.st.Ready()
	if err != nil {
		d.log.Error("load ready tasks", "error", err)
		return
	}

	for i := range ready {
		res := d.tryLaunch(&ready[i])
		if res.Spawned {
			continue
		}
		switch res.Reason {
		case "at_cap", "cooldown", "lost_claim":
			// Expected back-pressure; try again next tick.
		default:
			d.log.Warn("task not admitted", "task", ready[i].ID, "reason", res.Reason)
		}
	}
}

// serviceIPC handles one batch of queued commands without blocking.
func (d *Daemon) serviceIPC() {
	if d.server == nil {
		return
	}
	for {
		select {
		case env := <-d.server.Queue():
			d.handleIPC(env)
		default:
			return
		}
	}
}

// stopArgs decodes the stop command's arguments.
type stopArgs struct {
	Graceful bool `json:"graceful"`
}

// handleIPC executes one control command on the loop and replies.
func (d *Daemon) handleIPC(env ipc.Envelope) {
	env.Reply <- d.execIPC(env.Req)
}

func (d *Daemon) execIPC(req ipc.Request) ipc.Response {
	switch {
	case req.Cmd == "ping":
		return ipc.Ok("pong")

	case req.Cmd == "snapshot":
		snap, err := d.BuildSnapshot()
		if err != nil {
			return ipc.Fail(err.Error())
		}
		return ipc.Ok(snap)

	case req.Cmd == "stop":
		var args stopArgs
		if len(req.Args) > 0 {
			if err := json.Unmarshal(req.Args, &args); err != nil {
				return ipc.Fail("bad stop args: " + err.Error())
			}
		}
		d.hardStop = !args.Graceful
		d.procs.RequestShutdown()
		return ipc.Ok(map[string]bool{"stopping": true, "graceful": args.Graceful})

	case req.Cmd == "stuck":
		stuck, err := d.st.Stuck()
		if err != nil {
			return ipc.Fail(err.Error())
		}
		return ipc.Ok(stuck)

	case req.Cmd == "health":
		return ipc.Ok(d.health.All())

	case strings.HasPrefix(req.Cmd, "browser."):
		return ipc.Fail("browser co-daemon is not connected")

	default:
		return ipc.Fail(fmt.Sprintf("unknown command %q", req.Cmd))
	}
}

// drain finishes the daemon: no new spawns, soft-terminate children,
// process whatever completes before the grace deadline, force-kill the
// rest, and clean up.
func (d *Daemon) drain() {
	d.draining = true

	grace := d.grace
	if d.hardStop {
		grace = 0
	}
	d.log.Info("draining", "children", len(d.procs.ActiveProcesses()), "grace", grace)

	for _, c := range d.procs.Shutdown(grace) {
		d.routeCompletion(c)
	}
}
