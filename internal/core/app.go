package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/coreos/go-systemd/v22/daemon"

	"statbar/internal/blocks"
	"statbar/internal/config"
	"statbar/internal/events"
	"statbar/internal/observability/pprof"
	"statbar/internal/protocol"
	"statbar/internal/runtime/supervisor"
	"statbar/internal/scheduler"
	"statbar/pkg/logx"
)

// App wires configuration into blocks, the scheduler and the protocol
// stream. Blocks are created once at startup and live for the process's
// lifetime; there is no hot reload.
type App struct {
	cfg  *config.Config
	log  logx.Logger
	logs *logx.Service
	sup  *supervisor.Supervisor

	blocks []blocks.Block
	router *events.Router
	writer *protocol.Writer
	asm    *protocol.Assembler
	sched  *scheduler.Scheduler
}

func NewApp(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfgPath, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	// The re-render channel: blocks enqueue, the scheduler consumes.
	requests := make(chan blocks.Task, 64)
	request := scheduler.RequestSender(requests, log)

	shell := cfg.ResolveShell()
	bs := make([]blocks.Block, 0, len(cfg.Blocks))
	for i, bc := range cfg.Blocks {
		directive, err := blocks.ParseDirective(bc.Interval)
		if err != nil {
			return nil, fmt.Errorf("blocks[%d] (%s): %w", i, bc.Kind, err)
		}
		b, err := blocks.New(bc.Kind, i, directive, bc.Options, blocks.Deps{
			Log:     log.With(logx.String("comp", "block"), logx.String("kind", bc.Kind), logx.Int("block", i)),
			Request: request,
			Shell:   shell,
		})
		if err != nil {
			return nil, err
		}
		bs = append(bs, b)
	}

	router := events.NewRouter(bs, log.With(logx.String("comp", "router")))
	writer := protocol.NewWriter(os.Stdout, cfg.Bar.MaxFrameRate, cfg.Bar.ClickEventsEnabled(),
		log.With(logx.String("comp", "protocol")))
	asm := protocol.NewAssembler(len(bs), writer)
	sched := scheduler.New(bs, router, asm, requests, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfg:    cfg,
		log:    log,
		logs:   logs,
		blocks: bs,
		router: router,
		writer: writer,
		asm:    asm,
		sched:  sched,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.writer.WriteHeader(); err != nil {
		return fmt.Errorf("writing protocol header: %w", err)
	}

	a.sup.Go("scheduler", a.sched.Run)

	// Blocks with their own background loop (file watchers) run under the
	// restart policy; a broken watcher self-heals with backoff.
	for _, b := range a.blocks {
		if st, ok := b.(blocks.Starter); ok {
			a.sup.GoRestart("block.start."+strconv.Itoa(b.ID()), st.Start)
		}
	}

	if a.cfg.Bar.ClickEventsEnabled() {
		clickLog := a.log.With(logx.String("comp", "clicks"))
		a.sup.GoRestart("clicks", func(ctx context.Context) error {
			return protocol.ReadClicks(ctx, bufio.NewScanner(os.Stdin), a.sched.Clicks(), clickLog)
		})
	}

	sigLog := a.log.With(logx.String("comp", "signals"))
	signals := a.sched.Signals()
	a.sup.Go("signals", func(ctx context.Context) error {
		return events.Listen(ctx, a.router.Subscribed(),
			func(offset int) {
				select {
				case signals <- offset:
				default:
					sigLog.Warn("signal dropped (queue full)", logx.Int("offset", offset))
				}
			},
			a.sched.RefreshAll,
			sigLog)
	})

	if a.cfg.Debug.Pprof.Enabled {
		srv := pprof.New(pprof.Config{
			Addr:          a.cfg.Debug.Pprof.Addr,
			Prefix:        a.cfg.Debug.Pprof.Prefix,
			AllowInsecure: a.cfg.Debug.Pprof.AllowInsecure,
			Enabled:       true,
		}, a.log.With(logx.String("comp", "pprof")))
		a.sup.GoRestart("pprof", srv.Run)
	}

	// Tell systemd we're up (no-op outside a Type=notify unit).
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("bar started", logx.Int("blocks", len(a.blocks)))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()
	err := a.sup.Wait(ctx)
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}
