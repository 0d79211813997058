package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"statbar/internal/blocks"
	"statbar/internal/runtime/supervisor"
	"statbar/internal/widget"
	"statbar/pkg/logx"
)

// Output receives a block's latest render output. Implemented by the
// protocol frame assembler.
type Output interface {
	Update(id int, ws []widget.Widget)
}

// EventRouter dispatches external stimuli to the owning blocks. Called
// synchronously from the coordinator; handlers must return quickly.
type EventRouter interface {
	Click(ev blocks.ClickEvent)
	Signal(sig int)
}

type renderResult struct {
	id       int
	widgets  []widget.Widget
	err      error
	finished time.Time
}

// Scheduler drives all block renders. A single coordinator goroutine owns
// the task queue, the in-flight set and the cached outputs; renders run on
// worker goroutines and hand their results back over a channel, so no state
// is mutated outside the coordinator.
type Scheduler struct {
	log    logx.Logger
	blocks []blocks.Block
	byID   map[int]blocks.Block

	queue    *TaskQueue
	requests <-chan blocks.Task

	clicks  chan blocks.ClickEvent
	signals chan int
	refresh chan struct{}

	completions chan renderResult
	inflight    map[int]bool
	// deferred marks blocks whose due time fired mid-render; the completion
	// re-upserts them so a request landing during a render is delayed, not
	// lost.
	deferred map[int]bool

	router EventRouter
	out    Output
	sup    *supervisor.Supervisor
}

// New builds a scheduler over the configured blocks. The requests channel is
// the re-render channel blocks enqueue into (see RequestSender); the
// scheduler is its sole consumer.
func New(bs []blocks.Block, router EventRouter, out Output, requests <-chan blocks.Task, log logx.Logger) *Scheduler {
	byID := make(map[int]blocks.Block, len(bs))
	for _, b := range bs {
		byID[b.ID()] = b
	}
	return &Scheduler{
		log:         log,
		blocks:      bs,
		byID:        byID,
		queue:       NewTaskQueue(),
		requests:    requests,
		clicks:      make(chan blocks.ClickEvent, 16),
		signals:     make(chan int, 16),
		refresh:     make(chan struct{}, 1),
		completions: make(chan renderResult, len(bs)+1),
		inflight:    map[int]bool{},
		deferred:    map[int]bool{},
		router:      router,
		out:         out,
	}
}

// RequestSender wraps the re-render channel in the non-blocking enqueue
// discipline blocks are handed: a full channel drops the request with a
// warning. A dropped request only delays an update for periodic blocks;
// for on-demand blocks it is an accepted missed cycle.
func RequestSender(ch chan<- blocks.Task, log logx.Logger) blocks.RequestFunc {
	return func(t blocks.Task) {
		select {
		case ch <- t:
		default:
			log.Warn("re-render request dropped (queue full)", logx.Int("block", t.BlockID))
		}
	}
}

// Clicks is the inbound click channel fed by the protocol reader.
func (s *Scheduler) Clicks() chan<- blocks.ClickEvent { return s.clicks }

// Signals is the inbound channel for block-addressed signal offsets.
func (s *Scheduler) Signals() chan<- int { return s.signals }

// RefreshAll marks every block due immediately (SIGUSR1 behavior).
func (s *Scheduler) RefreshAll() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Run is the coordinator loop. It returns when ctx is canceled; in-flight
// renders are given a short grace period to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))

	// Initial full render: every block is due at startup, whatever its
	// directive. Once and OnDemand blocks simply never reschedule.
	now := time.Now()
	for _, b := range s.blocks {
		s.queue.Upsert(b.ID(), now)
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		var timerC <-chan time.Time
		if due, ok := s.queue.PeekDue(); ok {
			wait := time.Until(due)
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
			timerC = timer.C
		}
		// With an empty queue (all blocks on demand, nothing requested) the
		// loop blocks on events alone.

		select {
		case <-ctx.Done():
			return s.drain()

		case <-timerC:
			s.fireDue(time.Now())

		case t := <-s.requests:
			s.queue.Upsert(t.BlockID, t.DueAt)

		case ev := <-s.clicks:
			s.router.Click(ev)

		case sig := <-s.signals:
			s.router.Signal(sig)

		case <-s.refresh:
			now := time.Now()
			for _, b := range s.blocks {
				s.queue.Upsert(b.ID(), now)
			}

		case res := <-s.completions:
			s.complete(res)
		}
	}
}

// fireDue starts renders for every task due at now. Several blocks may be
// due at once; pop order (and so render start order) is deterministic.
func (s *Scheduler) fireDue(now time.Time) {
	for {
		id, ok := s.queue.PopDue(now)
		if !ok {
			return
		}
		if s.inflight[id] {
			// Coalesce: never two renders of the same block. The completion
			// handler re-arms the fire.
			s.deferred[id] = true
			continue
		}
		s.startRender(id)
	}
}

func (s *Scheduler) startRender(id int) {
	b := s.byID[id]
	if b == nil {
		s.log.Error("no block for scheduled task", logx.Int("block", id))
		return
	}
	s.inflight[id] = true

	s.sup.Go0("render."+strconv.Itoa(id), func(ctx context.Context) {
		res := renderResult{id: id}
		func() {
			defer func() {
				if r := recover(); r != nil {
					res.err = fmt.Errorf("render panicked: %v", r)
				}
			}()
			res.widgets, res.err = b.Render(ctx)
		}()
		res.finished = time.Now()

		select {
		case s.completions <- res:
		case <-ctx.Done():
		}
	})
}

// complete runs on the coordinator: store output, reschedule per directive,
// emit. A failed render becomes that block's error widget and never stops
// the loop or other blocks.
func (s *Scheduler) complete(res renderResult) {
	delete(s.inflight, res.id)

	widgets := res.widgets
	if res.err != nil {
		s.log.Warn("render failed", logx.Int("block", res.id), logx.Err(res.err))
		widgets = []widget.Widget{widget.Error(res.err)}
	}
	s.out.Update(res.id, widgets)

	if s.deferred[res.id] {
		delete(s.deferred, res.id)
		s.queue.Upsert(res.id, res.finished)
	}
	if next, ok := s.byID[res.id].Interval().Next(res.finished); ok {
		s.queue.Upsert(res.id, next)
	}
}

func (s *Scheduler) drain() error {
	s.sup.Cancel()
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// A render that never returns stalls only its own block; don't let it
	// stall shutdown either.
	_ = s.sup.Wait(waitCtx)
	return nil
}
