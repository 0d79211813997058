package blocks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"statbar/internal/widget"
	"statbar/pkg/logx"
)

// Block is one configured unit of bar output. Implementations hold their own
// option-derived state; nothing outside the block reaches into it.
//
// Concurrency contract:
//   - Render may block on subprocesses or the network. The scheduler runs it
//     on its own goroutine and guarantees at most one in-flight Render per
//     block, but Renders of different blocks overlap freely.
//   - Signal and Click are invoked from the scheduler's coordinator while a
//     Render may be in flight, so any state shared with Render needs its own
//     guard. Both must return quickly; side effects that take time belong in
//     a requested re-render or a detached child process.
type Block interface {
	// ID is the block's stable identifier, assigned in configuration order.
	ID() int

	// Interval reports the block's update directive. Pure; queried after
	// every render to compute the next due time.
	Interval() Directive

	Render(ctx context.Context) ([]widget.Widget, error)

	// Signal is delivered when a subscribed signal number arrives.
	Signal(sig int) error

	// Click is delivered when the bar host reports a click on this block.
	Click(ev ClickEvent) error
}

// Starter is implemented by blocks that own a background loop (for example a
// file watcher). The app runs Start under the supervisor with restart.
type Starter interface {
	Start(ctx context.Context) error
}

// SignalSubscriber declares a block's signal subscriptions. The event router
// builds its signal map from this at construction; blocks without it never
// receive signal deliveries.
type SignalSubscriber interface {
	Signals() []int
}

// ClickEvent is a bar-host click already resolved to its block.
type ClickEvent struct {
	BlockID   int
	Button    int
	X, Y      int
	Modifiers []string
}

// Task is a scheduled due time for one block's next render.
type Task struct {
	BlockID int
	DueAt   time.Time
}

// RequestFunc enqueues an out-of-cycle re-render request. It never blocks;
// if the scheduler's request channel is full the request is dropped with a
// warning (a periodic block will still fire on its own cadence).
type RequestFunc func(Task)

// Deps is what every block factory receives beyond its own options.
type Deps struct {
	Log     logx.Logger
	Request RequestFunc
	// Shell is the default shell for command-running blocks ($SHELL fallback
	// resolved by the config layer).
	Shell string
}

// maxSignalOffset bounds configurable realtime signal offsets
// (SIGRTMIN+0 .. SIGRTMIN+maxSignalOffset).
const maxSignalOffset = 30

// CheckSignal validates a configured SIGRTMIN offset. Construction-time
// only; the scheduler and router assume subscriptions are already valid.
func CheckSignal(n int) error {
	if n < 0 || n > maxSignalOffset {
		return fmt.Errorf("signal offset %d out of range 0..%d", n, maxSignalOffset)
	}
	return nil
}

// DecodeOptions decodes a block's raw options into a typed struct,
// rejecting unknown fields so config typos surface at startup.
func DecodeOptions[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return out, fmt.Errorf("trailing data in options")
	}
	return out, nil
}
