package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"statbar/internal/widget"
	"statbar/pkg/logx"
)

// barItem is one display object in the i3bar JSON stream.
type barItem struct {
	Name     string `json:"name"`
	Instance string `json:"instance,omitempty"`
	FullText string `json:"full_text"`
	Color    string `json:"color,omitempty"`
	Urgent   bool   `json:"urgent,omitempty"`
}

// Default state palette. Theming proper lives with the bar host; this is
// only the minimal severity encoding the protocol needs.
func colorFor(st widget.State) string {
	switch st {
	case widget.StateInfo:
		return "#88c0d0"
	case widget.StateGood:
		return "#a3be8c"
	case widget.StateWarning:
		return "#ebcb8b"
	case widget.StateCritical, widget.StateError:
		return "#bf616a"
	default:
		return ""
	}
}

// Writer serializes frames to the bar host as one atomic write each.
//
// Frames are emitted on change, not on a tick; a burst of render
// completions is coalesced by the rate limiter: intermediate frames are
// replaced by newer ones and the latest frame is always flushed once the
// limiter allows, so the bar never ends up stale.
type Writer struct {
	log logx.Logger

	mu         sync.Mutex
	w          io.Writer
	limiter    *rate.Limiter // nil = unlimited
	pending    []barItem
	flushArmed bool

	clickEvents bool
}

// NewWriter wraps the bar host's stream. maxFrameRate caps emitted frames
// per second (0 = unlimited).
func NewWriter(w io.Writer, maxFrameRate int, clickEvents bool, log logx.Logger) *Writer {
	var lim *rate.Limiter
	if maxFrameRate > 0 {
		lim = rate.NewLimiter(rate.Limit(maxFrameRate), 1)
	}
	return &Writer{log: log, w: w, limiter: lim, clickEvents: clickEvents}
}

// WriteHeader emits the protocol preamble: the version object, the opening
// of the infinite frame array, and an empty first frame.
func (wr *Writer) WriteHeader() error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	header := struct {
		Version     int  `json:"version"`
		ClickEvents bool `json:"click_events"`
	}{Version: 1, ClickEvents: wr.clickEvents}

	b, err := json.Marshal(header)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(wr.w, "%s\n[\n[]\n", b)
	return err
}

// emit replaces the pending frame and writes it out, subject to the rate
// limit. Called by the assembler on every output change.
func (wr *Writer) emit(items []barItem) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	wr.pending = items
	if wr.limiter == nil || wr.limiter.Allow() {
		wr.writeLocked()
		return
	}
	if wr.flushArmed {
		// A flush is already scheduled; it will pick up the newer frame.
		return
	}
	wr.flushArmed = true
	delay := wr.limiter.Reserve().Delay()
	time.AfterFunc(delay, wr.flush)
}

func (wr *Writer) flush() {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.flushArmed = false
	wr.writeLocked()
}

func (wr *Writer) writeLocked() {
	b, err := json.Marshal(wr.pending)
	if err != nil {
		wr.log.Error("frame marshal failed", logx.Err(err))
		return
	}
	// One write per frame; a broken pipe means the bar host went away and
	// the process layer will notice on shutdown.
	if _, err := fmt.Fprintf(wr.w, ",%s\n", b); err != nil {
		wr.log.Error("frame write failed", logx.Err(err))
	}
}
