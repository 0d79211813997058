package events

import (
	"sort"

	"statbar/internal/blocks"
	"statbar/pkg/logx"
)

// Router demultiplexes external stimuli to the owning block. Delivery is
// fire-and-forget: a failing handler is logged and never stops delivery to
// other subscribers or the process.
type Router struct {
	log  logx.Logger
	byID map[int]blocks.Block
	subs map[int][]blocks.Block
}

// NewRouter derives the signal subscription map from the blocks' declared
// subscriptions. Subscriptions are pre-validated by the config layer.
func NewRouter(bs []blocks.Block, log logx.Logger) *Router {
	r := &Router{
		log:  log,
		byID: make(map[int]blocks.Block, len(bs)),
		subs: map[int][]blocks.Block{},
	}
	for _, b := range bs {
		r.byID[b.ID()] = b
		if sub, ok := b.(blocks.SignalSubscriber); ok {
			for _, n := range sub.Signals() {
				r.subs[n] = append(r.subs[n], b)
			}
		}
	}
	return r
}

// Click dispatches a bar-host click to the block it addresses.
func (r *Router) Click(ev blocks.ClickEvent) {
	b, ok := r.byID[ev.BlockID]
	if !ok {
		r.log.Debug("click for unknown block", logx.Int("block", ev.BlockID))
		return
	}
	if err := b.Click(ev); err != nil {
		r.log.Warn("click handler failed", logx.Int("block", ev.BlockID), logx.Err(err))
	}
}

// Signal delivers a signal offset to every subscribed block.
func (r *Router) Signal(sig int) {
	for _, b := range r.subs[sig] {
		if err := b.Signal(sig); err != nil {
			r.log.Warn("signal handler failed",
				logx.Int("block", b.ID()), logx.Int("signal", sig), logx.Err(err))
		}
	}
}

// Subscribed returns the distinct subscribed signal offsets, sorted. The
// listener uses it to decide which realtime signals to install handlers for.
func (r *Router) Subscribed() []int {
	out := make([]int, 0, len(r.subs))
	for n := range r.subs {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
