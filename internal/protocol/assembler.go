package protocol

import (
	"strconv"
	"sync"

	"statbar/internal/widget"
)

// Assembler keeps the latest render output per block and rebuilds the full
// frame on every change.
//
// Frame order is always configuration order (block ids are assigned in
// declaration order), never render-completion order. Rebuilding is O(number
// of blocks), which is fine because frames are only emitted on change.
type Assembler struct {
	mu      sync.Mutex
	outputs [][]widget.Widget
	w       *Writer
}

func NewAssembler(numBlocks int, w *Writer) *Assembler {
	return &Assembler{outputs: make([][]widget.Widget, numBlocks), w: w}
}

// Update replaces one block's output and emits the resulting frame.
func (a *Assembler) Update(id int, ws []widget.Widget) {
	a.mu.Lock()
	if id < 0 || id >= len(a.outputs) {
		a.mu.Unlock()
		return
	}
	a.outputs[id] = ws
	items := a.buildLocked()
	a.mu.Unlock()

	a.w.emit(items)
}

func (a *Assembler) buildLocked() []barItem {
	items := make([]barItem, 0, len(a.outputs))
	for id, ws := range a.outputs {
		for wi, wdg := range ws {
			text := wdg.Text
			if wdg.Icon != "" {
				text = wdg.Icon + " " + text
			}
			items = append(items, barItem{
				Name:     strconv.Itoa(id),
				Instance: strconv.Itoa(wi),
				FullText: text,
				Color:    colorFor(wdg.State),
				Urgent:   wdg.State == widget.StateCritical,
			})
		}
	}
	return items
}
