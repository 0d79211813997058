package blocks

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Factory builds one block instance. The interval is already parsed by the
// config layer; an unset interval means the kind's default applies.
type Factory func(id int, interval Directive, opts json.RawMessage, deps Deps) (Block, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{
		"custom":    newCustom,
		"clock":     newClock,
		"watchfile": newWatchFile,
		"speedtest": newSpeedtest,
		"service":   newService,
	}
)

// Register adds a block kind. Registering an existing kind panics: kinds are
// wired at init time and a collision is a programming error.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic("blocks: duplicate kind " + kind)
	}
	registry[kind] = f
}

// New instantiates a configured block by kind name.
func New(kind string, id int, interval Directive, opts json.RawMessage, deps Deps) (Block, error) {
	regMu.RLock()
	f, ok := registry[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown block kind %q (known: %v)", kind, Kinds())
	}
	b, err := f(id, interval, opts, deps)
	if err != nil {
		return nil, fmt.Errorf("block %d (%s): %w", id, kind, err)
	}
	return b, nil
}

// Kinds lists registered kind names, sorted.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
