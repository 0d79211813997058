package blocks

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"statbar/internal/widget"
	"statbar/pkg/logx"
)

// WatchFileConfig are the options of the "watchfile" block: display the
// first line of a file and re-render whenever the file changes.
type WatchFileConfig struct {
	Path string `json:"path"`
	// MaxLength truncates the displayed line (0 = no limit).
	MaxLength int `json:"max_length,omitempty"`
	// HideWhenMissing renders nothing instead of an error while the file
	// does not exist.
	HideWhenMissing bool `json:"hide_when_missing,omitempty"`
}

type watchFileBlock struct {
	id       int
	interval Directive
	log      logx.Logger
	request  RequestFunc

	path        string
	maxLength   int
	hideMissing bool
}

func newWatchFile(id int, interval Directive, opts json.RawMessage, deps Deps) (Block, error) {
	cfg, err := DecodeOptions[WatchFileConfig](opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("`path` is required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}

	return &watchFileBlock{
		id:          id,
		interval:    interval.Or(OnDemand()),
		log:         deps.Log,
		request:     deps.Request,
		path:        abs,
		maxLength:   cfg.MaxLength,
		hideMissing: cfg.HideWhenMissing,
	}, nil
}

func (b *watchFileBlock) ID() int             { return b.id }
func (b *watchFileBlock) Interval() Directive { return b.interval }

// Start watches the file's directory (watching the file itself breaks on
// rename-based writes) and requests a re-render on any change. Runs under
// the supervisor's restart loop; returning an error triggers a restart with
// backoff.
func (b *watchFileBlock) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(b.path)); err != nil {
		return err
	}

	base := filepath.Base(b.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				b.request(Task{BlockID: b.id, DueAt: time.Now()})
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			if err != nil {
				return err
			}
		}
	}
}

func (b *watchFileBlock) Render(_ context.Context) ([]widget.Widget, error) {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) && b.hideMissing {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := ""
	if sc.Scan() {
		line = strings.TrimSpace(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if b.maxLength > 0 && len(line) > b.maxLength {
		line = line[:b.maxLength]
	}
	return []widget.Widget{{Text: line}}, nil
}

func (b *watchFileBlock) Signal(int) error       { return nil }
func (b *watchFileBlock) Click(ClickEvent) error { return nil }
