package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"statbar/internal/widget"
	"statbar/pkg/logx"
)

// CustomConfig are the options of the "custom" block: run a shell command
// and display its output.
type CustomConfig struct {
	// Command to execute and display.
	Command string `json:"command,omitempty"`

	// Cycle is a list of commands; a click advances to the next one.
	// Mutually exclusive with Command.
	Cycle []string `json:"cycle,omitempty"`

	// Signal subscribes the block to SIGRTMIN+n.
	Signal *int `json:"signal,omitempty"`

	// JSON parses command output as {"icon":..,"state":..,"text":..}.
	JSON bool `json:"json,omitempty"`

	// HideWhenEmpty renders nothing when the command prints nothing.
	HideWhenEmpty bool `json:"hide_when_empty,omitempty"`

	// OnClick spawns a detached child on click, then re-renders.
	OnClick string `json:"on_click,omitempty"`

	// Shell overrides the bar-wide default shell.
	Shell string `json:"shell,omitempty"`
}

type customBlock struct {
	id       int
	interval Directive
	log      logx.Logger
	request  RequestFunc

	shell         string
	command       string
	onClick       string
	signal        int // -1 when unsubscribed
	parseJSON     bool
	hideWhenEmpty bool

	// cycle position advances on click while a render may be reading it.
	mu       sync.Mutex
	cycle    []string
	cyclePos int
}

func newCustom(id int, interval Directive, opts json.RawMessage, deps Deps) (Block, error) {
	cfg, err := DecodeOptions[CustomConfig](opts)
	if err != nil {
		return nil, err
	}

	if cfg.Command != "" && len(cfg.Cycle) > 0 {
		return nil, errors.New("`command` and `cycle` are mutually exclusive")
	}
	if cfg.Command == "" && len(cfg.Cycle) == 0 {
		return nil, errors.New("one of `command` or `cycle` is required")
	}

	b := &customBlock{
		id:            id,
		interval:      interval.Or(Every(10 * time.Second)),
		log:           deps.Log,
		request:       deps.Request,
		shell:         cfg.Shell,
		command:       cfg.Command,
		onClick:       cfg.OnClick,
		signal:        -1,
		parseJSON:     cfg.JSON,
		hideWhenEmpty: cfg.HideWhenEmpty,
		cycle:         cfg.Cycle,
	}
	if b.shell == "" {
		b.shell = deps.Shell
	}
	if cfg.Signal != nil {
		if err := CheckSignal(*cfg.Signal); err != nil {
			return nil, err
		}
		b.signal = *cfg.Signal
	}
	return b, nil
}

func (b *customBlock) ID() int             { return b.id }
func (b *customBlock) Interval() Directive { return b.interval }

func (b *customBlock) Signals() []int {
	if b.signal < 0 {
		return nil
	}
	return []int{b.signal}
}

// commandOutput is the schema command output must follow in JSON mode.
type commandOutput struct {
	Icon  string       `json:"icon"`
	State widget.State `json:"state"`
	Text  string       `json:"text"`
}

func (b *customBlock) currentCommand() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.cycle) > 0 {
		return b.cycle[b.cyclePos]
	}
	return b.command
}

func (b *customBlock) Render(ctx context.Context) ([]widget.Widget, error) {
	cmdStr := b.currentCommand()

	out, err := exec.CommandContext(ctx, b.shell, "-c", cmdStr).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("command failed: %s", firstLine(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("command failed: %w", err)
	}
	text := strings.TrimSpace(string(out))

	w := widget.Widget{Text: text}
	if b.parseJSON {
		var parsed commandOutput
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return nil, fmt.Errorf("parsing command output: %w", err)
		}
		w = widget.Widget{Text: parsed.Text, Icon: parsed.Icon, State: parsed.State}
	}

	if w.Text == "" && b.hideWhenEmpty {
		return nil, nil
	}
	return []widget.Widget{w}, nil
}

func (b *customBlock) Signal(sig int) error {
	if b.signal >= 0 && sig == b.signal {
		b.request(Task{BlockID: b.id, DueAt: time.Now()})
	}
	return nil
}

func (b *customBlock) Click(_ ClickEvent) error {
	update := false

	if b.onClick != "" {
		if err := spawnDetached(b.shell, b.onClick); err != nil {
			b.log.Warn("on_click spawn failed", logx.Int("block", b.id), logx.Err(err))
		}
		update = true
	}

	b.mu.Lock()
	if len(b.cycle) > 0 {
		b.cyclePos = (b.cyclePos + 1) % len(b.cycle)
		update = true
	}
	b.mu.Unlock()

	if update {
		b.request(Task{BlockID: b.id, DueAt: time.Now()})
	}
	return nil
}

// spawnDetached starts a child without waiting for it; the reap goroutine
// just prevents zombies.
func spawnDetached(shell, command string) error {
	cmd := exec.Command(shell, "-c", command)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
