package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"

	"statbar/internal/widget"
	"statbar/pkg/logx"
)

// ServiceConfig are the options of the "service" block: display a systemd
// unit's state.
type ServiceConfig struct {
	// Unit is the systemd unit name; ".service" is appended when no unit
	// type suffix is present.
	Unit string `json:"unit"`
	// User queries the session manager instead of the system one.
	User bool `json:"user,omitempty"`
	// ShowUptime appends how long the unit has been active.
	ShowUptime bool `json:"show_uptime,omitempty"`
	// Label overrides the displayed name (default: unit name without type).
	Label string `json:"label,omitempty"`
}

type serviceBlock struct {
	id       int
	interval Directive
	log      logx.Logger

	unit       string
	label      string
	user       bool
	showUptime bool

	// The D-Bus connection is opened lazily and reused across renders; a
	// failed query drops it so the next render reconnects.
	mu   sync.Mutex
	conn *dbus.Conn
}

func newService(id int, interval Directive, opts json.RawMessage, deps Deps) (Block, error) {
	cfg, err := DecodeOptions[ServiceConfig](opts)
	if err != nil {
		return nil, err
	}
	unit := strings.TrimSpace(cfg.Unit)
	if unit == "" {
		return nil, errors.New("`unit` is required")
	}
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}

	label := cfg.Label
	if label == "" {
		label = unit[:strings.LastIndexByte(unit, '.')]
	}

	return &serviceBlock{
		id:         id,
		interval:   interval.Or(Every(10 * time.Second)),
		log:        deps.Log,
		unit:       unit,
		label:      label,
		user:       cfg.User,
		showUptime: cfg.ShowUptime,
	}, nil
}

func (b *serviceBlock) ID() int             { return b.id }
func (b *serviceBlock) Interval() Directive { return b.interval }

func (b *serviceBlock) connect(ctx context.Context) (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	var (
		conn *dbus.Conn
		err  error
	)
	if b.user {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to systemd: %w", err)
	}
	b.conn = conn
	return conn, nil
}

func (b *serviceBlock) dropConn() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func (b *serviceBlock) Render(ctx context.Context) ([]widget.Widget, error) {
	conn, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	props, err := conn.GetUnitPropertiesContext(ctx, b.unit)
	if err != nil {
		b.dropConn()
		return nil, fmt.Errorf("querying %s: %w", b.unit, err)
	}

	load := stringProp(props, "LoadState")
	active := stringProp(props, "ActiveState")
	sub := stringProp(props, "SubState")

	if load == "not-found" {
		return []widget.Widget{{Text: b.label + " not found", State: widget.StateWarning}}, nil
	}

	text := b.label + " " + active
	state := widget.StateIdle
	switch active {
	case "active":
		state = widget.StateGood
		if b.showUptime {
			if since := timestampProp(props, "ActiveEnterTimestamp"); !since.IsZero() {
				text = fmt.Sprintf("%s up %s", b.label, shortDuration(time.Since(since)))
			}
		}
	case "failed":
		state = widget.StateCritical
	case "activating", "deactivating", "reloading":
		state = widget.StateWarning
		text = fmt.Sprintf("%s %s (%s)", b.label, active, sub)
	}

	return []widget.Widget{{Text: text, State: state}}, nil
}

func (b *serviceBlock) Signal(int) error       { return nil }
func (b *serviceBlock) Click(ClickEvent) error { return nil }

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

// systemd timestamps are microseconds since the Unix epoch; zero means never.
func timestampProp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

// shortDuration renders a duration the way a bar wants it: the two largest
// units, no sub-second noise.
func shortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		days := int(d.Hours()) / 24
		hours := int(d.Hours()) % 24
		return fmt.Sprintf("%dd%dh", days, hours)
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
