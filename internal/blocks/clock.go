package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"statbar/internal/widget"
)

// ClockConfig are the options of the "clock" block.
type ClockConfig struct {
	// Format is a Go time layout.
	Format string `json:"format,omitempty"`
	// Timezone is an IANA name; empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

type clockBlock struct {
	id       int
	interval Directive
	format   string
	loc      *time.Location
}

func newClock(id int, interval Directive, opts json.RawMessage, _ Deps) (Block, error) {
	cfg, err := DecodeOptions[ClockConfig](opts)
	if err != nil {
		return nil, err
	}

	format := cfg.Format
	if format == "" {
		format = "Mon 02 Jan 15:04:05"
	}
	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
	}

	return &clockBlock{
		id:       id,
		interval: interval.Or(Every(time.Second)),
		format:   format,
		loc:      loc,
	}, nil
}

func (b *clockBlock) ID() int             { return b.id }
func (b *clockBlock) Interval() Directive { return b.interval }

func (b *clockBlock) Render(_ context.Context) ([]widget.Widget, error) {
	return []widget.Widget{{Text: time.Now().In(b.loc).Format(b.format)}}, nil
}

func (b *clockBlock) Signal(int) error       { return nil }
func (b *clockBlock) Click(ClickEvent) error { return nil }
