package config

import "encoding/json"

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Bar     BarConfig     `json:"bar"`
	Debug   DebugConfig   `json:"debug"`
	Blocks  []BlockConfig `json:"blocks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DebugConfig holds the optional observability surfaces.
type DebugConfig struct {
	Pprof PprofConfig `json:"pprof"`
}

type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
	// AllowInsecure permits binding to a non-loopback address.
	AllowInsecure bool `json:"allow_insecure,omitempty"`
}

type BarConfig struct {
	// ClickEvents asks the bar host to send click events back (default true).
	ClickEvents *bool `json:"click_events,omitempty"`
	// MaxFrameRate caps emitted frames per second; 0 means unlimited.
	MaxFrameRate int `json:"max_frame_rate,omitempty"`
	// Shell is the default shell for command blocks. Empty falls back to
	// $SHELL, then "sh".
	Shell string `json:"shell,omitempty"`
}

// BlockConfig is one entry of the ordered block list. Position in the list
// is the block's identifier and its position in every emitted frame.
type BlockConfig struct {
	Kind string `json:"kind"`
	// Interval is the update directive: a duration, "once", "ondemand" or a
	// cron spec ("cron:*/5 * * * *"). Empty applies the kind's default.
	Interval string `json:"interval,omitempty"`
	// Options are kind-specific and decoded by the block factory.
	Options json.RawMessage `json:"options,omitempty"`
}

func (b BarConfig) ClickEventsEnabled() bool {
	return b.ClickEvents == nil || *b.ClickEvents
}
