package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Load reads and strictly decodes the config file. YAML is coerced to JSON
// first so both formats share the unknown-field rejection.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Blocks) == 0 {
		return fmt.Errorf("no blocks configured")
	}
	if c.Bar.MaxFrameRate < 0 {
		return fmt.Errorf("bar.max_frame_rate must be >= 0")
	}
	for i, b := range c.Blocks {
		if strings.TrimSpace(b.Kind) == "" {
			return fmt.Errorf("blocks[%d]: kind is required", i)
		}
	}
	return nil
}

// ResolveShell picks the shell command blocks run under.
func (c *Config) ResolveShell() string {
	if s := strings.TrimSpace(c.Bar.Shell); s != "" {
		return s
	}
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "sh"
}
