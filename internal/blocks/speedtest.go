package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/showwin/speedtest-go/speedtest"

	"statbar/internal/widget"
	"statbar/pkg/logx"
)

// SpeedtestConfig are the options of the "speedtest" block. The block idles
// on a placeholder; a click arms a test and the following render runs it.
type SpeedtestConfig struct {
	// Full also runs download/upload tests; default is ping-only, which is
	// much faster and cheaper.
	Full bool `json:"full,omitempty"`
	// MaxConnections caps concurrent transfer connections in full mode.
	MaxConnections int `json:"max_connections,omitempty"`
	// Timeout bounds one full test run (Go duration string, default 2m).
	Timeout string `json:"timeout,omitempty"`
}

type speedResult struct {
	latency  time.Duration
	downMbps float64
	upMbps   float64
	server   string
	when     time.Time
}

type speedtestBlock struct {
	id       int
	interval Directive
	log      logx.Logger
	request  RequestFunc

	full    bool
	maxConn int
	timeout time.Duration

	// run is swappable so tests don't hit the network.
	run func(ctx context.Context) (speedResult, error)

	mu    sync.Mutex
	armed bool
	last  *speedResult
}

func newSpeedtest(id int, interval Directive, opts json.RawMessage, deps Deps) (Block, error) {
	cfg, err := DecodeOptions[SpeedtestConfig](opts)
	if err != nil {
		return nil, err
	}

	timeout := 2 * time.Minute
	if cfg.Timeout != "" {
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil || timeout <= 0 {
			return nil, fmt.Errorf("timeout: invalid duration %q", cfg.Timeout)
		}
	}

	b := &speedtestBlock{
		id:       id,
		interval: interval.Or(OnDemand()),
		log:      deps.Log,
		request:  deps.Request,
		full:     cfg.Full,
		maxConn:  cfg.MaxConnections,
		timeout:  timeout,
	}
	b.run = b.runTest
	return b, nil
}

func (b *speedtestBlock) ID() int             { return b.id }
func (b *speedtestBlock) Interval() Directive { return b.interval }

func (b *speedtestBlock) Render(ctx context.Context) ([]widget.Widget, error) {
	b.mu.Lock()
	armed := b.armed
	b.armed = false
	last := b.last
	b.mu.Unlock()

	if !armed {
		if last == nil {
			return []widget.Widget{{Text: "net: click to test", Icon: "⇅"}}, nil
		}
		return []widget.Widget{b.format(*last)}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err := b.run(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.last = &res
	b.mu.Unlock()

	b.log.Info("speedtest finished",
		logx.Int("block", b.id),
		logx.Duration("latency", res.latency),
		logx.Float64("down_mbps", res.downMbps),
		logx.Float64("up_mbps", res.upMbps),
		logx.String("server", res.server),
	)
	return []widget.Widget{b.format(res)}, nil
}

func (b *speedtestBlock) format(r speedResult) widget.Widget {
	text := fmt.Sprintf("%dms", r.latency.Milliseconds())
	if b.full {
		text = fmt.Sprintf("%s ↓%.1f ↑%.1f", text, r.downMbps, r.upMbps)
	}

	state := widget.StateGood
	switch {
	case r.latency > 150*time.Millisecond:
		state = widget.StateWarning
	case r.latency > 50*time.Millisecond:
		state = widget.StateInfo
	}
	return widget.Widget{Text: text, Icon: "⇅", State: state}
}

func (b *speedtestBlock) runTest(ctx context.Context) (speedResult, error) {
	// A fresh client per run: the package-level default client retains
	// snapshots across runs.
	st := speedtest.New(speedtest.WithUserConfig(&speedtest.UserConfig{
		MaxConnections: b.maxConn,
	}))
	defer func() {
		st.Snapshots().Clean()
		st.Reset()
	}()

	servers, err := st.FetchServerListContext(ctx)
	if err != nil {
		return speedResult{}, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return speedResult{}, errors.New("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Distance < servers[j].Distance
	})
	srv := servers[0]

	if err := srv.PingTestContext(ctx, nil); err != nil {
		return speedResult{}, fmt.Errorf("ping test: %w", err)
	}

	res := speedResult{
		latency: srv.Latency,
		server:  srv.Sponsor,
		when:    time.Now(),
	}
	if !b.full {
		return res, nil
	}

	if err := srv.DownloadTestContext(ctx); err != nil {
		return speedResult{}, fmt.Errorf("download test: %w", err)
	}
	res.downMbps = srv.DLSpeed.Mbps()

	if err := srv.UploadTestContext(ctx); err != nil {
		return speedResult{}, fmt.Errorf("upload test: %w", err)
	}
	res.upMbps = srv.ULSpeed.Mbps()

	return res, nil
}

func (b *speedtestBlock) Signal(int) error { return nil }

func (b *speedtestBlock) Click(_ ClickEvent) error {
	b.mu.Lock()
	b.armed = true
	b.mu.Unlock()
	b.request(Task{BlockID: b.id, DueAt: time.Now()})
	return nil
}
