package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"statbar/internal/blocks"
	"statbar/internal/widget"
	"statbar/pkg/logx"
)

// syncBuffer makes a bytes.Buffer safe for the writer's AfterFunc flushes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWriteHeader(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	wr := NewWriter(&buf, 0, true, logx.Nop())
	if err := wr.WriteHeader(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("header wrote %d lines: %q", len(lines), buf.String())
	}

	var hdr struct {
		Version     int  `json:"version"`
		ClickEvents bool `json:"click_events"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &hdr); err != nil {
		t.Fatalf("header line %q: %v", lines[0], err)
	}
	if hdr.Version != 1 || !hdr.ClickEvents {
		t.Fatalf("header = %+v", hdr)
	}
	if lines[1] != "[" || lines[2] != "[]" {
		t.Fatalf("array preamble = %q, %q", lines[1], lines[2])
	}
}

// frames decodes every emitted frame line (",[...]") back into bar items.
func frames(t *testing.T, out string) [][]barItem {
	t.Helper()
	var got [][]barItem
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimPrefix(line, ",")
		if !strings.HasPrefix(line, "[") {
			continue
		}
		var items []barItem
		if err := json.Unmarshal([]byte(line), &items); err != nil {
			t.Fatalf("frame %q: %v", line, err)
		}
		got = append(got, items)
	}
	return got
}

func TestAssemblerFrameOrder(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	wr := NewWriter(&buf, 0, true, logx.Nop())
	asm := NewAssembler(3, wr)

	// Updates arrive out of configuration order.
	asm.Update(2, []widget.Widget{{Text: "third"}})
	asm.Update(0, []widget.Widget{{Text: "first", Icon: "A"}})
	asm.Update(1, []widget.Widget{{Text: "second"}})

	fs := frames(t, buf.String())
	if len(fs) != 3 {
		t.Fatalf("emitted %d frames, want 3", len(fs))
	}

	last := fs[len(fs)-1]
	if len(last) != 3 {
		t.Fatalf("final frame has %d items: %+v", len(last), last)
	}
	wantText := []string{"A first", "second", "third"}
	for i, item := range last {
		if item.Name != string(rune('0'+i)) || item.FullText != wantText[i] {
			t.Fatalf("item %d = %+v, want name %d text %q", i, item, i, wantText[i])
		}
	}
}

func TestAssemblerMultiWidgetAndStates(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	wr := NewWriter(&buf, 0, true, logx.Nop())
	asm := NewAssembler(2, wr)

	asm.Update(0, []widget.Widget{
		{Text: "ok", State: widget.StateGood},
		{Text: "alarm", State: widget.StateCritical},
	})
	asm.Update(1, nil) // hidden block contributes nothing

	fs := frames(t, buf.String())
	last := fs[len(fs)-1]
	if len(last) != 2 {
		t.Fatalf("final frame = %+v", last)
	}
	if last[0].Instance != "0" || last[1].Instance != "1" {
		t.Fatalf("instances = %q, %q", last[0].Instance, last[1].Instance)
	}
	if last[0].Urgent || !last[1].Urgent {
		t.Fatalf("urgent flags = %v, %v", last[0].Urgent, last[1].Urgent)
	}
	if last[0].Color == "" || last[0].Color == last[1].Color {
		t.Fatalf("colors = %q, %q", last[0].Color, last[1].Color)
	}
}

func TestAssemblerIgnoresOutOfRange(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	asm := NewAssembler(1, NewWriter(&buf, 0, true, logx.Nop()))
	asm.Update(-1, []widget.Widget{{Text: "x"}})
	asm.Update(5, []widget.Widget{{Text: "x"}})
	if got := buf.String(); got != "" {
		t.Fatalf("out-of-range update emitted %q", got)
	}
}

func TestWriterRateLimitCoalesces(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	wr := NewWriter(&buf, 5, true, logx.Nop()) // 5 frames/s
	asm := NewAssembler(1, wr)

	// A burst well above the limit: the first frame goes out immediately,
	// the rest coalesce into one trailing flush carrying the newest state.
	for i := 0; i < 20; i++ {
		asm.Update(0, []widget.Widget{{Text: "v" + string(rune('a'+i))}})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs := frames(t, buf.String())
		if len(fs) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	fs := frames(t, buf.String())
	if len(fs) < 2 || len(fs) > 4 {
		t.Fatalf("burst of 20 updates emitted %d frames", len(fs))
	}
	last := fs[len(fs)-1]
	if last[0].FullText != "vt" {
		t.Fatalf("trailing flush carried %q, want the newest frame", last[0].FullText)
	}
}

func TestParseClick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want blocks.ClickEvent
		ok   bool
	}{
		{
			name: "plain event",
			line: `{"name":"2","instance":"0","button":1,"x":140,"y":8}`,
			want: blocks.ClickEvent{BlockID: 2, Button: 1, X: 140, Y: 8},
			ok:   true,
		},
		{
			name: "comma prefixed",
			line: `,{"name":"0","button":3}`,
			want: blocks.ClickEvent{BlockID: 0, Button: 3},
			ok:   true,
		},
		{
			name: "opening bracket with event",
			line: `[{"name":"1","button":2,"modifiers":["Mod4"]}`,
			want: blocks.ClickEvent{BlockID: 1, Button: 2, Modifiers: []string{"Mod4"}},
			ok:   true,
		},
		{name: "bare opening bracket", line: `[`},
		{name: "empty line", line: ``},
		{name: "foreign block name", line: `{"name":"tray","button":1}`},
		{name: "malformed json", line: `{"name":"0",`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseClick([]byte(tt.line))
			if ok != tt.ok {
				t.Fatalf("ParseClick(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.BlockID != tt.want.BlockID || got.Button != tt.want.Button ||
				got.X != tt.want.X || got.Y != tt.want.Y || len(got.Modifiers) != len(tt.want.Modifiers) {
				t.Fatalf("ParseClick(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestReadClicks(t *testing.T) {
	t.Parallel()

	input := "[\n" +
		`{"name":"0","button":1}` + "\n" +
		`,{"name":"nonsense","button":1}` + "\n" +
		`,{"name":"2","button":3}` + "\n"

	out := make(chan blocks.ClickEvent, 8)
	err := ReadClicks(context.Background(), bufio.NewScanner(strings.NewReader(input)), out, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	close(out)

	var got []blocks.ClickEvent
	for ev := range out {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("forwarded %d events: %+v", len(got), got)
	}
	if got[0].BlockID != 0 || got[0].Button != 1 || got[1].BlockID != 2 || got[1].Button != 3 {
		t.Fatalf("events = %+v", got)
	}
}
