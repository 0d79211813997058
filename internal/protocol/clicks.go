package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"statbar/internal/blocks"
	"statbar/pkg/logx"
)

// wireClick is the click event object the bar host writes back on our
// stdin. name/instance echo what we put in the frame.
type wireClick struct {
	Name      string   `json:"name"`
	Instance  string   `json:"instance"`
	Button    int      `json:"button"`
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Modifiers []string `json:"modifiers"`
}

// ParseClick decodes one line of the click stream. The stream is an
// infinite JSON array written one element per line, so lines arrive
// prefixed with "[" or ","; lines that carry no event (the bare opening
// bracket) return ok=false.
func ParseClick(line []byte) (blocks.ClickEvent, bool) {
	line = bytes.TrimSpace(line)
	line = bytes.TrimPrefix(line, []byte("["))
	line = bytes.TrimPrefix(line, []byte(","))
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return blocks.ClickEvent{}, false
	}

	var wc wireClick
	if err := json.Unmarshal(line, &wc); err != nil {
		return blocks.ClickEvent{}, false
	}
	id, err := strconv.Atoi(wc.Name)
	if err != nil {
		// A click on a separator or another process's block.
		return blocks.ClickEvent{}, false
	}
	return blocks.ClickEvent{
		BlockID:   id,
		Button:    wc.Button,
		X:         wc.X,
		Y:         wc.Y,
		Modifiers: wc.Modifiers,
	}, true
}

// ReadClicks consumes the bar host's click stream and forwards resolved
// events. Returns nil on EOF (bar host closed our stdin) or cancellation.
func ReadClicks(ctx context.Context, r *bufio.Scanner, out chan<- blocks.ClickEvent, log logx.Logger) error {
	for r.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		ev, ok := ParseClick(r.Bytes())
		if !ok {
			continue
		}
		log.Debug("click received", logx.Int("block", ev.BlockID), logx.Int("button", ev.Button))
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return r.Err()
}
