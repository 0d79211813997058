package blocks

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type directiveKind int

const (
	directiveUnset directiveKind = iota
	directiveEvery
	directiveOnDemand
	directiveOnce
	directiveCron
)

// Directive is a block's declared re-render cadence. Immutable once the
// block is constructed.
type Directive struct {
	kind  directiveKind
	every time.Duration
	spec  string
	sched cron.Schedule
}

// cronParser accepts standard 5-field specs plus descriptors like @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Every renders on a fixed interval, anchored at render completion.
func Every(d time.Duration) Directive {
	return Directive{kind: directiveEvery, every: d}
}

// OnDemand renders only when explicitly requested (signal, click, watcher).
func OnDemand() Directive {
	return Directive{kind: directiveOnDemand}
}

// Once renders exactly once at startup, then idles.
func Once() Directive {
	return Directive{kind: directiveOnce}
}

// Cron renders on a cron schedule evaluated in local time.
func Cron(spec string) (Directive, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return Directive{}, fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return Directive{kind: directiveCron, spec: spec, sched: sched}, nil
}

func (d Directive) IsZero() bool { return d.kind == directiveUnset }

// Or returns d, or def when d is unset. Factories use it to apply their
// kind's default cadence.
func (d Directive) Or(def Directive) Directive {
	if d.IsZero() {
		return def
	}
	return d
}

// Next computes the due time following a render that completed at the given
// instant. ok is false for directives that only fire on demand.
func (d Directive) Next(completed time.Time) (next time.Time, ok bool) {
	switch d.kind {
	case directiveEvery:
		return completed.Add(d.every), true
	case directiveCron:
		return d.sched.Next(completed), true
	default:
		return time.Time{}, false
	}
}

func (d Directive) String() string {
	switch d.kind {
	case directiveEvery:
		return "every " + d.every.String()
	case directiveOnDemand:
		return "ondemand"
	case directiveOnce:
		return "once"
	case directiveCron:
		return "cron " + d.spec
	default:
		return "unset"
	}
}

// ParseDirective parses a config interval field. Accepted forms:
//
//	""            -> unset (block kind default applies)
//	"once"        -> Once
//	"ondemand"    -> OnDemand (also "on_demand")
//	"cron:SPEC"   -> Cron
//	"*/5 * * * *" -> Cron (anything with spaces or an @descriptor)
//	"10s"         -> Every
func ParseDirective(raw string) (Directive, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "":
		return Directive{}, nil
	case "once":
		return Once(), nil
	case "ondemand", "on_demand":
		return OnDemand(), nil
	}
	if rest, ok := strings.CutPrefix(s, "cron:"); ok {
		return Cron(strings.TrimSpace(rest))
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return Cron(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Directive{}, fmt.Errorf("interval %q: not a duration, cron spec, \"once\" or \"ondemand\"", raw)
	}
	if d <= 0 {
		return Directive{}, fmt.Errorf("interval %q: must be > 0", raw)
	}
	return Every(d), nil
}
