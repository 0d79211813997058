package events

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"statbar/pkg/logx"
)

// sigrtmin is SIGRTMIN on Linux. Go does not export it; the glibc-reserved
// range below 34 is avoided by construction-time validation of offsets.
const sigrtmin = 34

// Listen installs handlers for SIGUSR1 (refresh everything) and for
// SIGRTMIN+n for every subscribed offset n, and forwards them until ctx is
// canceled. Block-addressed offsets go to deliver; SIGUSR1 to refreshAll.
func Listen(ctx context.Context, offsets []int, deliver func(offset int), refreshAll func(), log logx.Logger) error {
	ch := make(chan os.Signal, 8)

	sigs := make([]os.Signal, 0, len(offsets)+1)
	sigs = append(sigs, syscall.SIGUSR1)
	for _, n := range offsets {
		sigs = append(sigs, syscall.Signal(sigrtmin+n))
	}
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-ch:
			if s == syscall.SIGUSR1 {
				log.Debug("refresh-all signal received")
				refreshAll()
				continue
			}
			if sig, ok := s.(syscall.Signal); ok {
				offset := int(sig) - sigrtmin
				log.Debug("block signal received", logx.Int("offset", offset))
				deliver(offset)
			}
		}
	}
}
