package feed

import (
	"context"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// Feed delivers bars in per-ticker timestamp order. The channel closes when
// the feed is exhausted or the context is cancelled.
type Feed interface {
	Bars(ctx context.Context) (<-chan types.Bar, error)
}

// Replay plays a fixed bar sequence, used by the simulation entrypoint and
// tests.
type Replay struct {
	bars []types.Bar
}

func NewReplay(bars []types.Bar) *Replay {
	return &Replay{bars: bars}
}

func (r *Replay) Bars(ctx context.Context) (<-chan types.Bar, error) {
	out := make(chan types.Bar)
	go func() {
		defer close(out)
		for _, bar := range r.bars {
			select {
			case out <- bar:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
