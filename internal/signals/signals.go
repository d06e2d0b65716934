package signals

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// Source produces entry signals for a ticker from a bounded window of recent
// bars. Implementations may shell out or hit the network and are treated as
// slow and unreliable; callers go through Guarded.
type Source interface {
	Scan(ctx context.Context, ticker string, window []types.Bar) ([]types.Signal, error)
}

// Guarded wraps a Source with a hard timeout. A timed-out or failed scan is
// logged and reported as zero signals so one slow ticker never stalls the
// tick.
type Guarded struct {
	source  Source
	timeout time.Duration
}

func NewGuarded(source Source, timeout time.Duration) *Guarded {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Guarded{source: source, timeout: timeout}
}

func (g *Guarded) Scan(ctx context.Context, ticker string, window []types.Bar) ([]types.Signal, error) {
	scanCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	sigs, err := g.source.Scan(scanCtx, ticker, window)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Str("ticker", ticker).Dur("timeout", g.timeout).Msg("signal scan timed out")
			return nil, nil
		}
		log.Error().Err(err).Str("ticker", ticker).Msg("signal scan failed")
		return nil, nil
	}
	return sigs, nil
}
