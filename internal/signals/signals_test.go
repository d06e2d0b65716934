package signals_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/signals"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

type slowSource struct {
	delay   time.Duration
	signals []types.Signal
	err     error
}

func (s *slowSource) Scan(ctx context.Context, _ string, _ []types.Bar) ([]types.Signal, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.signals, s.err
}

func TestGuardedPassesThroughFastScans(t *testing.T) {
	want := []types.Signal{{Ticker: "TICK", Side: types.SideBuy, EntryPrice: 50}}
	guarded := signals.NewGuarded(&slowSource{signals: want}, time.Second)

	got, err := guarded.Scan(context.Background(), "TICK", nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGuardedTimeoutYieldsNoSignals(t *testing.T) {
	guarded := signals.NewGuarded(&slowSource{delay: 200 * time.Millisecond}, 20*time.Millisecond)

	got, err := guarded.Scan(context.Background(), "TICK", nil)
	// A timeout is "no signals this tick", never an error.
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGuardedSwallowsSourceErrors(t *testing.T) {
	guarded := signals.NewGuarded(&slowSource{err: errors.New("scanner exploded")}, time.Second)

	got, err := guarded.Scan(context.Background(), "TICK", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
