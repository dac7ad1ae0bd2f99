package editsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_PeriodicAutosave(t *testing.T) {
	fx := newFixture(t, WithPolicy(Policy{Interval: 5 * time.Millisecond}))
	fx.typeInto(t, "A", "typed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.session.Start(ctx)
	fx.session.Start(ctx) // no second loop

	require.Eventually(t, func() bool {
		return len(fx.store.autosaveCalls()) == 1
	}, timeout, tick)

	fx.typeInto(t, "B", "later")
	require.Eventually(t, func() bool {
		return len(fx.store.autosaveCalls()) == 2
	}, timeout, tick)

	fx.session.Stop()
	fx.session.Stop()
	assert.Equal(t, []string{"A", "B"}, fx.store.autosaveCalls())
}

func TestScheduler_CloseReleasesLock(t *testing.T) {
	fx := newFixture(t, WithPolicy(Policy{Interval: time.Hour}))
	fx.session.Start(context.Background())

	require.NoError(t, fx.session.Close(context.Background()))
	assert.Equal(t, NoLock, fx.session.LockState())
	assert.Equal(t, 1, fx.store.unlockCalls)

	// closing again is harmless
	require.NoError(t, fx.session.Close(context.Background()))
	assert.Equal(t, 1, fx.store.unlockCalls)
}

func TestScheduler_StopsWithContext(t *testing.T) {
	fx := newFixture(t, WithPolicy(Policy{Interval: time.Hour}))
	ctx, cancel := context.WithCancel(context.Background())
	fx.session.Start(ctx)
	cancel()

	require.Eventually(t, func() bool {
		fx.session.mu.Lock()
		defer fx.session.mu.Unlock()
		return !fx.session.running
	}, timeout, tick)
	fx.session.Stop()
}
