package services_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/agentflow/pkg/models"
	memstore "github.com/dukex/agentflow/pkg/persistence/memory"
	"github.com/dukex/agentflow/pkg/services"
	"github.com/dukex/agentflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_ScheduledPass(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	f := newFixture(t, store, testutil.EchoLLM(), services.ExecutionOptions{Timeout: time.Minute})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Execution{ID: "stale", WorkflowID: "wf", Status: models.ExecutionStatusPending, StartedAt: time.Now().Add(-time.Hour)}))

	sweeper, err := services.NewSweeper(f.service, "@every 1s", slog.Default())
	require.NoError(t, err)
	require.NoError(t, sweeper.Start(ctx))

	t.Cleanup(func() {
		assert.NoError(t, sweeper.Stop(context.Background()))
	})

	assert.Eventually(t, func() bool {
		execution, err := store.Get(ctx, "stale")

		return err == nil && execution.Status == models.ExecutionStatusFailed
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSweeper_DisabledWithoutTimeout(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	f := newFixture(t, store, testutil.EchoLLM(), services.ExecutionOptions{})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Execution{ID: "old", WorkflowID: "wf", Status: models.ExecutionStatusRunning, StartedAt: time.Now().Add(-24 * time.Hour)}))

	swept, err := f.service.SweepStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestSweeper_StopBeforeStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, memstore.NewStore(), testutil.EchoLLM(), services.ExecutionOptions{})

	sweeper, err := services.NewSweeper(f.service, services.DefaultSweepSchedule, slog.Default())
	require.NoError(t, err)
	assert.NoError(t, sweeper.Stop(context.Background()))
}
