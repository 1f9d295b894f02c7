package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpga/internal/opt"
)

// testStoreLifecycle exercises the run state machine against any Store.
func testStoreLifecycle(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	run, err := s.CreateRun(ctx, NewRun{
		InstanceName: "A045-03f.dat", Dimension: 45, Vehicles: 3, Seed: 7,
		Config: opt.DefaultConfig(), CallbackURL: "http://cb", CallbackSecret: "k",
	})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, StatusQueued, run.Status)
	assert.Nil(t, run.StartedAt)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, opt.DefaultConfig(), got.Config)
	assert.Equal(t, "k", got.CallbackSecret)

	require.NoError(t, s.StartRun(ctx, run.ID))
	assert.ErrorIs(t, s.StartRun(ctx, run.ID), ErrConflict)

	res := opt.Result{
		Best:     opt.Solution{{2, 3}, {4}},
		BestCost: 19,
		History:  []float64{25, 19},
		Metrics:  opt.Metrics{Generations: 1, Evaluations: 10},
	}
	require.NoError(t, s.CompleteRun(ctx, run.ID, res))
	assert.ErrorIs(t, s.FailRun(ctx, run.ID, "late", nil), ErrConflict)

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.BestCost)
	assert.Equal(t, 19.0, *got.BestCost)
	assert.Equal(t, res.Best, got.Best)
	assert.Equal(t, res.History, got.History)
	assert.Equal(t, res.Metrics, *got.Metrics)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	_, err = s.GetRun(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, s.StartRun(ctx, "00000000-0000-0000-0000-000000000000"), ErrNotFound)
}

func TestMemoryLifecycle(t *testing.T) {
	testStoreLifecycle(t, NewMemory())
}

func TestMemoryFailKeepsPartialResult(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	run, err := m.CreateRun(ctx, NewRun{Dimension: 4, Vehicles: 1})
	require.NoError(t, err)
	require.NoError(t, m.StartRun(ctx, run.ID))

	partial := opt.Result{Best: opt.Solution{{2, 3, 4}}, BestCost: 11, History: []float64{11}}
	require.NoError(t, m.FailRun(ctx, run.ID, "context canceled", &partial))

	got, err := m.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "context canceled", got.Error)
	assert.Equal(t, 11.0, *got.BestCost)

	// the stored copy is independent of the caller's slices
	partial.Best[0][0] = 99
	got, _ = m.GetRun(ctx, run.ID)
	assert.Equal(t, 2, got.Best[0][0])
}

func TestMemoryListRunsPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 5; i++ {
		r, err := m.CreateRun(ctx, NewRun{Dimension: 4, Vehicles: 1, Seed: int64(i)})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	require.NoError(t, m.StartRun(ctx, ids[1]))
	require.NoError(t, m.StartRun(ctx, ids[3]))

	page, next, err := m.ListRuns(ctx, "", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)
	assert.Equal(t, ids[1], next)

	page, next, err = m.ListRuns(ctx, "", next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[3]}, []string{page[0].ID, page[1].ID})

	page, next, err = m.ListRuns(ctx, "", next, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Empty(t, next)

	running, next, err := m.ListRuns(ctx, StatusRunning, "", 0)
	require.NoError(t, err)
	assert.Len(t, running, 2)
	assert.Empty(t, next)

	// exactly one full page leaves no cursor behind
	page, next, err = m.ListRuns(ctx, StatusRunning, "", 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Empty(t, next)
}

func TestMemoryListRunsOmitsHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r, _ := m.CreateRun(ctx, NewRun{Dimension: 4, Vehicles: 1})
	require.NoError(t, m.StartRun(ctx, r.ID))
	require.NoError(t, m.CompleteRun(ctx, r.ID, opt.Result{Best: opt.Solution{{2}}, History: []float64{1, 1}}))

	page, _, err := m.ListRuns(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Nil(t, page[0].History)
	assert.NotNil(t, page[0].Best)
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	id, err := m.EnqueueWebhook(ctx, "run1", "run.completed", "http://cb", "s", []byte(`{}`))
	require.NoError(t, err)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, DeliveryPending, due[0].Status)

	later := now.Add(time.Minute)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	assert.Empty(t, due, "not due before the backoff expires")

	now = later
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)

	require.NoError(t, m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 2))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	assert.Empty(t, due)

	list, err := m.ListWebhookDeliveries(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, DeliveryDelivered, list[0].Status)
	assert.Equal(t, 2, list[0].Attempts)
	assert.NotNil(t, list[0].DeliveredAt)

	assert.ErrorIs(t, m.FailWebhookDelivery(ctx, "nope", "", 0, 0), ErrNotFound)
}

func TestMemoryWebhookEnqueueDedups(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	payload := []byte(`{"id":"evt_run1_run.completed"}`)

	first, err := m.EnqueueWebhook(ctx, "run1", "run.completed", "http://cb", "s", payload)
	require.NoError(t, err)
	again, err := m.EnqueueWebhook(ctx, "run1", "run.completed", "http://cb", "s", payload)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	list, err := m.ListWebhookDeliveries(ctx, "run1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// any differing part of the key is a new delivery
	otherURL, err := m.EnqueueWebhook(ctx, "run1", "run.completed", "http://other", "s", payload)
	require.NoError(t, err)
	otherType, err := m.EnqueueWebhook(ctx, "run1", "run.failed", "http://cb", "s", payload)
	require.NoError(t, err)
	otherBody, err := m.EnqueueWebhook(ctx, "run1", "run.completed", "http://cb", "s", []byte(`{"id":"evt_2"}`))
	require.NoError(t, err)
	assert.NotEqual(t, first, otherURL)
	assert.NotEqual(t, first, otherType)
	assert.NotEqual(t, first, otherBody)

	// payloads without an id dedup on content
	a, _ := m.EnqueueWebhook(ctx, "run2", "run.completed", "http://cb", "", []byte(`{"x":1}`))
	b, _ := m.EnqueueWebhook(ctx, "run2", "run.completed", "http://cb", "", []byte(`{"x":1}`))
	c, _ := m.EnqueueWebhook(ctx, "run2", "run.completed", "http://cb", "", []byte(`{"x":2}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
