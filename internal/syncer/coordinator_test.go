package syncer_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/metrics"
	"cercasp-go/internal/syncer"
	"cercasp-go/internal/testutil"
)

type env struct {
	queue   syncer.Queue
	inner   cercasp.RemoteStore
	remote  *testutil.FlakyRemote
	metrics *metrics.Metrics
	coord   *syncer.Coordinator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := testutil.FixedClock()
	e := &env{
		queue:   testutil.NewTestQueue(t, nil, clock),
		inner:   testutil.NewTestRemote(clock),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	e.remote = testutil.NewFlakyRemote(e.inner)
	e.coord = syncer.NewCoordinator(e.queue, e.remote, cercasp.NewNopLogger(), e.metrics, 2)
	return e
}

func (e *env) enqueue(t *testing.T, collection, name string) int64 {
	t.Helper()
	id, err := e.queue.Enqueue(context.Background(), collection, cercasp.Record{
		"name":                  name,
		cercasp.FieldCreatedBy: "uid-7",
	})
	require.NoError(t, err)
	return id
}

func names(t *testing.T, store cercasp.RemoteStore, collection string) []string {
	t.Helper()
	records, err := store.Query(context.Background(), collection, cercasp.OrderBy(cercasp.FieldID, false))
	require.NoError(t, err)
	out := make([]string, len(records))
	for i, r := range records {
		out[i], _ = r["name"].(string)
	}
	return out
}

func TestSyncOnce_ContinuesPastFailedItem(t *testing.T) {
	e := newEnv(t)
	e.enqueue(t, "patients", "A")
	idB := e.enqueue(t, "patients", "B")
	e.enqueue(t, "patients", "C")

	e.remote.FailAddWhen(func(_ string, data cercasp.Record) error {
		if data["name"] == "B" {
			return errors.New("rejected")
		}
		return nil
	})

	report, err := e.coord.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Synced["patients"])
	assert.Equal(t, 1, report.Failed["patients"])
	require.Len(t, report.Errors, 1)

	var syncErr *cercasp.SyncError
	require.ErrorAs(t, report.Errors[0], &syncErr)
	assert.Equal(t, idB, syncErr.ItemID)
	assert.Equal(t, "patients", syncErr.Collection)

	assert.Equal(t, []string{"A", "C"}, names(t, e.inner, "patients"))

	items, err := e.queue.DrainAll(context.Background(), "patients")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].Payload["name"])

	assert.Equal(t, 2.0, promtest.ToFloat64(e.metrics.SyncItems.WithLabelValues("patients", metrics.ResultSynced)))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.SyncItems.WithLabelValues("patients", metrics.ResultFailed)))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.QueueDepth.WithLabelValues("patients")))

	// B keeps its place ahead of anything queued later.
	idD := e.enqueue(t, "patients", "D")
	assert.Greater(t, idD, idB)
	items, err = e.queue.DrainAll(context.Background(), "patients")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[0].Payload["name"])
	assert.Equal(t, "D", items[1].Payload["name"])

	e.remote.FailAddWhen(nil)
	report, err = e.coord.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalSynced())
	assert.Equal(t, []string{"A", "C", "B", "D"}, names(t, e.inner, "patients"))

	n, err := e.queue.Len(context.Background(), "patients")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncOnce_PreservesOrderAndActor(t *testing.T) {
	e := newEnv(t)
	for _, n := range []string{"1", "2", "3", "4"} {
		e.enqueue(t, "medical_records", n)
	}
	e.enqueue(t, "finance_records", "x")

	report, err := e.coord.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.TotalSynced())
	assert.Zero(t, report.TotalFailed())

	assert.Equal(t, []string{"1", "2", "3", "4"}, names(t, e.inner, "medical_records"))

	records, err := e.inner.Query(context.Background(), "finance_records")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "uid-7", records[0][cercasp.FieldCreatedBy])
}

func TestSyncOnce_Offline(t *testing.T) {
	e := newEnv(t)
	e.enqueue(t, "patients", "A")
	e.enqueue(t, "patients", "B")
	e.remote.SetOffline(true)

	report, err := e.coord.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalFailed())
	for _, itemErr := range report.Errors {
		assert.ErrorIs(t, itemErr, cercasp.ErrOffline)
	}

	n, err := e.queue.Len(context.Background(), "patients")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSyncOnce_EmptyQueue(t *testing.T) {
	e := newEnv(t)

	report, err := e.coord.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.TotalSynced())
	assert.Zero(t, e.remote.Adds())
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.SyncPasses))
}

func TestSyncOnce_Cancelled(t *testing.T) {
	e := newEnv(t)
	e.enqueue(t, "patients", "A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.coord.SyncOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	n, err := e.queue.Len(context.Background(), "patients")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_ManualTrigger(t *testing.T) {
	e := newEnv(t)
	e.enqueue(t, "patients", "A")

	trigger := syncer.NewManualTrigger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.coord.Run(ctx, trigger) }()

	trigger.Fire()
	assert.Eventually(t, func() bool { return e.remote.Adds() == 1 }, time.Second, 5*time.Millisecond)

	e.enqueue(t, "patients", "B")
	trigger.Fire()
	assert.Eventually(t, func() bool { return e.remote.Adds() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_PassesDoNotOverlap(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		e.enqueue(t, "patients", "x")
	}

	var inFlight, maxInFlight atomic.Int32
	e.remote.FailAddWhen(func(string, cercasp.Record) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return nil
	})

	trigger := syncer.NewManualTrigger()
	ticker := syncer.NewTickerTrigger(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.coord.Run(ctx, trigger, ticker) }()

	direct := make(chan struct{})
	go func() {
		defer close(direct)
		_, _ = e.coord.SyncOnce(ctx)
	}()
	trigger.Fire()

	assert.Eventually(t, func() bool { return e.remote.Adds() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	<-direct
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestPending(t *testing.T) {
	e := newEnv(t)
	e.enqueue(t, "patients", "A")
	e.enqueue(t, "patients", "B")
	e.enqueue(t, "finance_records", "C")

	depths, err := e.coord.Pending(context.Background())
	require.NoError(t, err)

	got := map[string]int{}
	for i, d := range depths {
		got[d.Collection] = d.Pending
		if i > 0 {
			assert.Less(t, depths[i-1].Collection, d.Collection)
		}
	}
	assert.Equal(t, 2, got["patients"])
	assert.Equal(t, 1, got["finance_records"])
	assert.Equal(t, 0, got["medical_records"])
}
