package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cercasp-go/internal/audit"
	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/encryption"
	"cercasp-go/internal/metrics"
	"cercasp-go/internal/syncer"
	"cercasp-go/internal/testutil"
)

func sampleEntry() cercasp.LogEntry {
	return cercasp.LogEntry{
		Timestamp:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		ActorID:    "uid-1",
		ActorEmail: "a@b.mx",
		ActorRole:  "FOUNDER",
		Action:     cercasp.ActionLogin,
		Details:    map[string]any{"ip": "<1>"},
	}
}

func newLedger(store cercasp.RemoteStore) *audit.Ledger {
	return audit.NewLedger(store, encryption.SHA256Digester{}, testutil.FixedClock())
}

func TestCanonicalize(t *testing.T) {
	got, err := audit.Canonicalize(sampleEntry())
	require.NoError(t, err)

	want := `{"action":"login","actorEmail":"a@b.mx","actorId":"uid-1","actorRole":"FOUNDER","details":{"ip":"<1>"},"timestamp":"2024-01-15T10:30:00Z"}`
	assert.Equal(t, want, string(got))
}

func TestChecksum_IgnoresExistingChecksum(t *testing.T) {
	l := newLedger(testutil.NewTestRemote(testutil.FixedClock()))

	entry := sampleEntry()
	sum, err := l.Checksum(entry)
	require.NoError(t, err)

	canonical, err := audit.Canonicalize(entry)
	require.NoError(t, err)
	assert.Equal(t, testutil.SHA256Hex(string(canonical)), sum)

	entry.Checksum = "something-else"
	again, err := l.Checksum(entry)
	require.NoError(t, err)
	assert.Equal(t, sum, again)
}

func TestLedger_AppendStampsAndVerifies(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestRemote(testutil.FixedClock())
	l := newLedger(store)

	entry := sampleEntry()
	entry.Timestamp = time.Time{}
	written, err := l.Append(ctx, entry)
	require.NoError(t, err)

	assert.Equal(t, testutil.FixedClock().Now(), written.Timestamp)
	assert.Len(t, written.Checksum, 64)
	assert.True(t, l.Verify(written))

	docs, err := store.Query(ctx, cercasp.CollectionSystemLogs)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, written.Checksum, docs[0]["checksum"])
	assert.Equal(t, "a@b.mx", docs[0]["actorEmail"])

	report, err := l.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.True(t, report.OK())
}

func TestLedger_VerifyRejectsMissingChecksum(t *testing.T) {
	l := newLedger(testutil.NewTestRemote(testutil.FixedClock()))
	assert.False(t, l.Verify(sampleEntry()))
}

func TestLedger_VerifyAllFindsTampering(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestRemote(testutil.FixedClock())
	l := newLedger(store)

	for _, action := range []string{cercasp.ActionLogin, cercasp.ActionCreate, cercasp.ActionLogout} {
		e := sampleEntry()
		e.Action = action
		_, err := l.Append(ctx, e)
		require.NoError(t, err)
	}

	// The stub id generator assigned id-1..id-3.
	require.NoError(t, store.Update(ctx, cercasp.CollectionSystemLogs, "id-2", cercasp.Record{"actorRole": "VIEWER"}, "intruder"))
	require.NoError(t, store.Update(ctx, cercasp.CollectionSystemLogs, "id-3", cercasp.Record{"checksum": ""}, "intruder"))

	report, err := l.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.False(t, report.OK())
	assert.ElementsMatch(t, []string{"id-2", "id-3"}, report.Tampered)
}

func TestLedger_Properties(t *testing.T) {
	l := newLedger(testutil.NewTestRemote(testutil.FixedClock()))
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("appended entries verify", prop.ForAll(
		func(action, email, detail string, n int) bool {
			e := cercasp.LogEntry{
				ActorID:    "uid",
				ActorEmail: email,
				Action:     action,
				Details:    map[string]any{"note": detail, "n": n},
			}
			written, err := l.Append(ctx, e)
			return err == nil && l.Verify(written)
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.AnyString(),
		gen.IntRange(-1_000_000, 1_000_000),
	))

	properties.Property("changing any field breaks verification", prop.ForAll(
		func(action, email, suffix string, field int) bool {
			written, err := l.Append(ctx, cercasp.LogEntry{
				ActorID:    "uid",
				ActorEmail: email,
				Action:     action,
				Details:    map[string]any{"k": "v"},
			})
			if err != nil {
				return false
			}
			switch field {
			case 0:
				written.Action += suffix
			case 1:
				written.ActorEmail += suffix
			case 2:
				written.ActorRole += suffix
			case 3:
				written.Details["k"] = "v" + suffix
			default:
				written.Timestamp = written.Timestamp.Add(time.Nanosecond)
			}
			return !l.Verify(written)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFlakyRemote(testutil.NewTestRemote(testutil.FixedClock()))
	m := metrics.New(prometheus.NewRegistry())
	rec := audit.NewRecorder(newLedger(store), nil, cercasp.NewNopLogger(), m)

	actor := cercasp.Actor{ID: "uid-1", Email: "a@b.mx", Role: cercasp.RoleStaff, UserAgent: "cli/1.0"}
	rec.Record(ctx, actor, cercasp.ActionLogin, nil)

	docs, err := store.Query(ctx, cercasp.CollectionSystemLogs)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "STAFF", docs[0]["actorRole"])
	assert.Equal(t, "cli/1.0", docs[0]["userAgent"])
	assert.Equal(t, float64(1), promtest.ToFloat64(m.AuditEntries.WithLabelValues(cercasp.ActionLogin)))

	t.Run("failed write without a queue is swallowed and counted", func(t *testing.T) {
		store.SetOffline(true)
		defer store.SetOffline(false)

		rec.Record(ctx, actor, cercasp.ActionLogout, map[string]any{"reason": "manual"})

		assert.Equal(t, float64(1), promtest.ToFloat64(m.AuditWriteFailures))
		docs, err := store.Query(ctx, cercasp.CollectionSystemLogs)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})
}

func TestRecorder_QueuesWhileOffline(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	store := testutil.NewFlakyRemote(testutil.NewTestRemote(clock))
	q := testutil.NewTestQueue(t, nil, clock)
	m := metrics.New(prometheus.NewRegistry())
	ledger := newLedger(store)
	rec := audit.NewRecorder(ledger, q, cercasp.NewNopLogger(), m)

	actor := cercasp.Actor{ID: "uid-1", Email: "a@b.mx", Role: cercasp.RoleCoordinator}
	store.SetOffline(true)
	rec.Record(ctx, actor, cercasp.ActionQueued, map[string]any{"collection": cercasp.CollectionPatients, "queueId": int64(1)})

	assert.Zero(t, promtest.ToFloat64(m.AuditWriteFailures))
	items, err := q.DrainAll(ctx, cercasp.CollectionSystemLogs)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "uid-1", items[0].Actor())
	assert.NotEmpty(t, items[0].Payload["checksum"])

	store.SetOffline(false)
	report, err := syncer.NewCoordinator(q, store, cercasp.NewNopLogger(), nil, 1).SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced[cercasp.CollectionSystemLogs])

	docs, err := store.Query(ctx, cercasp.CollectionSystemLogs)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, cercasp.ActionQueued, docs[0]["action"])
	assert.Equal(t, "uid-1", docs[0][cercasp.FieldCreatedBy])

	verify, err := ledger.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, verify.Checked)
	assert.True(t, verify.OK(), "replayed entry failed verification: %v", verify.Tampered)
}

type brokenQueue struct {
	cercasp.OfflineQueue
}

func (brokenQueue) Enqueue(context.Context, string, cercasp.Record) (int64, error) {
	return 0, errors.New("disk full")
}

func TestRecorder_QueueFailureCounted(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewFlakyRemote(testutil.NewTestRemote(testutil.FixedClock()))
	m := metrics.New(prometheus.NewRegistry())
	rec := audit.NewRecorder(newLedger(store), brokenQueue{}, cercasp.NewNopLogger(), m)

	store.SetOffline(true)
	rec.Record(ctx, cercasp.Actor{ID: "uid-1"}, cercasp.ActionLogout, nil)

	assert.Equal(t, float64(1), promtest.ToFloat64(m.AuditWriteFailures))
	assert.Zero(t, promtest.ToFloat64(m.AuditEntries.WithLabelValues(cercasp.ActionLogout)))
}
