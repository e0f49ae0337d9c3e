// Package syncer replays the offline queue into the remote store.
package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/metrics"
)

const defaultConcurrency = 2

// Queue is the offline queue as the coordinator uses it.
type Queue interface {
	cercasp.OfflineQueue
	Len(ctx context.Context, collection string) (int, error)
}

// Report summarizes one sync pass.
type Report struct {
	Synced map[string]int
	Failed map[string]int

	// Errors holds one *cercasp.SyncError per item left in the queue.
	Errors []error
}

func (r Report) TotalSynced() int { return sum(r.Synced) }
func (r Report) TotalFailed() int { return sum(r.Failed) }

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

type collectionResult struct {
	synced int
	failed []error
	err    error
}

// Coordinator drains queued writes into the remote store. Each collection is
// replayed oldest first, one item at a time; collections run in parallel.
// An item is removed only after the remote store accepted it, so a crash in
// between sends it again.
type Coordinator struct {
	queue       Queue
	remote      cercasp.RemoteStore
	logger      cercasp.Logger
	metrics     *metrics.Metrics
	concurrency int

	pass sync.Mutex
}

// NewCoordinator creates a Coordinator. m may be nil; concurrency <= 0 uses
// the default.
func NewCoordinator(queue Queue, remote cercasp.RemoteStore, logger cercasp.Logger, m *metrics.Metrics, concurrency int) *Coordinator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Coordinator{
		queue:       queue,
		remote:      remote,
		logger:      logger,
		metrics:     m,
		concurrency: concurrency,
	}
}

// SyncOnce runs one pass over every collection. Items the remote store
// rejects stay queued and are listed in the report; the returned error is
// reserved for local storage failures and cancellation. Concurrent calls run
// one after the other.
func (c *Coordinator) SyncOnce(ctx context.Context) (Report, error) {
	c.pass.Lock()
	defer c.pass.Unlock()

	collections := c.queue.Collections()
	results := make([]collectionResult, len(collections))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, col := range collections {
		g.Go(func() error {
			results[i] = c.syncCollection(ctx, col)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Synced: make(map[string]int), Failed: make(map[string]int)}
	var errs []error
	for i, col := range collections {
		res := results[i]
		if res.synced > 0 {
			report.Synced[col] = res.synced
		}
		if len(res.failed) > 0 {
			report.Failed[col] = len(res.failed)
			report.Errors = append(report.Errors, res.failed...)
		}
		if res.err != nil {
			errs = append(errs, res.err)
		}
	}

	c.metrics.IncrementSyncPasses()
	c.recordDepths(ctx, collections)

	if report.TotalSynced() > 0 || report.TotalFailed() > 0 {
		c.logger.Info("sync pass finished", "synced", report.TotalSynced(), "failed", report.TotalFailed())
	}
	return report, errors.Join(errs...)
}

func (c *Coordinator) syncCollection(ctx context.Context, collection string) collectionResult {
	var res collectionResult

	items, err := c.queue.DrainAll(ctx, collection)
	if err != nil {
		res.err = err
		return res
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			res.err = err
			return res
		}

		id, err := c.remote.Add(ctx, collection, item.Payload, item.Actor())
		if err != nil {
			c.logger.Warn("sync item failed", "collection", collection, "item", item.ID, "error", err)
			c.metrics.IncrementSyncItem(collection, metrics.ResultFailed)
			res.failed = append(res.failed, &cercasp.SyncError{Collection: collection, ItemID: item.ID, Err: err})
			continue
		}

		if err := c.queue.Remove(ctx, collection, item.ID); err != nil {
			// The remote copy exists; the item will be sent again next pass.
			c.logger.Error("removing synced item", "collection", collection, "item", item.ID, "remote_id", id, "error", err)
			res.err = err
			return res
		}
		c.metrics.IncrementSyncItem(collection, metrics.ResultSynced)
		c.logger.Debug("synced item", "collection", collection, "item", item.ID, "remote_id", id)
		res.synced++
	}
	return res
}

func (c *Coordinator) recordDepths(ctx context.Context, collections []string) {
	for _, col := range collections {
		n, err := c.queue.Len(ctx, col)
		if err != nil {
			continue
		}
		c.metrics.SetQueueDepth(col, n)
	}
}

// Run waits on the triggers and runs SyncOnce for each wake-up until ctx
// ends. Wake-ups that arrive during a pass collapse into one follow-up pass.
// The triggers are stopped before Run returns.
func (c *Coordinator) Run(ctx context.Context, triggers ...cercasp.BackgroundTrigger) error {
	wake := make(chan struct{}, 1)

	var wg sync.WaitGroup
	for _, t := range triggers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C():
					signal(wake)
				}
			}
		}()
	}
	defer func() {
		for _, t := range triggers {
			t.Stop()
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			report, err := c.SyncOnce(ctx)
			if err != nil && ctx.Err() == nil {
				c.logger.Error("sync pass failed", "error", err)
			}
			for _, e := range report.Errors {
				c.logger.Debug("item left queued", "error", e)
			}
		}
	}
}

// Pending returns the queue length of every collection, sorted by name.
func (c *Coordinator) Pending(ctx context.Context) ([]CollectionDepth, error) {
	collections := append([]string(nil), c.queue.Collections()...)
	sort.Strings(collections)

	out := make([]CollectionDepth, 0, len(collections))
	for _, col := range collections {
		n, err := c.queue.Len(ctx, col)
		if err != nil {
			return nil, err
		}
		out = append(out, CollectionDepth{Collection: col, Pending: n})
	}
	return out, nil
}

// CollectionDepth is the number of queued items in one collection.
type CollectionDepth struct {
	Collection string `json:"collection"`
	Pending    int    `json:"pending"`
}

// signal performs a non-blocking send so bursts coalesce.
func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}
