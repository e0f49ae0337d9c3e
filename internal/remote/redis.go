package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"cercasp-go/internal/cercasp"
)

const defaultRedisPrefix = "cercasp"

// redisDocs keeps documents in Redis:
//
//	<prefix>:doc:<collection>:<id>   JSON document
//	<prefix>:ids:<collection>        set of document ids
//	<prefix>:chg:<collection>        pub/sub channel for changes
//
// Change notifications cross processes, so every instance sharing the Redis
// database sees every write.
type redisDocs struct {
	client *redis.Client
	prefix string
	logger cercasp.Logger
}

var (
	_ documents  = (*redisDocs)(nil)
	_ changeFeed = (*redisDocs)(nil)
)

// NewRedisStore creates a remote store backed by the Redis database at url.
func NewRedisStore(ctx context.Context, url, prefix string, ids cercasp.IDGenerator, clock cercasp.Clock, logger cercasp.Logger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisStore(client, prefix, ids, clock, logger), nil
}

func newRedisStore(client *redis.Client, prefix string, ids cercasp.IDGenerator, clock cercasp.Clock, logger cercasp.Logger) *Store {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	docs := &redisDocs{client: client, prefix: prefix, logger: logger}
	return newStore(docs, docs, ids, clock, logger)
}

func (r *redisDocs) docKey(collection, id string) string {
	return r.prefix + ":doc:" + collection + ":" + id
}

func (r *redisDocs) idsKey(collection string) string {
	return r.prefix + ":ids:" + collection
}

func (r *redisDocs) channel(collection string) string {
	return r.prefix + ":chg:" + collection
}

func (r *redisDocs) load(ctx context.Context, collection, id string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cercasp.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, id, err)
	}
	return data, nil
}

func (r *redisDocs) save(ctx context.Context, collection, id string, doc []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.docKey(collection, id), doc, 0)
		pipe.SAdd(ctx, r.idsKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, id, err)
	}
	return nil
}

func (r *redisDocs) remove(ctx context.Context, collection, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.docKey(collection, id))
		pipe.SRem(ctx, r.idsKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

func (r *redisDocs) list(ctx context.Context, collection string) ([][]byte, error) {
	ids, err := r.client.SMembers(ctx, r.idsKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(collection, id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", collection, err)
	}

	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // removed between SMEMBERS and MGET
		}
		out = append(out, []byte(s))
	}
	return out, nil
}

func (r *redisDocs) ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisDocs) close() error {
	return r.client.Close()
}

// changeMessage is the pub/sub payload.
type changeMessage struct {
	ID      string         `json:"id"`
	Deleted bool           `json:"deleted,omitempty"`
	Record  cercasp.Record `json:"record,omitempty"`
}

func (r *redisDocs) publish(ctx context.Context, c cercasp.Change) error {
	data, err := json.Marshal(changeMessage{ID: c.ID, Deleted: c.Deleted, Record: c.Record})
	if err != nil {
		return fmt.Errorf("encoding change: %w", err)
	}
	return r.client.Publish(ctx, r.channel(c.Collection), data).Err()
}

func (r *redisDocs) subscribe(ctx context.Context, collection, id string, fn cercasp.ChangeFunc) (cercasp.Unsubscribe, error) {
	ps := r.client.Subscribe(ctx, r.channel(collection))
	// Wait for the confirmation so no change published after Subscribe
	// returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", collection, err)
	}

	go func() {
		for msg := range ps.Channel() {
			var m changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.logger.Warn("dropping malformed change", "collection", collection, "error", err)
				continue
			}
			if id != "" && m.ID != id {
				continue
			}
			fn(cercasp.Change{Collection: collection, ID: m.ID, Record: m.Record, Deleted: m.Deleted})
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() { ps.Close() })
	}
	stop := context.AfterFunc(ctx, unsub)
	return func() {
		stop()
		unsub()
	}, nil
}
