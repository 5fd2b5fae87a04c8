package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Bucket is the part of a JetStream key-value bucket the KVStore uses.
type Bucket interface {
	ListKeys(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyLister, error)
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// KVStore keeps the snapshot in a JetStream key-value bucket, one key per
// vessel id and the pipe-delimited row as value. Each key is replaced
// atomically; the bucket as a whole is not.
type KVStore struct {
	bucket Bucket
	log    zerolog.Logger
}

func NewKVStore(bucket Bucket, log zerolog.Logger) *KVStore {
	return &KVStore{bucket: bucket, log: log}
}

// OpenKVStore creates the bucket if needed, keeping one revision per key.
func OpenKVStore(ctx context.Context, js jetstream.JetStream, bucket string, log zerolog.Logger) (*KVStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "last known vessel positions",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	log.Info().Str("bucket", bucket).Msg("ensured kv bucket")
	return NewKVStore(kv, log), nil
}

func (s *KVStore) Load(ctx context.Context) (Snapshot, error) {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	snap := make(Snapshot, len(keys))
	for _, key := range keys {
		entry, err := s.bucket.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		row := RowFromLine(string(entry.Value()))
		if row.Raw != "" {
			s.log.Warn().Str("key", key).Msg("keeping malformed snapshot entry as is")
			row.ID = key
		}
		snap[row.ID] = row
	}
	return snap, nil
}

// Replace puts every row of snap and then deletes keys snap no longer holds.
func (s *KVStore) Replace(ctx context.Context, snap Snapshot) error {
	for _, row := range snap.SortedRows() {
		if _, err := s.bucket.Put(ctx, row.ID, []byte(row.Line())); err != nil {
			return fmt.Errorf("put %s: %w", row.ID, err)
		}
	}

	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	defer lister.Stop()

	var stale []string
	for key := range lister.Keys() {
		if _, ok := snap[key]; !ok {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		if err := s.bucket.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("aisrelay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
