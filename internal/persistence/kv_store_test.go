package persistence

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"AISRelay/internal/testutil"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	ch chan string
}

func (l *fakeLister) Keys() <-chan string { return l.ch }
func (l *fakeLister) Stop() error         { return nil }

type fakeEntry struct {
	jetstream.KeyValueEntry
	key   string
	value []byte
}

func (e fakeEntry) Key() string   { return e.key }
func (e fakeEntry) Value() []byte { return e.value }

type fakeBucket struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{data: make(map[string][]byte)}
}

func (b *fakeBucket) ListKeys(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyLister, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ch := make(chan string, len(keys))
	for _, k := range keys {
		ch <- k
	}
	close(ch)
	return &fakeLister{ch: ch}, nil
}

func (b *fakeBucket) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return fakeEntry{key: key, value: v}, nil
}

func (b *fakeBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return uint64(len(b.data)), nil
}

func (b *fakeBucket) Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func TestKVStoreEmptyBucket(t *testing.T) {
	snap, err := NewKVStore(newFakeBucket(), zerolog.Nop()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestKVStoreReplaceThenLoad(t *testing.T) {
	bucket := newFakeBucket()
	bucket.data["999"] = []byte("999|GONE|0|0|0|0|20200101000000")
	bucket.data["bad"] = []byte("not a row")
	store := NewKVStore(bucket, zerolog.Nop())
	ctx := context.Background()

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "not a row", loaded["bad"].Raw, "malformed entries are carried as is")

	snap := Snapshot{
		"5":         fields("5", "Legacy", "1.50", "2", "3", "4", "20200101000000"),
		"316001234": RowFromRecord(spiritOfVancouver()),
	}
	require.NoError(t, store.Replace(ctx, snap))

	assert.Equal(t, "5|Legacy|1.50|2|3|4|20200101000000", string(bucket.data["5"]))
	assert.NotContains(t, bucket.data, "999")

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}

func TestKVStoreIntegration(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket := "AIS_VESSELS_TEST"
	defer js.DeleteKeyValue(context.Background(), bucket)

	store, err := OpenKVStore(ctx, js, bucket, zerolog.Nop())
	require.NoError(t, err)

	snap := Snapshot{"316001234": RowFromRecord(spiritOfVancouver())}
	require.NoError(t, store.Replace(ctx, snap))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}
