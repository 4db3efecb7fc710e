package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func urls(l List) []string {
	out := make([]string, len(l))
	for i, e := range l {
		out[i] = e.URL
	}
	return out
}

func TestAddPrependsAndDeduplicates(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var l List
	l = l.Add("https://a.test", now)
	l = l.Add("https://b.test", now)
	l = l.Add("https://c.test", now)
	l = l.Add("https://a.test", now.Add(time.Minute))

	assert.Equal(t, []string{"https://a.test", "https://c.test", "https://b.test"}, urls(l))
	assert.Equal(t, now.Add(time.Minute), l[0].Timestamp)
}

func TestAddIsExactMatch(t *testing.T) {
	var l List
	l = l.Add("https://a.test", time.Now())
	l = l.Add("https://a.test/", time.Now())
	assert.Len(t, l, 2)
}

func TestAddCapsAtCapacity(t *testing.T) {
	var l List
	for i := 0; i < Capacity+5; i++ {
		l = l.Add(fmt.Sprintf("https://site.test/%d", i), time.Now())
	}

	require.Len(t, l, Capacity)
	assert.Equal(t, fmt.Sprintf("https://site.test/%d", Capacity+4), l[0].URL)
	assert.Equal(t, "https://site.test/5", l[Capacity-1].URL)
}

func TestAddDoesNotMutateReceiver(t *testing.T) {
	l := List{}.Add("https://a.test", time.Now())
	_ = l.Add("https://b.test", time.Now())
	assert.Equal(t, []string{"https://a.test"}, urls(l))
}

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	l, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, l)

	_, err = s.Record(ctx, "alice", "https://a.test")
	require.NoError(t, err)
	_, err = s.Record(ctx, "alice", "https://b.test")
	require.NoError(t, err)
	l, err = s.Record(ctx, "alice", "https://a.test")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, urls(l))

	_, err = s.Record(ctx, "bob", "https://z.test")
	require.NoError(t, err)

	l, err = s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, urls(l))

	require.NoError(t, s.Clear(ctx, "alice"))
	l, err = s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, l)

	l, err = s.Load(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://z.test"}, urls(l))
}

func testConcurrentRecord(t *testing.T, s Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Record(ctx, "carol", fmt.Sprintf("https://site.test/%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	l, err := s.Load(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, l, 10)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	testStore(t, s)
	testConcurrentRecord(t, s)
}

func TestSQLStore(t *testing.T) {
	s, err := OpenSQLStore(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
	testConcurrentRecord(t, s)
}

func TestSQLStorePersistsAcrossOpens(t *testing.T) {
	path := t.TempDir() + "/history.db"
	ctx := context.Background()

	s, err := OpenSQLStore(ctx, path)
	require.NoError(t, err)
	_, err = s.Record(ctx, "dave", "https://a.test")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	l, err := s.Load(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test"}, urls(l))
}
