package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func req(method, url string) Request {
	return Request{Method: method, URL: url}
}

func TestPushAssignsStrictlyMonotonicIDs(t *testing.T) {
	ring := New(100)
	var ids []uint64
	for i := 0; i < 5; i++ {
		ids = append(ids, ring.Push(req("GET", "http://example.test/"), nil))
	}
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
}

func TestPushPatchesResponseRequestID(t *testing.T) {
	ring := New(100)
	id := ring.Push(req("GET", "http://example.test/"), &Response{StatusCode: 200})
	entry, ok := ring.Get(id)
	require.True(t, ok)
	require.NotNil(t, entry.Response)
	assert.Equal(t, id, entry.Response.RequestID)
}

func TestRingEvictsOldestPastCapacity(t *testing.T) {
	ring := New(3)
	var lastID uint64
	for i := 0; i < 10; i++ {
		lastID = ring.Push(req("GET", "http://example.test/"), nil)
	}
	assert.Equal(t, 3, ring.Len())

	all := ring.GetAll()
	require.Len(t, all, 3)
	// Most recent first.
	assert.Equal(t, lastID, all[0].Request.ID)
}

func TestClearEmptiesRing(t *testing.T) {
	ring := New(10)
	ring.Push(req("GET", "http://example.test/"), nil)
	require.NoError(t, ring.Clear())
	assert.True(t, ring.IsEmpty())
}

func TestSubscribeReceivesPushedEntries(t *testing.T) {
	ring := New(10)
	sub := ring.Subscribe()
	defer sub.Unsubscribe()

	id := ring.Push(req("POST", "http://example.test/submit"), nil)

	select {
	case env := <-sub.C():
		require.Nil(t, env.Lagged)
		assert.Equal(t, id, env.Value.Request.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for push notification")
	}
}

func TestQueryFiltersByMethodHostStatusTLS(t *testing.T) {
	ring := New(10)
	ring.Push(Request{Method: "GET", URL: "http://a.test/x"}, &Response{StatusCode: 200})
	ring.Push(Request{Method: "POST", URL: "http://b.test/y", TLS: true}, &Response{StatusCode: 404})

	method := "POST"
	results, err := ring.Query(Query{Method: &method})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "http://b.test/y", results[0].Request.URL)

	tlsOnly := true
	results, err = ring.Query(Query{TLS: &tlsOnly})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	status := 200
	results, err = ring.Query(Query{Status: &status})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestQueryHonorsLimit(t *testing.T) {
	ring := New(10)
	for i := 0; i < 5; i++ {
		ring.Push(req("GET", "http://example.test/"), nil)
	}
	limit := 2
	results, err := ring.Query(Query{Limit: &limit})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

type fakeStore struct {
	inserted []Entry
	insertErr error
	queryResult []Entry
	cleared bool
}

func (f *fakeStore) Insert(entry Entry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, entry)
	return nil
}

func (f *fakeStore) Clear() error {
	f.cleared = true
	return nil
}

func (f *fakeStore) Query(q Query) ([]Entry, error) {
	return f.queryResult, nil
}

func TestQueryDelegatesToStoreWhenConfigured(t *testing.T) {
	store := &fakeStore{queryResult: []Entry{{Request: Request{ID: 42}}}}
	ring := NewWithStore(10, store)

	results, err := ring.Query(Query{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.EqualValues(t, 42, results[0].Request.ID)
}

func TestPushPersistsAsynchronouslyToStore(t *testing.T) {
	store := &fakeStore{}
	ring := NewWithStore(10, store)
	ring.Push(req("GET", "http://example.test/"), nil)

	require.Eventually(t, func() bool {
		return len(store.inserted) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPushSurvivesStoreInsertError(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("disk full")}
	ring := NewWithStore(10, store)
	id := ring.Push(req("GET", "http://example.test/"), nil)
	assert.NotZero(t, id)
	assert.Equal(t, 1, ring.Len())
}
