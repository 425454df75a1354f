package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/int3rceptor/interceptor/internal/interceptor/capture"
)

func openTestStore(t *testing.T, key KeyProvider) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "captures.db")
	s, err := Open(path, key)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entryFixture(id uint64, method, url string, status int) capture.Entry {
	return capture.Entry{
		Request: capture.Request{
			ID:        id,
			Timestamp: 1700000000000,
			Method:    method,
			URL:       url,
			Headers:   []capture.Header{{Name: "host", Value: "test.local"}},
			Body:      []byte("request body"),
			TLS:       len(url) > 5 && url[:5] == "https",
		},
		Response: &capture.Response{
			RequestID:  id,
			StatusCode: status,
			Headers:    []capture.Header{{Name: "content-type", Value: "text/plain"}},
			Body:       []byte("response body"),
			DurationMS: 42,
		},
	}
}

func TestInsertAndQueryRoundTrip(t *testing.T) {
	s := openTestStore(t, KeyProvider{})
	require.NoError(t, s.Insert(entryFixture(1, "GET", "https://api.test.com/users", 200)))

	results, err := s.Query(capture.Query{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "GET", results[0].Request.Method)
	assert.Equal(t, "https://api.test.com/users", results[0].Request.URL)
	assert.Equal(t, 200, results[0].Response.StatusCode)
	assert.Equal(t, []byte("request body"), results[0].Request.Body)
	assert.Equal(t, []byte("response body"), results[0].Response.Body)
}

func TestQueryFiltersByMethod(t *testing.T) {
	s := openTestStore(t, KeyProvider{})
	require.NoError(t, s.Insert(entryFixture(1, "GET", "/a", 200)))
	require.NoError(t, s.Insert(entryFixture(2, "POST", "/b", 201)))

	method := "POST"
	results, err := s.Query(capture.Query{Method: &method})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "POST", results[0].Request.Method)
}

func TestQueryHonorsDefaultLimit(t *testing.T) {
	s := openTestStore(t, KeyProvider{})
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.Insert(entryFixture(i, "GET", "/x", 200)))
	}
	results, err := s.Query(capture.Query{})
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestInsertUpsertsSameID(t *testing.T) {
	s := openTestStore(t, KeyProvider{})
	require.NoError(t, s.Insert(entryFixture(1, "GET", "/original", 200)))
	require.NoError(t, s.Insert(entryFixture(1, "GET", "/updated", 201)))

	results, err := s.Query(capture.Query{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/updated", results[0].Request.URL)
	assert.Equal(t, 201, results[0].Response.StatusCode)
}

func TestClearEmptiesStore(t *testing.T) {
	s := openTestStore(t, KeyProvider{})
	require.NoError(t, s.Insert(entryFixture(1, "GET", "/a", 200)))
	require.NoError(t, s.Clear())

	results, err := s.Query(capture.Query{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEntryWithoutResponseRoundTrips(t *testing.T) {
	s := openTestStore(t, KeyProvider{})
	entry := capture.Entry{Request: capture.Request{ID: 1, Method: "GET", URL: "/pending"}}
	require.NoError(t, s.Insert(entry))

	results, err := s.Query(capture.Query{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Response)
}

func TestEncryptedFieldsRoundTripWithKeyEnabled(t *testing.T) {
	key, err := deriveProvider("a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90")
	require.NoError(t, err)
	require.True(t, key.IsEnabled())

	s := openTestStore(t, key)
	require.NoError(t, s.Insert(entryFixture(1, "POST", "https://secure.test/data", 200)))

	results, err := s.Query(capture.Query{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []byte("request body"), results[0].Request.Body)
	require.Len(t, results[0].Request.Headers, 1)
	assert.Equal(t, "host", results[0].Request.Headers[0].Name)
}
