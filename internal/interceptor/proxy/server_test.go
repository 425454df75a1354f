package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerStartServesThroughProxyAndStops(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("served"))
	}))
	defer upstream.Close()

	p := New(Options{})
	s := NewServer(p)
	s.SetBindAddr("127.0.0.1")
	s.SetPort(0)

	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	require.NotEmpty(t, s.Addr())
	assert.NotZero(t, s.Port())
	assert.Same(t, p, s.Proxy())

	req, err := http.NewRequest(http.MethodGet, upstream.URL+"/path", nil)
	require.NoError(t, err)

	client := &http.Client{
		Transport: &http.Transport{
			Proxy: func(*http.Request) (*url.URL, error) {
				return url.Parse("http://" + s.Addr())
			},
		},
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestServerAddrAndPortAreEmptyBeforeStart(t *testing.T) {
	s := NewServer(New(Options{}))
	assert.Empty(t, s.Addr())
	assert.Zero(t, s.Port())
	assert.NoError(t, s.Stop(context.Background()))
}
