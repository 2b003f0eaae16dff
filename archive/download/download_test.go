package download_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-web-archiver/crystal/archive/download"
)

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crystal-test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("archived bytes"))
	}))
	defer server.Close()

	f := download.NewFetcher("crystal-test-agent")
	var lastProgress int64
	outcome := f.Fetch(context.Background(), server.URL, "", func(n int64) { lastProgress = n })

	require.Nil(t, outcome.Err)
	require.NotNil(t, outcome.Metadata)
	assert.Equal(t, http.StatusOK, outcome.Metadata.StatusCode)
	assert.Equal(t, []byte("archived bytes"), outcome.Body)
	assert.EqualValues(t, len("archived bytes"), lastProgress)
}

func TestFetchDoesNotFollowRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://example.test/moved")
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	f := download.NewFetcher("crystal-test-agent")
	outcome := f.Fetch(context.Background(), server.URL, "", nil)

	require.Nil(t, outcome.Err)
	require.NotNil(t, outcome.Metadata)
	assert.Equal(t, http.StatusFound, outcome.Metadata.StatusCode)
	found := false
	for _, h := range outcome.Metadata.Headers {
		if h[0] == "Location" {
			found = true
			assert.Equal(t, "https://example.test/moved", h[1])
		}
	}
	assert.True(t, found, "Location header should be archived verbatim")
}

func TestFetchSendsCookie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session=abc", r.Header.Get("Cookie"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := download.NewFetcher("crystal-test-agent")
	outcome := f.Fetch(context.Background(), server.URL, "session=abc", nil)
	require.Nil(t, outcome.Err)
}

func TestFetchNetworkErrorBecomesArchivedError(t *testing.T) {
	f := download.NewFetcher("crystal-test-agent")
	outcome := f.Fetch(context.Background(), "http://127.0.0.1:0/unreachable", "", nil)
	require.Nil(t, outcome.Metadata)
	require.NotNil(t, outcome.Err)
}
