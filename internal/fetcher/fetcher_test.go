package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, opts Options) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(opts)
	require.NoError(t, err)
	return f
}

func TestGetSendsHeadersAndReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dircrawler-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{UserAgent: "dircrawler-test", Headers: map[string]string{"X-Extra": "yes"}})
	page, err := f.Get(context.Background(), srv.URL+"/?q=solar")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "<p>ok</p>", string(page.Body))
	assert.Equal(t, "q=solar", page.URL.RawQuery)
}

func TestGetRecordsRedirectTarget(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/detail/1", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/detail/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<p>moved</p>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := newTestFetcher(t, Options{}).Get(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, "/old", page.URL.Path)
	require.NotNil(t, page.FinalURL)
	assert.Equal(t, "/detail/1", page.FinalURL.Path)
	assert.Positive(t, page.ResponseLatency)
	assert.Equal(t, "<p>moved</p>", string(page.Body))
}

func TestGetNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, Options{}).Get(context.Background(), srv.URL)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestGetDecodesCompressedBodies(t *testing.T) {
	const payload = "<div class=\"detailAddress\">Brno</div>"
	var gz, br bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(payload))
	require.NoError(t, gw.Close())
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(payload))
	require.NoError(t, bw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/gzip":
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(gz.Bytes())
		case "/br":
			w.Header().Set("Content-Encoding", "br")
			_, _ = w.Write(br.Bytes())
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{})
	for _, path := range []string{"/gzip", "/br"} {
		page, err := f.Get(context.Background(), srv.URL+path)
		require.NoError(t, err, path)
		assert.Equal(t, payload, string(page.Body), path)
	}
}

func TestGetTranscodesLegacyCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1250")
		_, _ = w.Write([]byte("<p>P\xf8\xedkop\xec</p>"))
	}))
	defer srv.Close()

	page, err := newTestFetcher(t, Options{}).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<p>Příkopě</p>", string(page.Body))
}

func TestGetEnforcesBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(strings.Repeat("x", 128)))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, Options{MaxBodyBytes: 64}).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestNewHTTPFetcherRejectsBadProxy(t *testing.T) {
	_, err := NewHTTPFetcher(Options{ProxyURL: "://bad"})
	assert.Error(t, err)
}
