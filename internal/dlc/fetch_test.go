package dlc

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/a.dlc"))
	assert.True(t, IsURL("http://localhost/a.dlc"))
	assert.False(t, IsURL("/tmp/a.dlc"))
	assert.False(t, IsURL("a.dlc"))
}

func TestFetch(t *testing.T) {
	data := testData(300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/packs/SONG.DLC" {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	var last int64
	got, name, err := Fetch(context.Background(), srv.Client(), srv.URL+"/packs/SONG.DLC", func(received, total int64) {
		last = received
	})
	require.NoError(t, err)
	assert.Equal(t, "SONG.DLC", name)
	assert.True(t, bytes.Equal(data, got))
	assert.Equal(t, int64(300), last)

	_, _, err = Fetch(context.Background(), srv.Client(), srv.URL+"/packs/MISSING.DLC", nil)
	assert.ErrorContains(t, err, "HTTP 404")
}

func TestFetchRejectsOversize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "16777216")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, _, err := Fetch(context.Background(), srv.Client(), srv.URL+"/BIG.DLC", nil)
	require.ErrorIs(t, err, ErrInvalidUpload)
}

func TestFetchNeedsFileName(t *testing.T) {
	_, _, err := Fetch(context.Background(), nil, "http://example.com/", nil)
	require.ErrorIs(t, err, ErrInvalidUpload)
}
