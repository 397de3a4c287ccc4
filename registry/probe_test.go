package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/modernizer/migration"
)

func TestLatestNPM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/express", r.URL.Path)
		w.Write([]byte(`{"dist-tags":{"latest":"4.19.2","next":"5.0.0-beta"}}`))
	}))
	defer srv.Close()

	p := NewProbe(WithNPMBase(srv.URL))
	version, err := p.Latest(context.Background(), migration.KindNodeJS, "express")
	require.NoError(t, err)
	assert.Equal(t, "4.19.2", version)
}

func TestLatestPyPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pypi/flask/json", r.URL.Path)
		w.Write([]byte(`{"info":{"version":"2.3.3"}}`))
	}))
	defer srv.Close()

	p := NewProbe(WithPyPIBase(srv.URL))
	version, err := p.Latest(context.Background(), migration.KindPython, "flask")
	require.NoError(t, err)
	assert.Equal(t, "2.3.3", version)
}

func TestLatestVersionsUnknownOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/express" {
			w.Write([]byte(`{"dist-tags":{"latest":"4.19.2"}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewProbe(WithNPMBase(srv.URL))
	results := p.LatestVersions(context.Background(), migration.KindNodeJS, []string{"express", "left-pad-internal"})

	assert.Equal(t, "4.19.2", results["express"])
	assert.Equal(t, Unknown, results["left-pad-internal"])
}

func TestLatestVersionsBoundedConcurrency(t *testing.T) {
	var inflight, peak atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		w.Write([]byte(`{"dist-tags":{"latest":"1.0.0"}}`))
	}))
	defer srv.Close()

	names := make([]string, 40)
	for i := range names {
		names[i] = "pkg-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
	}

	p := NewProbe(WithNPMBase(srv.URL))
	results := p.LatestVersions(context.Background(), migration.KindNodeJS, names)

	assert.Len(t, results, 40)
	assert.LessOrEqual(t, peak.Load(), int64(maxConcurrent))
}

func TestLatestEmptyName(t *testing.T) {
	p := NewProbe()
	_, err := p.Latest(context.Background(), migration.KindNodeJS, "")
	assert.Error(t, err)
}
