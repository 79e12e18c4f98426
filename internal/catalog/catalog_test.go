package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abidi-said/TransMate-sub000/internal/catalog"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestStaticResolver(t *testing.T) {
	cat := catalog.NewStatic(map[int64]int64{42: 7})

	projectID, err := cat.ProjectForKey(context.Background(), 42)
	if err != nil {
		t.Fatalf("ProjectForKey failed: %v", err)
	}
	if projectID != 7 {
		t.Errorf("expected project 7, got %d", projectID)
	}

	if _, err := cat.ProjectForKey(context.Background(), 999); !errors.Is(err, catalog.ErrKeyUnknown) {
		t.Errorf("expected ErrKeyUnknown, got %v", err)
	}
}

func TestHTTPResolver(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/api/v1/keys/42":
			fmt.Fprint(w, `{"id":42,"name":"greeting.hello","projectId":7}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cat := catalog.NewHTTPResolver(srv.URL, time.Second, newTestLogger())

	projectID, err := cat.ProjectForKey(context.Background(), 42)
	if err != nil {
		t.Fatalf("ProjectForKey failed: %v", err)
	}
	if projectID != 7 {
		t.Errorf("expected project 7, got %d", projectID)
	}

	// Second lookup is served from cache.
	if _, err := cat.ProjectForKey(context.Background(), 42); err != nil {
		t.Fatalf("cached ProjectForKey failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 upstream hit, got %d", hits.Load())
	}

	if _, err := cat.ProjectForKey(context.Background(), 999); !errors.Is(err, catalog.ErrKeyUnknown) {
		t.Errorf("expected ErrKeyUnknown for 404, got %v", err)
	}
}

func TestHTTPResolverBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":42}`)
	}))
	defer srv.Close()

	cat := catalog.NewHTTPResolver(srv.URL, time.Second, newTestLogger())
	if _, err := cat.ProjectForKey(context.Background(), 42); err == nil {
		t.Error("expected error for response missing projectId")
	}
}
