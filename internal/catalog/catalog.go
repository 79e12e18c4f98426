// Package catalog resolves which project owns a translation key. The
// durable mapping lives in the persistence API; the coordinator only needs
// it to keep events from leaking across project rooms.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// ErrKeyUnknown is returned when the persistence API has no record of the
// key.
var ErrKeyUnknown = errors.New("unknown translation key")

type Resolver interface {
	ProjectForKey(ctx context.Context, keyID int64) (int64, error)
}

// Static is a fixed key→project mapping, used by tests and single-tenant
// deployments.
type Static struct {
	owners map[int64]int64
}

func NewStatic(owners map[int64]int64) *Static {
	m := make(map[int64]int64, len(owners))
	for k, v := range owners {
		m[k] = v
	}
	return &Static{owners: m}
}

func (s *Static) ProjectForKey(_ context.Context, keyID int64) (int64, error) {
	projectID, ok := s.owners[keyID]
	if !ok {
		return 0, ErrKeyUnknown
	}
	return projectID, nil
}

// HTTPResolver asks the persistence API for a key's owning project and
// caches positive answers. Key→project assignments never change after
// creation, so the cache needs no invalidation.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[int64]int64
}

func NewHTTPResolver(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   make(map[int64]int64),
		logger:  logger.With(slog.String("component", "catalog_http")),
	}
}

func (r *HTTPResolver) ProjectForKey(ctx context.Context, keyID int64) (int64, error) {
	r.mu.RLock()
	projectID, ok := r.cache[keyID]
	r.mu.RUnlock()
	if ok {
		return projectID, nil
	}

	url := fmt.Sprintf("%s/api/v1/keys/%d", r.baseURL, keyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building catalog request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("querying catalog for key %d: %w", keyID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrKeyUnknown
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("catalog returned status %d for key %d", resp.StatusCode, keyID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading catalog response: %w", err)
	}

	result := gjson.GetBytes(body, "projectId")
	if !result.Exists() {
		return 0, fmt.Errorf("catalog response for key %d missing projectId", keyID)
	}
	projectID = result.Int()

	r.mu.Lock()
	r.cache[keyID] = projectID
	r.mu.Unlock()

	r.logger.Debug("Resolved key owner", slog.Int64("keyID", keyID), slog.Int64("projectID", projectID))
	return projectID, nil
}
