package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whoswhip/anilyzer/internal/apierrors"
	"github.com/whoswhip/anilyzer/internal/cache"
	"github.com/whoswhip/anilyzer/internal/dataset"
	"github.com/whoswhip/anilyzer/internal/metrics"
	"github.com/whoswhip/anilyzer/internal/ratelimit"
	"go.uber.org/zap"
)

type fakeStore struct {
	series  map[string]dataset.Series
	queries int
	err     error
	count   int64
	pingErr error
}

func (f *fakeStore) ByAnilistIDs(ctx context.Context, ids []string) ([]dataset.Series, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	var out []dataset.Series
	for _, id := range ids {
		if s, ok := f.series[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) Count(ctx context.Context) (int64, error) {
	return f.count, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func seriesFixture(id int64, anilistID string) dataset.Series {
	title := fmt.Sprintf("Series %d", id)
	return dataset.Series{ID: id, Title: &title, SourceAnilistID: &anilistID}
}

func newTestHandlers(store *fakeStore, bucket *ratelimit.TokenBucket) *Handlers {
	logger := zap.NewNop()
	return NewHandlers(
		store,
		cache.New[dataset.Series](time.Hour),
		bucket,
		apierrors.NewHandler(logger),
		logger,
		metrics.NewMetrics(),
		50,
	)
}

func decodeLookup(t *testing.T, w *httptest.ResponseRecorder) LookupResponse {
	t.Helper()
	var resp LookupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestLookupGET(t *testing.T) {
	t.Run("resolves known ids and reports count", func(t *testing.T) {
		store := &fakeStore{series: map[string]dataset.Series{
			"123": seriesFixture(1, "123"),
		}}
		h := newTestHandlers(store, ratelimit.NewTokenBucket(25, 25))

		req := httptest.NewRequest(http.MethodGet, "/lookup?ids=123,456", nil)
		w := httptest.NewRecorder()
		h.LookupGET(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeLookup(t, w)
		assert.Equal(t, 1, resp.Count)
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "123", resp.Data[0].AnilistID())
	})

	t.Run("repeat request is served from cache", func(t *testing.T) {
		store := &fakeStore{series: map[string]dataset.Series{
			"123": seriesFixture(1, "123"),
		}}
		h := newTestHandlers(store, ratelimit.NewTokenBucket(25, 25))

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodGet, "/lookup?ids=123", nil)
			w := httptest.NewRecorder()
			h.LookupGET(w, req)
			require.Equal(t, http.StatusOK, w.Code)
		}

		assert.Equal(t, 1, store.queries, "second request must not hit the dataset")
	})

	t.Run("missing ids parameter returns 400", func(t *testing.T) {
		h := newTestHandlers(&fakeStore{}, ratelimit.NewTokenBucket(25, 25))

		req := httptest.NewRequest(http.MethodGet, "/lookup", nil)
		w := httptest.NewRecorder()
		h.LookupGET(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
	})

	t.Run("batch size boundary", func(t *testing.T) {
		store := &fakeStore{}
		h := newTestHandlers(store, ratelimit.NewTokenBucket(1000, 1000))

		makeIDs := func(n int) string {
			ids := make([]string, n)
			for i := range ids {
				ids[i] = strconv.Itoa(i + 1)
			}
			return strings.Join(ids, ",")
		}

		req := httptest.NewRequest(http.MethodGet, "/lookup?ids="+makeIDs(50), nil)
		w := httptest.NewRecorder()
		h.LookupGET(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "50 ids must be accepted")

		req = httptest.NewRequest(http.MethodGet, "/lookup?ids="+makeIDs(51), nil)
		w = httptest.NewRecorder()
		h.LookupGET(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "51 ids must be rejected")
	})

	t.Run("dataset failure returns generic 500", func(t *testing.T) {
		store := &fakeStore{err: errors.New("database is locked")}
		h := newTestHandlers(store, ratelimit.NewTokenBucket(25, 25))

		req := httptest.NewRequest(http.MethodGet, "/lookup?ids=123", nil)
		w := httptest.NewRecorder()
		h.LookupGET(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "database is locked")
	})
}

func TestLookupPOST(t *testing.T) {
	post := func(body string) (*httptest.ResponseRecorder, *http.Request) {
		req := httptest.NewRequest(http.MethodPost, "/lookup", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return httptest.NewRecorder(), req
	}

	t.Run("resolves numeric ids", func(t *testing.T) {
		store := &fakeStore{series: map[string]dataset.Series{
			"123": seriesFixture(1, "123"),
			"456": seriesFixture(2, "456"),
		}}
		h := newTestHandlers(store, ratelimit.NewTokenBucket(25, 25))

		w, req := post(`{"ids": [123, 456]}`)
		h.LookupPOST(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeLookup(t, w)
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("invalid JSON body returns 400", func(t *testing.T) {
		h := newTestHandlers(&fakeStore{}, ratelimit.NewTokenBucket(25, 25))

		w, req := post(`{"ids": [123`)
		h.LookupPOST(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing ids field returns 400", func(t *testing.T) {
		h := newTestHandlers(&fakeStore{}, ratelimit.NewTokenBucket(25, 25))

		w, req := post(`{}`)
		h.LookupPOST(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty ids array returns 400", func(t *testing.T) {
		h := newTestHandlers(&fakeStore{}, ratelimit.NewTokenBucket(25, 25))

		w, req := post(`{"ids": []}`)
		h.LookupPOST(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non-numeric ids return 400", func(t *testing.T) {
		h := newTestHandlers(&fakeStore{}, ratelimit.NewTokenBucket(25, 25))

		w, req := post(`{"ids": ["123"]}`)
		h.LookupPOST(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "numbers")
	})

	t.Run("fractional ids return 400", func(t *testing.T) {
		h := newTestHandlers(&fakeStore{}, ratelimit.NewTokenBucket(25, 25))

		w, req := post(`{"ids": [12.5]}`)
		h.LookupPOST(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRateLimiting(t *testing.T) {
	t.Run("26th request within the same instant is rejected", func(t *testing.T) {
		store := &fakeStore{series: map[string]dataset.Series{}}
		h := newTestHandlers(store, ratelimit.NewTokenBucket(25, 25))

		for i := 0; i < 25; i++ {
			req := httptest.NewRequest(http.MethodGet, "/lookup?ids=123", nil)
			w := httptest.NewRecorder()
			h.LookupGET(w, req)
			require.Equal(t, http.StatusOK, w.Code)
		}

		req := httptest.NewRequest(http.MethodGet, "/lookup?ids=123", nil)
		w := httptest.NewRecorder()
		h.LookupGET(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "25", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

		retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.Greater(t, retryAfter, 0)
	})

	t.Run("invalid batch still consumes a token", func(t *testing.T) {
		h := newTestHandlers(&fakeStore{}, ratelimit.NewTokenBucket(1, 1))

		// Malformed request burns the only token.
		req := httptest.NewRequest(http.MethodGet, "/lookup", nil)
		w := httptest.NewRecorder()
		h.LookupGET(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)

		// A well-formed request right after is rate limited.
		req = httptest.NewRequest(http.MethodGet, "/lookup?ids=123", nil)
		w = httptest.NewRecorder()
		h.LookupGET(w, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}

func TestHealth(t *testing.T) {
	store := &fakeStore{count: 42}
	h := newTestHandlers(store, ratelimit.NewTokenBucket(25, 25))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(42), resp.Count)
}

func TestReady(t *testing.T) {
	t.Run("ready when dataset is reachable", func(t *testing.T) {
		h := newTestHandlers(&fakeStore{}, ratelimit.NewTokenBucket(25, 25))

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		h.Ready(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("503 when dataset is unreachable", func(t *testing.T) {
		h := newTestHandlers(&fakeStore{pingErr: errors.New("gone")}, ratelimit.NewTokenBucket(25, 25))

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		h.Ready(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
