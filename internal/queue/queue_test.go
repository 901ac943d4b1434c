package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/adcondev/receipt-daemon/internal/receipt"
)

var doc = json.RawMessage(`{"business":{"name":"Spice House"}}`)

// exerciseLifecycle runs the shared contract against any backend holding
// exactly the jobs a and b, both PENDING, in that order.
func exerciseLifecycle(t *testing.T, q Queue, a, b string) {
	t.Helper()
	ctx := context.Background()

	pending, err := q.FetchPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a, pending[0].ID)
	assert.Equal(t, b, pending[1].ID)

	require.NoError(t, q.MarkPrinting(ctx, a))

	err = q.MarkPrinting(ctx, a)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.ErrorIs(t, err, ErrUpdateFailed)

	err = q.MarkCompleted(ctx, b)
	assert.ErrorIs(t, err, ErrInvalidTransition, "terminal report needs a claim")

	pending, err = q.FetchPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b, pending[0].ID)

	require.NoError(t, q.MarkCompleted(ctx, a))
	assert.ErrorIs(t, q.MarkFailed(ctx, a, "late"), ErrInvalidTransition, "only one terminal report")

	require.NoError(t, q.MarkPrinting(ctx, b))
	require.NoError(t, q.MarkFailed(ctx, b, "PRINTER: offline"))

	pending, err = q.FetchPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var ue *UpdateError
	err = q.MarkPrinting(ctx, "missing")
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "missing", ue.JobID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPrinting, true},
		{StatusPending, StatusCompleted, false},
		{StatusPrinting, StatusCompleted, true},
		{StatusPrinting, StatusFailed, true},
		{StatusPrinting, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPrinting, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s → %s", tt.from, tt.to)
	}
}

func TestMemoryLifecycle(t *testing.T) {
	m := NewMemory(10, 10)
	a, pos, err := m.Enqueue(Job{Kind: receipt.KindKitchenTicket, Document: doc})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.NotEmpty(t, a.ID)
	b, pos, err := m.Enqueue(Job{ID: "b", Document: doc})
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	exerciseLifecycle(t, m, a.ID, b.ID)

	got, ok := m.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "PRINTER: offline", got.Error)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryCapacityAndHistory(t *testing.T) {
	m := NewMemory(2, 1)
	ctx := context.Background()

	_, _, err := m.Enqueue(Job{ID: "1"})
	require.NoError(t, err)
	_, _, err = m.Enqueue(Job{ID: "2"})
	require.NoError(t, err)
	_, _, err = m.Enqueue(Job{ID: "3"})
	assert.ErrorIs(t, err, ErrQueueFull)

	_, _, err = m.Enqueue(Job{ID: "1"})
	assert.Error(t, err)

	for _, id := range []string{"1", "2"} {
		require.NoError(t, m.MarkPrinting(ctx, id))
		require.NoError(t, m.MarkCompleted(ctx, id))
	}

	_, ok := m.Get("1")
	assert.False(t, ok, "oldest finished job is dropped past the history limit")
	_, ok = m.Get("2")
	assert.True(t, ok)

	_, _, err = m.Enqueue(Job{ID: "3"})
	require.NoError(t, err)
	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "3", list[0].ID)
	assert.Equal(t, "2", list[1].ID)
}

func TestMemoryConcurrentClaims(t *testing.T) {
	m := NewMemory(10, 10)
	job, _, err := m.Enqueue(Job{Document: doc})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.MarkPrinting(context.Background(), job.ID) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func setupSQLQueue(t *testing.T) *SQL {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	q, err := NewSQL(db, 0)
	require.NoError(t, err)
	return q
}

func TestSQLLifecycle(t *testing.T) {
	q := setupSQLQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, Job{ID: "a", Kind: receipt.KindBill, Printer: "Bar", Document: doc})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, Job{ID: "b", Document: doc})
	require.NoError(t, err)

	exerciseLifecycle(t, q, a.ID, b.ID)

	got, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, receipt.KindBill, got.Kind)
	assert.Equal(t, "Bar", got.Printer)
	assert.JSONEq(t, string(doc), string(got.Document))

	_, err = q.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLBatchSize(t *testing.T) {
	q := setupSQLQueue(t)
	q.batchSize = 2
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		_, err := q.Enqueue(ctx, Job{ID: id, Document: doc})
		require.NoError(t, err)
	}
	jobs, err := q.FetchPending(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestOpenDBRejectsUnknownDriver(t *testing.T) {
	_, err := OpenDB("oracle", "x")
	assert.Error(t, err)
}

// remoteQueue serves the HTTP queue protocol from a Memory queue.
func remoteQueue(t *testing.T, m *Memory, apiKey string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodGet && r.URL.Path == "/jobs" {
			jobs, _ := m.FetchPending(r.Context())
			_ = json.NewEncoder(w).Encode(jobs)
			return
		}
		id, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/status")
		if r.Method != http.MethodPost || !ok {
			http.NotFound(w, r)
			return
		}
		var body statusUpdate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var err error
		switch body.Status {
		case StatusPrinting:
			err = m.MarkPrinting(r.Context(), id)
		case StatusCompleted:
			err = m.MarkCompleted(r.Context(), id)
		case StatusFailed:
			err = m.MarkFailed(r.Context(), id, body.Error)
		}
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case err != nil:
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
}

func TestHTTPLifecycle(t *testing.T) {
	m := NewMemory(10, 10)
	a, _, err := m.Enqueue(Job{ID: "a", Document: doc})
	require.NoError(t, err)
	b, _, err := m.Enqueue(Job{ID: "b", Document: doc})
	require.NoError(t, err)

	srv := remoteQueue(t, m, "secret")
	defer srv.Close()

	exerciseLifecycle(t, NewHTTP(srv.URL+"/", "secret"), a.ID, b.ID)

	got, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, "PRINTER: offline", got.Error)
}

func TestHTTPUnauthorized(t *testing.T) {
	srv := remoteQueue(t, NewMemory(1, 1), "secret")
	defer srv.Close()

	q := NewHTTP(srv.URL, "wrong")
	_, err := q.FetchPending(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	err = q.MarkPrinting(context.Background(), "a")
	assert.ErrorIs(t, err, ErrUpdateFailed)
}

func TestOpenDBSQLiteMemory(t *testing.T) {
	db, err := OpenDB("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	q, err := NewSQL(db, 10)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), Job{ID: "only", Document: doc})
	require.NoError(t, err)
	jobs, err := q.FetchPending(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "only", jobs[0].ID)
}
