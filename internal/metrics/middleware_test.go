package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByCode(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Delete("/api/links/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	deleted := httpRequestsTotal.WithLabelValues(http.MethodDelete, "204")
	missing := httpRequestsTotal.WithLabelValues(http.MethodDelete, "404")
	beforeDeleted, beforeMissing := testutil.ToFloat64(deleted), testutil.ToFloat64(missing)

	for _, id := range []string{"a", "b", "missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/links/"+id, nil))
	}

	require.InDelta(t, 2, testutil.ToFloat64(deleted)-beforeDeleted, 0)
	require.InDelta(t, 1, testutil.ToFloat64(missing)-beforeMissing, 0)
}

func TestMiddlewareWithoutRouter(t *testing.T) {
	Init()
	before := testutil.CollectAndCount(httpRequestDurationSeconds)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/anything", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	// A handler that never calls WriteHeader is recorded as 200 under the "unknown" route.
	require.Equal(t, before+1, testutil.CollectAndCount(httpRequestDurationSeconds))
	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodOptions, "200")), 0)
}
