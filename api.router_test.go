package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, config *Config) *httprouter.Router {
	t.Helper()
	l, clock := newTestLibrary(t, newTestMemDB(t, 0), nil)
	api := NewAPIHandler(zap.NewNop(), config, &Statistics{started: clock.Now()}, clock, NewLibraryService(zap.NewNop(), l, nil))
	m := &MiddlewareMap{public: (&Middlewares{}).Chain, ops: (&Middlewares{}).Chain}
	return api.SetupRoutes(httprouter.New(), m)
}

// TestSetupLibraryRoutes ensures all expected endpoints are implemented.
func TestSetupLibraryRoutes(t *testing.T) {
	const id = "b:0190b3c4-6f1e-7cc2-9a41-3b1f2f4d5e6a"
	testCases := []struct {
		name        string
		method      string
		path        string
		implemented bool
	}{
		{"index endpoint", http.MethodGet, "/", true},
		{"status endpoint", http.MethodGet, "/status", true},
		{"fetch library endpoint", http.MethodGet, "/v1/library", true},
		{"clear library endpoint", http.MethodDelete, "/v1/library", true},
		{"create book endpoint", http.MethodPost, "/v1/books", true},
		{"fetch all books endpoint", http.MethodGet, "/v1/books", true},
		{"fetch all books endpoint with slash", http.MethodGet, "/v1/books/", true},
		{"fetch single book endpoint", http.MethodGet, "/v1/books/" + id, true},
		{"update book endpoint", http.MethodPut, "/v1/books/" + id, true},
		{"delete book endpoint", http.MethodDelete, "/v1/books/" + id, true},
		{"upload attachment endpoint", http.MethodPost, "/v1/books/" + id + "/attachment", true},
		{"download attachment endpoint", http.MethodGet, "/v1/books/" + id + "/attachment", true},
		{"remove attachment endpoint", http.MethodDelete, "/v1/books/" + id + "/attachment", true},
		{"strip attachments endpoint", http.MethodDelete, "/v1/attachments", true},
		{"borrow book endpoint", http.MethodPost, "/v1/books/" + id + "/borrow", true},
		{"fetch loans endpoint", http.MethodGet, "/v1/loans", true},
		{"return book endpoint", http.MethodPost, "/v1/loans/" + id + "/return", true},
		{"fetch history endpoint", http.MethodGet, "/v1/history", true},
		{"compact history endpoint", http.MethodPost, "/v1/history/compact", true},
		{"fetch archive endpoint", http.MethodGet, "/v1/history/archive", true},
		{"storage usage endpoint", http.MethodGet, "/v1/storage", true},
		{"invalid api endpoint", http.MethodGet, "/v1", false},
		{"invalid books endpoint", http.MethodGet, "/books", false},
		{"invalid borrow method", http.MethodGet, "/v1/books/" + id + "/borrow", false},
		{"ops disabled", http.MethodGet, "/ops/stats", false},
	}

	router := newTestRouter(t, nil)
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			h, _, tsr := router.Lookup(tc.method, tc.path)
			assert.Equal(t, tc.implemented, h != nil || tsr)
		})
	}
}

// TestSetupOpsRoutes ensures ops endpoints only exist once enabled.
func TestSetupOpsRoutes(t *testing.T) {
	router := newTestRouter(t, &Config{OpsEndpointsEnable: true})
	for _, path := range []string{"/ops/configs", "/ops/stats", "/ops/maintenance", "/ops/debug/vars", "/ops/debug/gc", "/ops/debug/fos"} {
		h, _, _ := router.Lookup(http.MethodGet, path)
		assert.NotNil(t, h, path)
	}
	h, _, _ := router.Lookup(http.MethodGet, "/ops/debug/pprof/heap")
	assert.Nil(t, h)

	router = newTestRouter(t, &Config{OpsEndpointsEnable: true, ProfilerEnable: true})
	h, _, _ = router.Lookup(http.MethodGet, "/ops/debug/pprof/heap")
	assert.NotNil(t, h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
