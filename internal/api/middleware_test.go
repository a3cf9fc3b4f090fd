package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestRoutePattern_NestedRoutes(t *testing.T) {
	t.Parallel()
	var got string
	record := func(w http.ResponseWriter, r *http.Request) {
		got = routePattern(r)
	}

	r := chi.NewRouter()
	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/current/tail", record)
	})
	r.Route("/v1/workflows", func(r chi.Router) {
		r.Route("/{pipeline}", func(r chi.Router) {
			r.Post("/steps/{index}/run", record)
		})
	})
	r.Get("/livez", record)

	tests := map[string]struct {
		method string
		path   string
		want   string
	}{
		"jobs":     {http.MethodGet, "/v1/jobs/current/tail", "/v1/jobs/current/tail"},
		"workflow": {http.MethodPost, "/v1/workflows/ml/steps/0/run", "/v1/workflows/{pipeline}/steps/{index}/run"},
		"top":      {http.MethodGet, "/livez", "/livez"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got = ""
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoutePattern_NoRouteContext(t *testing.T) {
	t.Parallel()
	assert.Empty(t, routePattern(httptest.NewRequest(http.MethodGet, "/", nil)))
}
