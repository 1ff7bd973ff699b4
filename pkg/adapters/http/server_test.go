package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	keelhttp "github.com/aretw0/keel/pkg/adapters/http"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/fleet"
	"github.com/aretw0/keel/pkg/handlers"
	"github.com/aretw0/keel/pkg/txn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T, opts ...keelhttp.Option) http.Handler {
	t.Helper()
	kernel := fleet.New(txn.New("master", handlers.NewRegistry()))
	srv, err := keelhttp.NewServer(kernel, opts...)
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGetHealth(t *testing.T) {
	rr := do(t, newHandler(t), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "master", resp["process"])
}

func TestSubmitAndReadTree(t *testing.T) {
	h := newHandler(t)

	// 1. Submit an add
	rr := do(t, h, http.MethodPost, "/operations",
		`{"operation":"add","address":"/subsystem=datasources","params":{"user":"sa","password":"hunter2"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp domain.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, domain.OutcomeCommitted, resp.Outcome.Status)

	// 2. Read it back, password masked
	rr = do(t, h, http.MethodGet, "/tree?address=/subsystem=datasources", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var res domain.Resource
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "sa", res.Attributes["user"])
	assert.Equal(t, "***", res.Attributes["password"])

	// 3. A failing operation is still a 200 with a structured failure
	rr = do(t, h, http.MethodPost, "/operations", `{"operation":"add","address":"/subsystem=datasources"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, domain.OutcomeRolledBack, resp.Outcome.Status)
	require.NotNil(t, resp.Outcome.Failure)
	assert.Equal(t, domain.FailureValidation, resp.Outcome.Failure.Kind)
}

func TestSubmit_MasksReadResults(t *testing.T) {
	h := newHandler(t)
	rr := do(t, h, http.MethodPost, "/operations",
		`{"operation":"add","address":"/subsystem=datasources","params":{"user":"sa","password":"hunter2"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	tests := map[string]struct {
		body string
		want any
	}{
		"read-resource": {
			body: `{"operation":"read-resource","address":"/subsystem=datasources"}`,
			want: map[string]any{"user": "sa", "password": "***"},
		},
		"read-attribute": {
			body: `{"operation":"read-attribute","address":"/subsystem=datasources","params":{"name":"password"}}`,
			want: "***",
		},
		"composite": {
			body: `{"operation":"composite","address":"/","params":{"steps":[
				{"operation":"read-attribute","address":"/subsystem=datasources","params":{"name":"password"}},
				{"operation":"read-attribute","address":"/subsystem=datasources","params":{"name":"user"}}]}}`,
			want: map[string]any{"step-1": "***", "step-2": "sa"},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/operations", tt.body)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.NotContains(t, rr.Body.String(), "hunter2")

			var resp struct {
				Outcome struct {
					Status string `json:"status"`
					Result any    `json:"result"`
				} `json:"outcome"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, string(domain.OutcomeCommitted), resp.Outcome.Status)
			if attrs, ok := tt.want.(map[string]any); ok && name == "read-resource" {
				res := resp.Outcome.Result.(map[string]any)
				assert.Equal(t, attrs, res["attributes"])
				return
			}
			assert.Equal(t, tt.want, resp.Outcome.Result)
		})
	}
}

func TestSubmit_RejectsInvalidBodies(t *testing.T) {
	h := newHandler(t)

	for name, body := range map[string]string{
		"not json":         `{`,
		"missing address":  `{"operation":"add"}`,
		"relative address": `{"operation":"add","address":"subsystem=x"}`,
		"bad address":      `{"operation":"add","address":"/subsystem"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/operations", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestReadTree_NotFound(t *testing.T) {
	rr := do(t, newHandler(t), http.MethodGet, "/tree?address=/subsystem=missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFleetRoutes(t *testing.T) {
	h := newHandler(t)

	rr := do(t, h, http.MethodGet, "/fleet", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodPost, "/fleet/slave-1/reconciled", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOpenAPIAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "keel_test_total", Help: "test"}))
	h := newHandler(t, keelhttp.WithMetrics(reg))

	rr := do(t, h, http.MethodGet, "/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "openapi: 3.0.3")

	rr = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "keel_test_total")
}
