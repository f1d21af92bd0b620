package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/multicareConsortium/st-utils/internal/pkg/monitor"
)

const testPolicy = `package stutils.authz

default allow := false

allow if input.token == "letmein"
`

func testRouter(t *testing.T, mon *monitor.Monitor) http.Handler {
	t.Helper()

	r, err := Register(context.Background(), mon, strings.NewReader(testPolicy))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestHealthEndpointIsPublic(t *testing.T) {
	is := is.New(t)

	r := testRouter(t, monitor.New())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	is.Equal(w.Code, http.StatusOK)
}

func TestStatusRequiresToken(t *testing.T) {
	is := is.New(t)

	r := testRouter(t, monitor.New())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v0/status", nil))

	is.Equal(w.Code, http.StatusUnauthorized)
}

func TestStatusReturnsSnapshot(t *testing.T) {
	is := is.New(t)

	mon := monitor.New()
	mon.SetStartingConnections([]string{"office"})
	mon.PushSucceeded("office", "24e124725d395889")

	r := testRouter(t, mon)

	req := httptest.NewRequest(http.MethodGet, "/api/v0/status", nil)
	req.Header.Set("Authorization", "Bearer letmein")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	is.Equal(w.Code, http.StatusOK)

	var snap monitor.Snapshot
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &snap))
	is.Equal(snap.Pushed[monitor.SensorKey("office", "24e124725d395889")], 1)
	is.Equal(snap.DeadConnections, []string{"office"})
}

func TestMetricsEndpoint(t *testing.T) {
	is := is.New(t)

	mon := monitor.New()
	mon.PayloadReceived("office")

	r := testRouter(t, mon)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	is.Equal(w.Code, http.StatusOK)
	is.True(strings.Contains(w.Body.String(), "stutils_payloads_total"))
}
