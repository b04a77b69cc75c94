package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matgreaves/gantry/internal/driver/drivertest"
	"github.com/matgreaves/gantry/spec"
)

func newTestServer(t *testing.T) (*httptest.Server, *drivertest.Driver) {
	t.Helper()
	drv := drivertest.New()
	srv := httptest.NewServer(NewServer(NewPortAllocator(), drv, testSecrets(), 0))
	t.Cleanup(srv.Close)
	return srv, drv
}

func postStack(t *testing.T, srv *httptest.Server, st spec.Stack) *http.Response {
	t.Helper()
	body, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/stacks", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func deleteStack(t *testing.T, srv *httptest.Server, key string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/stacks/"+key, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func waitForStatus(t *testing.T, srv *httptest.Server, key string, service string, want spec.ServiceStatus) spec.ResolvedStack {
	t.Helper()
	deadline := time.Now().Add(testWait)
	var last spec.ResolvedStack
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/stacks/" + key)
		if err != nil {
			t.Fatal(err)
		}
		last = decodeJSON[spec.ResolvedStack](t, resp.Body)
		resp.Body.Close()
		if last.Services[service].Status == want {
			return last
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("service %q never reached %q; last: %+v", service, want, last)
	return last
}

func TestServer_CreateAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	st := testStack(freePort(t))

	resp := postStack(t, srv, st)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	created := decodeJSON[map[string]string](t, resp.Body)
	id := created["id"]
	if id == "" {
		t.Fatal("no instance id returned")
	}
	defer func() { deleteStack(t, srv, id).Body.Close() }()

	resolved := waitForStatus(t, srv, id, "backend", spec.StatusReady)
	backend := resolved.Services["backend"]
	if backend.Desired != 1 || len(backend.Replicas) != 1 {
		t.Errorf("backend = %+v, want 1 replica", backend)
	}
	if backend.Replicas[0].Status != spec.ReplicaHealthy {
		t.Errorf("replica status = %q", backend.Replicas[0].Status)
	}

	// Lookup by stack name works too.
	resp2, err := http.Get(srv.URL + "/stacks/agent-app")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("lookup by name: status = %d", resp2.StatusCode)
	}
}

func TestServer_ReapplyIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)
	st := testStack(freePort(t))

	resp := postStack(t, srv, st)
	created := decodeJSON[map[string]string](t, resp.Body)
	resp.Body.Close()
	defer func() { deleteStack(t, srv, created["id"]).Body.Close() }()

	// Identical spec: 200 with the existing instance, nothing redeployed.
	resp = postStack(t, srv, st)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-apply status = %d, want 200", resp.StatusCode)
	}
	again := decodeJSON[map[string]string](t, resp.Body)
	if again["id"] != created["id"] {
		t.Errorf("re-apply returned new instance %q, want %q", again["id"], created["id"])
	}
}

func TestServer_ReapplyChangedSpecConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	st := testStack(freePort(t))

	resp := postStack(t, srv, st)
	created := decodeJSON[map[string]string](t, resp.Body)
	resp.Body.Close()
	defer func() { deleteStack(t, srv, created["id"]).Body.Close() }()

	changed := st
	changed.Edge.Port = freePort(t)
	resp = postStack(t, srv, changed)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("changed re-apply status = %d, want 409", resp.StatusCode)
	}
}

func TestServer_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	st := testStack(freePort(t))
	backend := st.Services["backend"]
	backend.Image = ""
	st.Services["backend"] = backend

	resp := postStack(t, srv, st)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	body := decodeJSON[map[string]any](t, resp.Body)
	errs, _ := body["validation_errors"].([]any)
	if len(errs) == 0 {
		t.Fatalf("no validation_errors in %v", body)
	}
}

func TestServer_MalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/stacks", "application/json",
		strings.NewReader(`{"name": "x", "services": {"a": {}, "a": {}}}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate service key: status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_DeleteTearsDown(t *testing.T) {
	srv, drv := newTestServer(t)
	st := testStack(freePort(t))

	resp := postStack(t, srv, st)
	created := decodeJSON[map[string]string](t, resp.Body)
	resp.Body.Close()

	waitForStatus(t, srv, created["id"], "backend", spec.StatusReady)

	del := deleteStack(t, srv, created["id"])
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", del.StatusCode)
	}
	if drv.Running("backend-1") || drv.Running("frontend-1") {
		t.Error("replicas still running after delete")
	}

	// Gone means gone.
	resp, err := http.Get(srv.URL + "/stacks/" + created["id"])
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", resp.StatusCode)
	}
	if del := deleteStack(t, srv, created["id"]); del.StatusCode != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", del.StatusCode)
	}
}

func TestServer_SSEStreamsLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	st := testStack(freePort(t))

	resp := postStack(t, srv, st)
	created := decodeJSON[map[string]string](t, resp.Body)
	resp.Body.Close()
	defer func() { deleteStack(t, srv, created["id"]).Body.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/stacks/"+created["id"]+"/events", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// The stream replays the deploy and eventually carries stack.up.
	scanner := bufio.NewScanner(stream.Body)
	sawPool, sawUp := false, false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: pool.created" {
			sawPool = true
		}
		if line == "event: stack.up" {
			sawUp = true
			break
		}
	}
	if !sawPool || !sawUp {
		t.Errorf("stream missing events: pool.created=%v stack.up=%v", sawPool, sawUp)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	st := testStack(freePort(t))

	resp := postStack(t, srv, st)
	created := decodeJSON[map[string]string](t, resp.Body)
	resp.Body.Close()
	defer func() { deleteStack(t, srv, created["id"]).Body.Close() }()
	waitForStatus(t, srv, created["id"], "backend", spec.StatusReady)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", metricsResp.StatusCode)
	}
	body, _ := io.ReadAll(metricsResp.Body)
	if !bytes.Contains(body, []byte("gantry_service_replicas_desired")) {
		t.Errorf("desired-replica gauge missing from exposition")
	}
}
