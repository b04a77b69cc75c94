package edge

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/matgreaves/gantry/internal/pool"
	"github.com/matgreaves/gantry/internal/router"
	"github.com/matgreaves/gantry/spec"
)

// startBackend runs a replica-like HTTP server and registers it healthy
// in the pool.
func startBackend(t *testing.T, p *pool.Pool, id, body string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	p.Add(id, spec.Endpoint{Host: host, Port: port, Protocol: spec.HTTP})
	p.SetHealthy(id, true)
}

func buildTable(t *testing.T, backend, frontend *pool.Pool) *router.Table {
	t.Helper()
	table := router.New()
	if err := table.AddRule(1, []string{"/api/*"}, backend); err != nil {
		t.Fatal(err)
	}
	if err := table.SetDefault(frontend); err != nil {
		t.Fatal(err)
	}
	if err := table.Finalize(); err != nil {
		t.Fatal(err)
	}
	return table
}

func TestProxy_RoutesByPath(t *testing.T) {
	backend := pool.New("backend", 8000, spec.HTTP, nil)
	frontend := pool.New("frontend", 8501, spec.HTTP, nil)
	startBackend(t, backend, "backend-1", "from backend")
	startBackend(t, frontend, "frontend-1", "from frontend")

	var seen []Request
	proxy := New(0, buildTable(t, backend, frontend), func(r Request) { seen = append(seen, r) })
	edge := httptest.NewServer(proxy)
	defer edge.Close()

	for path, want := range map[string]string{
		"/api/health": "from backend",
		"/api/query":  "from backend",
		"/":           "from frontend",
		"/dashboard":  "from frontend",
	} {
		resp, err := http.Get(edge.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != want {
			t.Errorf("GET %s: body = %q, want %q", path, body, want)
		}
	}

	if len(seen) != 4 {
		t.Fatalf("observed %d requests, want 4", len(seen))
	}
	for _, r := range seen {
		if r.Status != 200 {
			t.Errorf("%s %s: observed status %d", r.Method, r.Path, r.Status)
		}
	}
}

func TestProxy_BalancesAcrossHealthyReplicas(t *testing.T) {
	backend := pool.New("backend", 8000, spec.HTTP, nil)
	frontend := pool.New("frontend", 8501, spec.HTTP, nil)
	startBackend(t, backend, "backend-1", "one")
	startBackend(t, backend, "backend-2", "two")
	startBackend(t, frontend, "frontend-1", "fe")

	proxy := New(0, buildTable(t, backend, frontend), nil)
	edge := httptest.NewServer(proxy)
	defer edge.Close()

	hits := map[string]int{}
	for i := 0; i < 6; i++ {
		resp, err := http.Get(edge.URL + "/api/query")
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		hits[string(body)]++
	}
	if hits["one"] != 3 || hits["two"] != 3 {
		t.Errorf("round-robin distribution = %v, want 3 each", hits)
	}
}

func TestProxy_EmptyPoolIs502(t *testing.T) {
	backend := pool.New("backend", 8000, spec.HTTP, nil)
	frontend := pool.New("frontend", 8501, spec.HTTP, nil)
	startBackend(t, frontend, "frontend-1", "fe")

	proxy := New(0, buildTable(t, backend, frontend), nil)
	edge := httptest.NewServer(proxy)
	defer edge.Close()

	resp, err := http.Get(edge.URL + "/api/query")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "backend") {
		t.Errorf("body should name the starved service: %q", body)
	}

	// The frontend keeps serving while the backend pool is empty.
	resp, err = http.Get(edge.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("frontend status = %d, want 200", resp.StatusCode)
	}
}

func TestProxy_UnhealthyReplicaLeavesRotation(t *testing.T) {
	backend := pool.New("backend", 8000, spec.HTTP, nil)
	frontend := pool.New("frontend", 8501, spec.HTTP, nil)
	startBackend(t, backend, "backend-1", "one")
	startBackend(t, backend, "backend-2", "two")
	startBackend(t, frontend, "frontend-1", "fe")
	backend.SetHealthy("backend-2", false)

	proxy := New(0, buildTable(t, backend, frontend), nil)
	edge := httptest.NewServer(proxy)
	defer edge.Close()

	for i := 0; i < 4; i++ {
		resp, err := http.Get(edge.URL + "/api/query")
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "one" {
			t.Fatalf("request %d reached gated replica: %q", i, body)
		}
	}
}
