package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matgreaves/gantry/httpx"
	"github.com/matgreaves/gantry/spec"
)

// startStack runs the chat handler against a stub query backend.
func startStack(t *testing.T) (*httptest.Server, *httptest.Server) {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != spec.QueryPath {
			http.NotFound(w, r)
			return
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]string{"answer": "echo: " + req["user_input"]})
	}))
	t.Cleanup(backend.Close)

	frontend := httptest.NewServer(NewHandler(httpx.NewClient(backend.URL)))
	t.Cleanup(frontend.Close)
	return frontend, backend
}

func TestChat_ServesPage(t *testing.T) {
	frontend, _ := startStack(t)
	resp, err := http.Get(frontend.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestChat_ForwardsPrompt(t *testing.T) {
	frontend, _ := startStack(t)

	resp, err := http.Post(frontend.URL+"/ask", "application/json",
		strings.NewReader(`{"prompt": "find a doctor"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["answer"] != "echo: find a doctor" {
		t.Errorf("answer = %q", body["answer"])
	}
}

func TestChat_BackendDown(t *testing.T) {
	frontend, backend := startStack(t)
	backend.Close()

	resp, err := http.Post(frontend.URL+"/ask", "application/json",
		strings.NewReader(`{"prompt": "x"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestChat_Healthz(t *testing.T) {
	frontend, _ := startStack(t)
	resp, err := http.Get(frontend.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestChat_EmptyPrompt(t *testing.T) {
	frontend, _ := startStack(t)
	resp, err := http.Post(frontend.URL+"/ask", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
