// Package chat implements the stack's frontend: a single-page chat UI
// that forwards prompts to the query backend.
package chat

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/matgreaves/gantry/httpx"
	"github.com/matgreaves/gantry/spec"
)

//go:embed page.html
var page []byte

// NewHandler builds the frontend routes. backend points at the query
// service, normally the edge URL from the API_ENDPOINT environment
// variable.
func NewHandler(backend *httpx.Client) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	})
	mux.HandleFunc("POST /ask", handleAsk(backend))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return mux
}

// handleAsk forwards the browser's prompt to the backend's query
// endpoint, translating between the UI's field names and the backend's.
func handleAsk(backend *httpx.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if req.Prompt == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
			return
		}

		var answer struct {
			Answer string `json:"answer"`
		}
		err := backend.PostJSON(spec.QueryPath, map[string]string{"user_input": req.Prompt}, &answer)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "backend: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"answer": answer.Answer})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
