// Package query implements the stack's backend: a thin HTTP service that
// forwards a text query to an agent and returns its answer.
package query

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/matgreaves/gantry/spec"
)

// Version is reported by the health endpoint.
const Version = "v1"

// Agent answers a single prompt. The real implementation lives outside
// this repository; tests and the bundled binary plug in their own.
type Agent interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, prompt string) (string, error)

func (f AgentFunc) Run(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NewHandler builds the service's route table around the given agent.
func NewHandler(agent Agent) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+spec.QueryPath, handleQuery(agent))
	mux.HandleFunc("GET "+spec.HealthPath, handleHealth)
	mux.HandleFunc("GET /{$}", handleRoot)
	return withCORS(mux)
}

// queryRequest is the accepted request body. The canonical field is
// user_input; the legacy "question" spelling some callers used is
// rejected with an error naming the right field rather than silently
// dropped.
type queryRequest struct {
	UserInput string  `json:"user_input"`
	Question  *string `json:"question"`
}

func handleQuery(agent Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if req.Question != nil {
			writeDetail(w, http.StatusBadRequest, `unknown field "question": the query field is named "user_input"`)
			return
		}
		if req.UserInput == "" {
			writeDetail(w, http.StatusBadRequest, `"user_input" is required`)
			return
		}

		answer, err := agent.Run(r.Context(), req.UserInput)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "query processing failed: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":      "query service",
		"version":      Version,
		"health_check": spec.HealthPath,
		"usage":        `POST ` + spec.QueryPath + ` with a JSON body containing a "user_input" field`,
	})
}

// withCORS allows any origin. The service sits behind the edge next to
// the frontend, but browsers may also call it directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDetail writes an error body in the {"detail": ...} shape callers
// of the query endpoint expect.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
