package spec

// The API path contract shared by the edge routing rules and the query
// service's own route table. Both sides consume these constants so the
// prefix can never drift between the listener rule and the backend mux.
const (
	// APIPrefix is the path prefix reserved for the query backend.
	APIPrefix = "/api"

	// APIPattern is the edge rule pattern covering the backend prefix.
	APIPattern = APIPrefix + "/*"

	// QueryPath accepts POST {"user_input": ...} and returns {"answer": ...}.
	QueryPath = APIPrefix + "/query"

	// HealthPath returns {"status": "healthy", "version": ...}.
	HealthPath = APIPrefix + "/health"
)
