// Package edge is the stack's single entry point: one HTTP listener
// whose requests are dispatched through the routing table to a target
// pool and proxied to a healthy replica.
package edge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"github.com/matgreaves/gantry/httpx"
	"github.com/matgreaves/gantry/internal/metrics"
	"github.com/matgreaves/gantry/internal/pool"
	"github.com/matgreaves/gantry/internal/router"
	"github.com/matgreaves/run"
)

type ctxKey int

const targetKey ctxKey = 0

type proxyTarget struct {
	host string
	port int
}

// Request describes one completed proxied request, for event reporting.
type Request struct {
	Service  string
	Method   string
	Path     string
	Status   int
	Duration time.Duration
}

// Proxy serves the edge listener for one stack.
type Proxy struct {
	addr    string
	table   *router.Table
	observe func(Request)
	reverse *httputil.ReverseProxy
}

// New creates a proxy over a finalized routing table. observe, if
// non-nil, is called after every proxied request.
func New(port int, table *router.Table, observe func(Request)) *Proxy {
	p := &Proxy{
		addr:    fmt.Sprintf(":%d", port),
		table:   table,
		observe: observe,
	}
	p.reverse = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			t := pr.In.Context().Value(targetKey).(proxyTarget)
			pr.Out.URL.Scheme = "http"
			pr.Out.URL.Host = fmt.Sprintf("%s:%d", t.host, t.port)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, _ error) {
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return p
}

// Runner returns the edge listener's lifecycle.
func (p *Proxy) Runner() run.Runner {
	return run.Func(func(ctx context.Context) error {
		return httpx.Serve(ctx, p.addr, p)
	})
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	target := p.table.Match(r.URL.Path)

	pl, ok := target.(*pool.Pool)
	if !ok {
		http.Error(w, "no pool for target "+target.Name(), http.StatusBadGateway)
		return
	}

	ep, ok := pl.Pick()
	if !ok {
		// Pool exists but has no healthy members. 502, not 404: the
		// route is valid, the backend just cannot take traffic.
		http.Error(w, "no healthy replicas for "+pl.Name(), http.StatusBadGateway)
		p.record(pl.Name(), r, http.StatusBadGateway, start)
		return
	}

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	ctx := context.WithValue(r.Context(), targetKey, proxyTarget{host: ep.Host, port: ep.Port})
	p.reverse.ServeHTTP(sw, r.WithContext(ctx))
	p.record(pl.Name(), r, sw.status, start)
}

func (p *Proxy) record(service string, r *http.Request, status int, start time.Time) {
	elapsed := time.Since(start)
	metrics.RequestsTotal.WithLabelValues(service, strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
	if p.observe != nil {
		p.observe(Request{
			Service:  service,
			Method:   r.Method,
			Path:     r.URL.Path,
			Status:   status,
			Duration: elapsed,
		})
	}
}

// statusWriter captures the response status for observation.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming responses pass through the proxy.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
