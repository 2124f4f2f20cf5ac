// Package httpapi serves the session REST API, an NDJSON event stream and a
// websocket chat endpoint.
package httpapi

import (
	"net/http"
	"time"

	"github.com/Gurpartap/taskflow/internal/policyauth"
	"github.com/Gurpartap/taskflow/internal/policylimit"
	"github.com/Gurpartap/taskflow/internal/runtimewire"
)

type PolicyConfig struct {
	AuthToken           string
	MaxRequestBodyBytes int64
	RequestTimeout      time.Duration
	RatePerSecond       float64
	RateBurst           int
}

type handlers struct {
	runtime *runtimewire.Runtime
}

func NewRouter(runtime *runtimewire.Runtime, policy PolicyConfig) http.Handler {
	h := &handlers{runtime: runtime}

	reject := func(w http.ResponseWriter, _ *http.Request, err error) {
		writeMappedError(w, err)
	}
	limits := policylimit.Config{
		MaxRequestBodyBytes: policy.MaxRequestBodyBytes,
		RequestTimeout:      policy.RequestTimeout,
		RatePerSecond:       policy.RatePerSecond,
		Burst:               policy.RateBurst,
	}
	limiter := policylimit.NewRateLimiter(limits)

	authenticated := policyauth.Middleware(policy.AuthToken, reject)
	mutating := chain(
		authenticated,
		limiter.Middleware(reject),
		policylimit.Middleware(limits),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/sessions", mutating(http.HandlerFunc(h.handleSessionStart)))
	mux.Handle("POST /v1/sessions/{session_id}/reply", mutating(http.HandlerFunc(h.handleSessionReply)))
	mux.Handle("POST /v1/sessions/{session_id}/cancel", mutating(http.HandlerFunc(h.handleSessionCancel)))
	mux.Handle("GET /v1/sessions", authenticated(http.HandlerFunc(h.handleSessionList)))
	mux.Handle("GET /v1/sessions/{session_id}", authenticated(http.HandlerFunc(h.handleSessionQuery)))
	mux.Handle("GET /v1/sessions/{session_id}/events", authenticated(http.HandlerFunc(h.handleSessionEvents)))
	mux.Handle("GET /v1/workflows", authenticated(http.HandlerFunc(h.handleWorkflows)))
	mux.Handle("GET /ws/{session_id}", chain(authenticated, limiter.Middleware(reject))(http.HandlerFunc(h.handleWebsocket)))
	return mux
}

type middleware func(http.Handler) http.Handler

func chain(middlewares ...middleware) middleware {
	return func(next http.Handler) http.Handler {
		wrapped := next
		for i := len(middlewares) - 1; i >= 0; i-- {
			wrapped = middlewares[i](wrapped)
		}
		return wrapped
	}
}
