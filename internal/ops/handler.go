package ops

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler builds the mux for cfg. Every route sits behind the token check
// when a token is configured.
func (s *Server) Handler(cfg Config) http.Handler {
	auth := bearer(strings.TrimSpace(cfg.Token))
	mux := http.NewServeMux()
	mux.Handle("/metrics", auth(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	mux.Handle("/healthz", auth(http.HandlerFunc(s.serveHealth)))
	if cfg.Pprof {
		mountPprof(mux, normalizePrefix(cfg.PprofPrefix), auth)
	}
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.health()
	w.Header().Set("Content-Type", "application/json")
	if !h.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}

// bearer accepts "Authorization: Bearer <token>" or "?token=<token>".
func bearer(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(h http.Handler) http.Handler { return h }
	}
	want := []byte(token)
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && got == "" {
				got = strings.TrimSpace(v)
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

func mountPprof(mux *http.ServeMux, prefix string, auth func(http.Handler) http.Handler) {
	base := strings.TrimSuffix(prefix, "/")
	// pprof.Index resolves profile names relative to /debug/pprof/.
	mux.Handle(prefix, auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		pprof.Index(w, r2)
	})))
	mux.Handle(base+"/cmdline", auth(http.HandlerFunc(pprof.Cmdline)))
	mux.Handle(base+"/profile", auth(http.HandlerFunc(pprof.Profile)))
	mux.Handle(base+"/symbol", auth(http.HandlerFunc(pprof.Symbol)))
	mux.Handle(base+"/trace", auth(http.HandlerFunc(pprof.Trace)))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
}

func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return "/debug/pprof/"
	}
	return "/" + p + "/"
}
