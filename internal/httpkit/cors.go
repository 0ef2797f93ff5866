package httpkit

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSOptions configures the CORS middleware. Zero values fall back to
// what the upload UI needs: GET/HEAD/POST and the artifact response headers.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
	DebugHeader      bool // sets X-CORS-Debug on every response
}

// artifactHeaders are the response headers a browser needs to read when it
// downloads a GLB or preview through /objects.
var artifactHeaders = []string{"ETag", "Content-Encoding", "Content-Length"}

type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]struct{}
	methods     string
	headers     string
	exposed     string
	maxAge      string
	credentials bool
	debug       bool
}

func newCORSPolicy(opt CORSOptions) *corsPolicy {
	p := &corsPolicy{
		origins:     map[string]struct{}{},
		methods:     "GET, HEAD, POST, OPTIONS",
		headers:     "Content-Type, Accept",
		exposed:     strings.Join(artifactHeaders, ", "),
		maxAge:      "600",
		credentials: opt.AllowCredentials,
		debug:       opt.DebugHeader,
	}
	for _, o := range NormalizeList(opt.AllowedOrigins) {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	if m := NormalizeList(opt.AllowedMethods); len(m) > 0 {
		p.methods = strings.Join(m, ", ")
	}
	if h := NormalizeList(opt.AllowedHeaders); len(h) > 0 {
		p.headers = strings.Join(h, ", ")
	}
	if e := NormalizeList(opt.ExposedHeaders); len(e) > 0 {
		p.exposed = strings.Join(mergeUnique(e, artifactHeaders), ", ")
	}
	if opt.MaxAgeSeconds > 0 {
		p.maxAge = strconv.Itoa(opt.MaxAgeSeconds)
	}
	return p
}

func (p *corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS answers preflights itself and decorates every other response from an
// allowed origin. Preflight-only headers are not sent on plain responses.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	p := newCORSPolicy(opt)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := p.allows(origin)
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			h := w.Header()
			if p.debug {
				h.Set("X-CORS-Debug", "origin="+origin+" allowed="+strconv.FormatBool(allowed))
			}
			if origin != "" {
				h.Add("Vary", "Origin")
			}

			if allowed {
				h.Set("Access-Control-Allow-Origin", origin)
				if p.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if preflight {
					h.Set("Access-Control-Allow-Methods", p.methods)
					h.Set("Access-Control-Allow-Headers", p.headers)
					h.Set("Access-Control-Max-Age", p.maxAge)
				} else {
					h.Set("Access-Control-Expose-Headers", p.exposed)
				}
			}

			// A plain OPTIONS falls through to the router.
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NormalizeList trims entries and drops empty ones.
func NormalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		k := http.CanonicalHeaderKey(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
