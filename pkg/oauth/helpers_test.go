package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// fakeWeb serves several virtual https hosts from one httptest server.
// Requests are routed by Host header and path.
type fakeWeb struct {
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   map[string]int
}

// rewriteTransport sends every request to target, keeping the original Host.
type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = t.target.Scheme
	clone.URL.Host = t.target.Host
	clone.Host = req.URL.Host
	return t.base.RoundTrip(clone)
}

func newFakeWeb(t *testing.T) (*fakeWeb, *http.Client) {
	t.Helper()

	web := &fakeWeb{
		routes: make(map[string]http.HandlerFunc),
		hits:   make(map[string]int),
	}

	server := httptest.NewServer(web)
	t.Cleanup(server.Close)

	target, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}

	return web, &http.Client{Transport: &rewriteTransport{target: target, base: http.DefaultTransport}}
}

func routeKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u.Host + u.Path
}

func (f *fakeWeb) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Host + r.URL.Path

	f.mu.Lock()
	handler, ok := f.routes[key]
	f.hits[key]++
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	handler(w, r)
}

func (f *fakeWeb) handle(rawURL string, handler http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[routeKey(rawURL)] = handler
}

func (f *fakeWeb) json(rawURL string, status int, body interface{}) {
	f.handle(rawURL, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (f *fakeWeb) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[routeKey(rawURL)]
}

func validASMetadata(base string) map[string]interface{} {
	return map[string]interface{}{
		"issuer":                 base,
		"authorization_endpoint": base + "/authorize",
		"token_endpoint":         base + "/token",
		"registration_endpoint":  base + "/register",
	}
}
