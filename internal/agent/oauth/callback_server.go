package oauth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"mcpauth/pkg/logging"
	pkgoauth "mcpauth/pkg/oauth"
)

const (
	// DefaultCallbackPort is the first port probed for the local callback server.
	DefaultCallbackPort = 3000

	// CallbackPortRange is the number of consecutive ports probed.
	CallbackPortRange = 20

	// CallbackPath is the path the authorization server redirects to.
	CallbackPath = "/oauth/callback"

	// CallbackTimeout is how long to wait for the OAuth callback.
	CallbackTimeout = 5 * time.Minute

	// callbackHost is the loopback address the server binds to.
	callbackHost = "127.0.0.1"

	// stopDelay gives the browser time to receive the page before shutdown.
	stopDelay = 100 * time.Millisecond
)

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// errCallbackServerClosed settles a pending wait when Close is called first.
var errCallbackServerClosed = errors.New("callback server closed")

// CallbackResult is the outcome of a successful OAuth redirect.
type CallbackResult struct {
	// Code is the authorization code from the OAuth provider.
	Code string

	// State is the state parameter to verify against the original request.
	State string
}

// PortProbe reports whether a local port can be bound.
type PortProbe interface {
	Available(port int) bool
}

// TCPPortProbe checks ports by binding and immediately releasing them.
type TCPPortProbe struct {
	// Host defaults to 127.0.0.1.
	Host string
}

// Available implements PortProbe.
func (p TCPPortProbe) Available(port int) bool {
	host := p.Host
	if host == "" {
		host = callbackHost
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// FindAvailablePort returns the first port in [start, start+CallbackPortRange)
// that probe reports as available.
func FindAvailablePort(start int, probe PortProbe) (int, error) {
	if start <= 0 {
		start = DefaultCallbackPort
	}
	if probe == nil {
		probe = TCPPortProbe{}
	}

	for port := start; port < start+CallbackPortRange && port <= 65535; port++ {
		if probe.Available(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available callback port in range %d-%d", start, start+CallbackPortRange-1)
}

// CallbackRedirectURI returns the redirect URI served on port.
func CallbackRedirectURI(port int) string {
	return fmt.Sprintf("http://%s:%d%s", callbackHost, port, CallbackPath)
}

// CallbackServer is a temporary local HTTP server for receiving OAuth callbacks.
// It accepts exactly one callback, then shuts down.
type CallbackServer struct {
	port     int
	timeout  time.Duration
	server   *http.Server
	listener net.Listener

	// handleMu serializes callback handling so only one request settles.
	handleMu sync.Mutex

	done       chan struct{}
	settleOnce sync.Once
	result     *CallbackResult
	err        error

	closeOnce   sync.Once
	redirectURI string
}

// CallbackServerOption configures a CallbackServer.
type CallbackServerOption func(*CallbackServer)

// WithCallbackTimeout overrides CallbackTimeout.
func WithCallbackTimeout(timeout time.Duration) CallbackServerOption {
	return func(s *CallbackServer) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewCallbackServer creates a new callback server on the specified port.
// If port is 0, DefaultCallbackPort is used.
func NewCallbackServer(port int, opts ...CallbackServerOption) *CallbackServer {
	if port == 0 {
		port = DefaultCallbackPort
	}

	s := &CallbackServer{
		port:    port,
		timeout: CallbackTimeout,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the callback server and begins listening for the OAuth callback.
// The server stops when the context is cancelled, when the timeout elapses,
// or shortly after a callback has been answered.
// Returns the redirect URI to use in the OAuth authorization request.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	addr := net.JoinHostPort(callbackHost, fmt.Sprintf("%d", s.port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.redirectURI = CallbackRedirectURI(s.port)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.settle(nil, fmt.Errorf("callback server failed: %w", err))
		}
	}()

	timer := time.NewTimer(s.timeout)
	go func() {
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.Close()
		case <-timer.C:
			if s.settle(nil, pkgoauth.NewError(pkgoauth.KindCallbackTimeout,
				"timed out after %s waiting for the authorization callback", s.timeout)) {
				logging.Warn("CallbackServer", "No authorization callback received within %s", s.timeout)
			}
			s.Close()
		case <-s.done:
		}
	}()

	logging.Debug("CallbackServer", "Listening for OAuth callback on %s", s.redirectURI)
	return s.redirectURI, nil
}

// WaitForCallback blocks until the callback settles or ctx is done.
// It returns the code and state, or the error the callback settled with.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (*CallbackResult, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// Done is closed once the callback has settled.
func (s *CallbackServer) Done() <-chan struct{} {
	return s.done
}

// settle completes the pending result exactly once. It reports whether this
// call was the one that settled it.
func (s *CallbackServer) settle(result *CallbackResult, err error) bool {
	settled := false
	s.settleOnce.Do(func() {
		s.result = result
		s.err = err
		close(s.done)
		settled = true
	})
	return settled
}

func (s *CallbackServer) settled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// handleRequest routes requests; anything but the callback path is a 404.
func (s *CallbackServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != CallbackPath {
		http.NotFound(w, r)
		return
	}
	s.handleCallback(w, r)
}

// handleCallback answers the OAuth redirect and settles the pending result.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	setSecurityHeaders(w)

	if s.settled() {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	errCode := query.Get("error")
	errDescription := query.Get("error_description")

	var settleErr error
	var result *CallbackResult

	switch {
	case errCode != "":
		description := errDescription
		if description == "" {
			description = errCode
		}
		s.renderError(w, errCode, description)
		settleErr = pkgoauth.NewError(pkgoauth.KindCallbackAuthorizationDenied,
			"authorization denied: %s", description)
	case code == "" || state == "":
		s.renderError(w, "invalid_request", "missing code or state")
		settleErr = pkgoauth.NewError(pkgoauth.KindCallbackMissingParams,
			"invalid callback: missing code or state")
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = successTemplate.Execute(w, nil)
		result = &CallbackResult{Code: code, State: state}
	}

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	s.settle(result, settleErr)

	// Stop after the response has been written.
	time.AfterFunc(stopDelay, s.Close)
}

func (s *CallbackServer) renderError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_ = errorTemplate.Execute(w, map[string]string{
		"Error":       code,
		"Description": description,
	})
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

// Close stops the server. It is safe to call more than once and from any
// goroutine. A waiter that has not received a result gets an error.
func (s *CallbackServer) Close() {
	s.closeOnce.Do(func() {
		s.settle(nil, errCallbackServerClosed)

		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// RedirectURI returns the redirect URI for OAuth configuration.
func (s *CallbackServer) RedirectURI() string {
	return s.redirectURI
}

// Port returns the port the server is listening on.
func (s *CallbackServer) Port() int {
	return s.port
}
