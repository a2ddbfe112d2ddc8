package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	t.Run("creates client with defaults", func(t *testing.T) {
		c := NewClient()
		if c.httpClient == nil {
			t.Error("expected httpClient to be set")
		}
		if c.logger == nil {
			t.Error("expected logger to be set")
		}
		if c.metadataCache == nil {
			t.Error("expected metadataCache to be initialized")
		}
		if c.metadataTTL != DefaultMetadataCacheTTL {
			t.Errorf("expected metadataTTL to be %v, got %v", DefaultMetadataCacheTTL, c.metadataTTL)
		}
	})

	t.Run("applies options", func(t *testing.T) {
		customHTTP := &http.Client{Timeout: 10 * time.Second}
		customTTL := 5 * time.Minute

		c := NewClient(
			WithHTTPClient(customHTTP),
			WithMetadataCacheTTL(customTTL),
			WithAllowInsecureLoopback(true),
		)

		if c.HTTPClient() != customHTTP {
			t.Error("expected custom httpClient to be set")
		}
		if c.metadataTTL != customTTL {
			t.Errorf("expected metadataTTL to be %v, got %v", customTTL, c.metadataTTL)
		}
		if !c.allowInsecureLoopback {
			t.Error("expected allowInsecureLoopback to be set")
		}
	})
}

func TestDiscoverMetadata(t *testing.T) {
	t.Run("discovers via protected resource metadata", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("https://mcp.example.com/.well-known/oauth-protected-resource", http.StatusOK, map[string]interface{}{
			"resource":              "https://mcp.example.com",
			"authorization_servers": []string{"https://auth.example.com"},
		})
		web.json("https://auth.example.com/.well-known/oauth-authorization-server", http.StatusOK,
			validASMetadata("https://auth.example.com"))

		c := NewClient(WithHTTPClient(httpClient))
		metadata, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if metadata.AuthorizationEndpoint != "https://auth.example.com/authorize" {
			t.Errorf("unexpected authorization endpoint %q", metadata.AuthorizationEndpoint)
		}
		if metadata.TokenEndpoint != "https://auth.example.com/token" {
			t.Errorf("unexpected token endpoint %q", metadata.TokenEndpoint)
		}
		if metadata.RegistrationEndpoint != "https://auth.example.com/register" {
			t.Errorf("unexpected registration endpoint %q", metadata.RegistrationEndpoint)
		}
		if metadata.Resource != "https://mcp.example.com" {
			t.Errorf("expected resource indicator from PRM, got %q", metadata.Resource)
		}
		if web.count("https://mcp.example.com/.well-known/oauth-authorization-server") != 0 {
			t.Error("expected no AS metadata request against the resource")
		}
	})

	t.Run("falls back to resource as issuer on 404", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("https://mcp.example.com/.well-known/oauth-authorization-server", http.StatusOK,
			validASMetadata("https://mcp.example.com"))

		c := NewClient(WithHTTPClient(httpClient))
		metadata, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if metadata.TokenEndpoint != "https://mcp.example.com/token" {
			t.Errorf("unexpected token endpoint %q", metadata.TokenEndpoint)
		}
		if metadata.Resource != "" {
			t.Errorf("expected no resource indicator without PRM, got %q", metadata.Resource)
		}
		if web.count("https://mcp.example.com/.well-known/oauth-protected-resource") != 1 {
			t.Error("expected PRM to be requested once")
		}
		if web.count("https://mcp.example.com/.well-known/oauth-authorization-server") != 1 {
			t.Error("expected AS metadata to be requested on the resource host")
		}
	})

	t.Run("inserts issuer path after well-known suffix", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("https://mcp.example.com/mcp/.well-known/oauth-protected-resource", http.StatusOK, map[string]interface{}{
			"authorization_servers": []string{"https://auth.example.com/tenant1"},
		})
		web.json("https://auth.example.com/.well-known/oauth-authorization-server/tenant1", http.StatusOK,
			validASMetadata("https://auth.example.com/tenant1"))

		c := NewClient(WithHTTPClient(httpClient))
		metadata, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com/mcp/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if metadata.Issuer != "https://auth.example.com/tenant1" {
			t.Errorf("unexpected issuer %q", metadata.Issuer)
		}
	})

	t.Run("not found when both tiers return 404", func(t *testing.T) {
		_, httpClient := newFakeWeb(t)

		c := NewClient(WithHTTPClient(httpClient))
		_, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com")
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, ErrDiscoveryNotFound) {
			t.Errorf("expected DiscoveryNotFound, got %v", err)
		}
		if !strings.Contains(err.Error(), "not found") {
			t.Errorf("expected error to mention not found, got %q", err.Error())
		}
	})

	t.Run("missing token_endpoint is malformed", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("https://mcp.example.com/.well-known/oauth-authorization-server", http.StatusOK, map[string]interface{}{
			"authorization_endpoint": "https://mcp.example.com/authorize",
		})

		c := NewClient(WithHTTPClient(httpClient))
		_, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com")
		if !errors.Is(err, ErrDiscoveryMalformed) {
			t.Fatalf("expected DiscoveryMalformed, got %v", err)
		}
		if !strings.Contains(err.Error(), "token_endpoint") {
			t.Errorf("expected error to name token_endpoint, got %q", err.Error())
		}
	})

	t.Run("empty authorization_servers is malformed", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("https://mcp.example.com/.well-known/oauth-protected-resource", http.StatusOK, map[string]interface{}{
			"authorization_servers": []string{},
		})

		c := NewClient(WithHTTPClient(httpClient))
		_, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com")
		if !errors.Is(err, ErrDiscoveryMalformed) {
			t.Fatalf("expected DiscoveryMalformed, got %v", err)
		}
		if web.count("https://mcp.example.com/.well-known/oauth-authorization-server") != 0 {
			t.Error("malformed PRM must not fall back")
		}
	})

	t.Run("server error is a transport failure without fallback", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("https://mcp.example.com/.well-known/oauth-protected-resource", http.StatusInternalServerError, map[string]string{})
		web.json("https://mcp.example.com/.well-known/oauth-authorization-server", http.StatusOK,
			validASMetadata("https://mcp.example.com"))

		c := NewClient(WithHTTPClient(httpClient))
		_, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com")
		if !errors.Is(err, ErrDiscoveryTransportFailure) {
			t.Fatalf("expected DiscoveryTransportFailure, got %v", err)
		}
		if web.count("https://mcp.example.com/.well-known/oauth-authorization-server") != 0 {
			t.Error("server error must not trigger the fallback")
		}
	})

	t.Run("non-JSON body is a transport failure", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.handle("https://mcp.example.com/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>login</html>"))
		})

		c := NewClient(WithHTTPClient(httpClient))
		_, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com")
		if !errors.Is(err, ErrDiscoveryTransportFailure) {
			t.Fatalf("expected DiscoveryTransportFailure, got %v", err)
		}
	})

	t.Run("rejects non-https endpoints", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("https://mcp.example.com/.well-known/oauth-authorization-server", http.StatusOK, map[string]interface{}{
			"authorization_endpoint": "http://mcp.example.com/authorize",
			"token_endpoint":         "https://mcp.example.com/token",
		})

		c := NewClient(WithHTTPClient(httpClient))
		_, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com")
		if !errors.Is(err, ErrDiscoveryMalformed) {
			t.Fatalf("expected DiscoveryMalformed, got %v", err)
		}
		if !strings.Contains(err.Error(), "https") {
			t.Errorf("expected error to mention https, got %q", err.Error())
		}
	})

	t.Run("rejects non-https resource", func(t *testing.T) {
		c := NewClient()
		if _, err := c.DiscoverMetadata(context.Background(), "http://mcp.example.com"); err == nil {
			t.Fatal("expected error for http resource")
		}
	})

	t.Run("allows loopback http when enabled", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("http://localhost:8080/.well-known/oauth-authorization-server", http.StatusOK,
			validASMetadata("http://localhost:8080"))

		c := NewClient(WithHTTPClient(httpClient), WithAllowInsecureLoopback(true))
		metadata, err := c.DiscoverMetadata(context.Background(), "http://localhost:8080")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if metadata.TokenEndpoint != "http://localhost:8080/token" {
			t.Errorf("unexpected token endpoint %q", metadata.TokenEndpoint)
		}
	})
}

func TestDiscoverMetadata_Caching(t *testing.T) {
	t.Run("caches results per resource", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("https://mcp.example.com/.well-known/oauth-authorization-server", http.StatusOK,
			validASMetadata("https://mcp.example.com"))

		c := NewClient(WithHTTPClient(httpClient))
		for i := 0; i < 3; i++ {
			if _, err := c.DiscoverMetadata(context.Background(), "https://MCP.example.com/"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		if got := web.count("https://mcp.example.com/.well-known/oauth-authorization-server"); got != 1 {
			t.Errorf("expected 1 AS metadata request, got %d", got)
		}

		c.ClearMetadataCache()
		if _, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := web.count("https://mcp.example.com/.well-known/oauth-authorization-server"); got != 2 {
			t.Errorf("expected a fresh request after clearing the cache, got %d", got)
		}
	})

	t.Run("does not cache failures", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)

		c := NewClient(WithHTTPClient(httpClient))
		if _, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com"); err == nil {
			t.Fatal("expected first discovery to fail")
		}

		web.json("https://mcp.example.com/.well-known/oauth-authorization-server", http.StatusOK,
			validASMetadata("https://mcp.example.com"))
		if _, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com"); err != nil {
			t.Fatalf("expected second discovery to succeed, got %v", err)
		}
	})

	t.Run("deduplicates concurrent discoveries", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		release := make(chan struct{})
		web.handle("https://mcp.example.com/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
			<-release
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"authorization_servers":["https://auth.example.com"]}`))
		})
		web.json("https://auth.example.com/.well-known/oauth-authorization-server", http.StatusOK,
			validASMetadata("https://auth.example.com"))

		c := NewClient(WithHTTPClient(httpClient))

		const callers = 8
		var wg sync.WaitGroup
		results := make([]*ServerMetadata, callers)
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = c.DiscoverMetadata(context.Background(), "https://mcp.example.com")
			}(i)
		}

		time.Sleep(100 * time.Millisecond)
		close(release)
		wg.Wait()

		for i := 0; i < callers; i++ {
			if errs[i] != nil {
				t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
			}
			if results[i] != results[0] {
				t.Errorf("caller %d received a different result", i)
			}
		}

		if got := web.count("https://mcp.example.com/.well-known/oauth-protected-resource"); got != 1 {
			t.Errorf("expected 1 PRM request, got %d", got)
		}
		if got := web.count("https://auth.example.com/.well-known/oauth-authorization-server"); got != 1 {
			t.Errorf("expected 1 AS metadata request, got %d", got)
		}
	})

	t.Run("expires entries after TTL", func(t *testing.T) {
		web, httpClient := newFakeWeb(t)
		web.json("https://mcp.example.com/.well-known/oauth-authorization-server", http.StatusOK,
			validASMetadata("https://mcp.example.com"))

		c := NewClient(WithHTTPClient(httpClient), WithMetadataCacheTTL(10*time.Millisecond))
		if _, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		if _, err := c.DiscoverMetadata(context.Background(), "https://mcp.example.com"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := web.count("https://mcp.example.com/.well-known/oauth-authorization-server"); got != 2 {
			t.Errorf("expected 2 requests after TTL expiry, got %d", got)
		}
	})
}

func TestIsLoopbackHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LocalHost", true},
		{"127.0.0.1", true},
		{"127.0.0.2", true},
		{"127.255.255.254", true},
		{"::1", true},
		{"128.0.0.1", false},
		{"mcp.example.com", false},
		{"localhost.example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsLoopbackHost(tt.host); got != tt.want {
			t.Errorf("IsLoopbackHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
