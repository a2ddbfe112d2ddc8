package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	protectedResourceWellKnown   = "/.well-known/oauth-protected-resource"
	authorizationServerWellKnown = "/.well-known/oauth-authorization-server"
)

// DiscoverMetadata resolves a protected resource URL to its authorization
// server metadata.
//
// It fetches the RFC 9728 protected resource metadata first and uses the
// first listed authorization server as issuer. If the resource has no such
// document (404) the resource URL itself is treated as the issuer. The
// issuer's RFC 8414 document then supplies the endpoints.
//
// Results are cached per normalized resource URL. Concurrent calls for the
// same resource share a single in-flight fetch and receive its result.
func (c *Client) DiscoverMetadata(ctx context.Context, resourceURL string) (*ServerMetadata, error) {
	key, resource, err := c.normalizeResourceURL(resourceURL)
	if err != nil {
		return nil, err
	}

	if metadata := c.cachedMetadata(key); metadata != nil {
		return metadata, nil
	}

	// Use singleflight to deduplicate concurrent fetches
	result, err, shared := c.metadataGroup.Do(key, func() (interface{}, error) {
		// Double-check cache after acquiring singleflight lock
		if metadata := c.cachedMetadata(key); metadata != nil {
			return metadata, nil
		}

		return c.doDiscoverMetadata(ctx, key, resource)
	})
	if shared {
		c.logger.Debug("Shared in-flight metadata discovery", "resource", key)
	}

	if err != nil {
		return nil, err
	}

	return result.(*ServerMetadata), nil
}

// ClearMetadataCache clears the metadata cache.
// Useful for testing or when metadata needs to be refreshed immediately.
func (c *Client) ClearMetadataCache() {
	c.metadataMu.Lock()
	c.metadataCache = make(map[string]*metadataCacheEntry)
	c.metadataMu.Unlock()
}

func (c *Client) cachedMetadata(key string) *ServerMetadata {
	c.metadataMu.RLock()
	defer c.metadataMu.RUnlock()

	entry, ok := c.metadataCache[key]
	if !ok {
		return nil
	}
	if c.metadataTTL > 0 && time.Since(entry.fetchedAt) >= c.metadataTTL {
		return nil
	}
	return entry.metadata
}

// doDiscoverMetadata performs the two-tier discovery for a resource.
func (c *Client) doDiscoverMetadata(ctx context.Context, key string, resource *url.URL) (*ServerMetadata, error) {
	prmURL := key + protectedResourceWellKnown

	var prm ProtectedResourceMetadata
	status, err := c.getJSON(ctx, prmURL, &prm)

	issuer := key
	resourceIndicator := ""

	switch {
	case status == http.StatusNotFound:
		c.logger.Debug("No protected resource metadata, using resource as issuer",
			"resource", key)
	case err != nil:
		return nil, discoveryFetchError(err, "failed to fetch protected resource metadata for %s", key)
	default:
		if len(prm.AuthorizationServers) == 0 || strings.TrimSpace(prm.AuthorizationServers[0]) == "" {
			return nil, NewError(KindDiscoveryMalformed,
				"protected resource metadata for %s: missing required field: authorization_servers", key)
		}
		issuer = strings.TrimSpace(prm.AuthorizationServers[0])
		resourceIndicator = prm.Resource
		c.logger.Debug("Found protected resource metadata",
			"resource", key,
			"authorization_server", issuer)
	}

	metadata, err := c.fetchAuthorizationServerMetadata(ctx, issuer)
	if err != nil {
		if IsKind(err, KindDiscoveryNotFound) && status == http.StatusNotFound {
			return nil, WrapError(KindDiscoveryNotFound, err,
				"OAuth metadata not found for %s", resource.Redacted())
		}
		return nil, err
	}
	metadata.Resource = resourceIndicator

	c.cacheMetadata(key, metadata)
	return metadata, nil
}

// fetchAuthorizationServerMetadata fetches and validates the RFC 8414
// document of an issuer. For an issuer with a path component the well-known
// suffix is inserted between host and path.
func (c *Client) fetchAuthorizationServerMetadata(ctx context.Context, issuer string) (*ServerMetadata, error) {
	issuerURL, err := url.Parse(issuer)
	if err != nil || issuerURL.Host == "" {
		return nil, NewError(KindDiscoveryMalformed, "invalid authorization server issuer %q", issuer)
	}
	if err := c.checkScheme(issuerURL); err != nil {
		return nil, WrapError(KindDiscoveryMalformed, err, "invalid authorization server issuer %q", issuer)
	}

	metadataURL := issuerURL.Scheme + "://" + issuerURL.Host +
		authorizationServerWellKnown + strings.TrimSuffix(issuerURL.EscapedPath(), "/")

	var metadata ServerMetadata
	status, err := c.getJSON(ctx, metadataURL, &metadata)
	if status == http.StatusNotFound {
		return nil, NewError(KindDiscoveryNotFound,
			"authorization server metadata not found at %s", metadataURL)
	}
	if err != nil {
		return nil, discoveryFetchError(err, "failed to fetch authorization server metadata from %s", metadataURL)
	}

	if err := c.validateServerMetadata(&metadata); err != nil {
		return nil, WrapError(KindDiscoveryMalformed, err,
			"invalid authorization server metadata from %s", metadataURL)
	}
	if metadata.Issuer == "" {
		metadata.Issuer = issuer
	}

	return &metadata, nil
}

// validateServerMetadata checks the required endpoints are present and use https.
func (c *Client) validateServerMetadata(m *ServerMetadata) error {
	required := []struct {
		field string
		value string
	}{
		{"authorization_endpoint", m.AuthorizationEndpoint},
		{"token_endpoint", m.TokenEndpoint},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("missing required field: %s", r.field)
		}
		if err := c.checkEndpoint(r.value); err != nil {
			return fmt.Errorf("%s: %w", r.field, err)
		}
	}

	if m.RegistrationEndpoint != "" {
		if err := c.checkEndpoint(m.RegistrationEndpoint); err != nil {
			return fmt.Errorf("registration_endpoint: %w", err)
		}
	}

	return nil
}

func (c *Client) checkEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid URL %q", endpoint)
	}
	return c.checkScheme(u)
}

func (c *Client) checkScheme(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if c.allowInsecureLoopback && IsLoopbackHost(u.Hostname()) {
			return nil
		}
	}
	return fmt.Errorf("URL %q must use https", u.Redacted())
}

// normalizeResourceURL validates a resource URL and returns its cache key:
// lowercase scheme and host, no query or fragment, no trailing slash.
func (c *Client) normalizeResourceURL(resourceURL string) (string, *url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(resourceURL))
	if err != nil {
		return "", nil, fmt.Errorf("invalid resource URL %q: %w", resourceURL, err)
	}
	if u.Host == "" {
		return "", nil, fmt.Errorf("invalid resource URL %q: missing host", resourceURL)
	}
	if err := c.checkScheme(u); err != nil {
		return "", nil, fmt.Errorf("invalid resource URL: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = strings.TrimSuffix(u.RawPath, "/")

	return u.String(), u, nil
}

// cacheMetadata stores metadata in the cache.
func (c *Client) cacheMetadata(key string, metadata *ServerMetadata) {
	c.metadataMu.Lock()
	c.metadataCache[key] = &metadataCacheEntry{
		metadata:  metadata,
		fetchedAt: time.Now(),
	}
	c.metadataMu.Unlock()

	c.logger.Debug("Cached OAuth metadata",
		"resource", key,
		"issuer", metadata.Issuer,
		"authorization_endpoint", metadata.AuthorizationEndpoint,
		"token_endpoint", metadata.TokenEndpoint,
		"registration_supported", metadata.SupportsRegistration())
}

// discoveryFetchError classifies a getJSON failure as a transport failure.
func discoveryFetchError(err error, format string, args ...interface{}) error {
	return WrapError(KindDiscoveryTransportFailure, err, format, args...)
}

// IsLoopbackHost reports whether host names the local machine: "localhost"
// or any loopback IP such as 127.0.0.0/8 and ::1.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
