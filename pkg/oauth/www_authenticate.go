package oauth

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthChallenge is a parsed WWW-Authenticate challenge.
type AuthChallenge struct {
	// Scheme is the authentication scheme, e.g. "Bearer".
	Scheme string

	// Realm is the protection space, if given.
	Realm string

	// Scope is the raw space separated scope string.
	Scope string

	// Error is the OAuth error code, e.g. "insufficient_scope".
	Error string

	// ErrorDescription is the human readable error text.
	ErrorDescription string

	// ResourceMetadataURL is the RFC 9728 resource_metadata parameter.
	ResourceMetadataURL string
}

// IsBearer returns true if the challenge uses the Bearer scheme.
func (c *AuthChallenge) IsBearer() bool {
	return strings.EqualFold(c.Scheme, "Bearer")
}

// Scopes returns the challenge scope split on whitespace.
func (c *AuthChallenge) Scopes() []string {
	return strings.Fields(c.Scope)
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
// Parameter values may be quoted (with backslash escapes) or bare tokens.
//
// Example headers:
//
//	Bearer realm="mcp", scope="read write"
//	Bearer error="insufficient_scope", scope=admin
//	Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	scheme, rest, _ := strings.Cut(header, " ")
	if scheme == "" || strings.Contains(scheme, "=") {
		return nil, fmt.Errorf("invalid WWW-Authenticate header format")
	}

	challenge := &AuthChallenge{Scheme: scheme}
	params := parseAuthParams(rest)

	challenge.Realm = params["realm"]
	challenge.Scope = params["scope"]
	challenge.Error = params["error"]
	challenge.ErrorDescription = params["error_description"]
	challenge.ResourceMetadataURL = params["resource_metadata"]

	return challenge, nil
}

// parseAuthParams parses comma separated auth-params. Keys are lowercased.
func parseAuthParams(s string) map[string]string {
	params := make(map[string]string)

	i := 0
	for i < len(s) {
		// skip separators
		for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == ',') {
			i++
		}
		start := i
		for i < len(s) && s[i] != '=' && s[i] != ',' && s[i] != ' ' {
			i++
		}
		key := strings.ToLower(s[start:i])
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			// token68 or malformed param, skip to the next comma
			for i < len(s) && s[i] != ',' {
				i++
			}
			continue
		}
		i++ // '='
		for i < len(s) && s[i] == ' ' {
			i++
		}

		var value strings.Builder
		if i < len(s) && s[i] == '"' {
			i++
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				value.WriteByte(s[i])
				i++
			}
			i++ // closing quote
		} else {
			for i < len(s) && s[i] != ',' && s[i] != ' ' && s[i] != '\t' {
				value.WriteByte(s[i])
				i++
			}
		}

		if key != "" {
			params[key] = value.String()
		}
	}

	return params
}

// DetectStepUp inspects a response for a step-up authorization demand: a
// 403 with a Bearer challenge carrying a non-empty scope. It returns nil in
// every other case.
func DetectStepUp(statusCode int, header http.Header) *StepUpInfo {
	if statusCode != http.StatusForbidden {
		return nil
	}

	for _, value := range headerValues(header, "WWW-Authenticate") {
		challenge, err := ParseWWWAuthenticate(value)
		if err != nil || !challenge.IsBearer() {
			continue
		}

		scopes := challenge.Scopes()
		if len(scopes) == 0 {
			continue
		}

		return &StepUpInfo{
			RequiredScopes:   scopes,
			Error:            challenge.Error,
			ErrorDescription: challenge.ErrorDescription,
		}
	}

	return nil
}

// DetectStepUpFromResponse is DetectStepUp for an *http.Response.
func DetectStepUpFromResponse(resp *http.Response) *StepUpInfo {
	if resp == nil {
		return nil
	}
	return DetectStepUp(resp.StatusCode, resp.Header)
}

// headerValues looks a header up case-insensitively, including keys that
// were set without canonicalization.
func headerValues(header http.Header, name string) []string {
	var values []string
	for key, v := range header {
		if strings.EqualFold(key, name) {
			values = append(values, v...)
		}
	}
	return values
}

// MergeScopes returns existing followed by every scope of required that is
// not already present. Order is stable and duplicates are dropped.
func MergeScopes(existing, required []string) []string {
	merged := make([]string, 0, len(existing)+len(required))
	seen := make(map[string]struct{}, len(existing)+len(required))

	for _, list := range [][]string{existing, required} {
		for _, scope := range list {
			if scope == "" {
				continue
			}
			if _, ok := seen[scope]; ok {
				continue
			}
			seen[scope] = struct{}{}
			merged = append(merged, scope)
		}
	}

	return merged
}
