package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// GrantTypeAuthorizationCode is the authorization code grant type.
	GrantTypeAuthorizationCode = "authorization_code"

	// GrantTypeRefreshToken is the refresh token grant type.
	GrantTypeRefreshToken = "refresh_token"

	// ResponseTypeCode is the response type for the authorization code flow.
	ResponseTypeCode = "code"
)

// ClientStore persists client credentials obtained through registration,
// keyed by a server identifier.
type ClientStore interface {
	// ClientRegistration returns stored credentials, or nil if there are none.
	ClientRegistration(serverIdentifier string) *ClientCredentials
	// SetClientRegistration stores credentials for a server identifier.
	SetClientRegistration(serverIdentifier string, credentials *ClientCredentials)
}

// RegistrationRequest describes a dynamic client registration attempt.
type RegistrationRequest struct {
	// RegistrationEndpoint is the RFC 7591 endpoint; empty when unsupported.
	RegistrationEndpoint string
	// ServerIdentifier keys the stored credentials, usually the resource URL.
	ServerIdentifier string
	ClientName       string
	RedirectURIs     []string
	// TokenEndpointAuthMethod defaults to "none".
	TokenEndpointAuthMethod string
	// ConfigClientID is returned when registration is unavailable or fails.
	ConfigClientID string
}

// clientRegistrationRequest is the RFC 7591 request body.
type clientRegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// clientRegistrationResponse is the subset of the RFC 7591 response we use.
type clientRegistrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// RegisterClient obtains client credentials for a server.
//
// Stored credentials are returned without a network call. Otherwise the
// client registers itself when a registration endpoint is known. Any
// registration failure falls back to the configured client id, or to nil
// when none is configured; RegisterClient never fails.
func (c *Client) RegisterClient(ctx context.Context, req RegistrationRequest, store ClientStore) *ClientCredentials {
	if store != nil {
		if existing := store.ClientRegistration(req.ServerIdentifier); existing != nil && existing.ClientID != "" {
			return existing
		}
	}

	if req.RegistrationEndpoint == "" {
		c.logger.Debug("No registration endpoint, using configured client id",
			"server", req.ServerIdentifier,
			"has_client_id", req.ConfigClientID != "")
		return configuredClient(req.ConfigClientID)
	}

	credentials, err := c.register(ctx, req)
	if err != nil {
		c.logger.Warn("Dynamic client registration failed",
			"server", req.ServerIdentifier,
			"registration_endpoint", req.RegistrationEndpoint,
			"error", err)
		return configuredClient(req.ConfigClientID)
	}

	if store != nil {
		store.SetClientRegistration(req.ServerIdentifier, credentials)
	}

	c.logger.Info("Registered OAuth client",
		"server", req.ServerIdentifier,
		"client_id", credentials.ClientID,
		"confidential", credentials.ClientSecret != "")
	return credentials
}

func (c *Client) register(ctx context.Context, req RegistrationRequest) (*ClientCredentials, error) {
	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = TokenEndpointAuthMethodNone
	}

	body, err := json.Marshal(clientRegistrationRequest{
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		GrantTypes:              []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		ResponseTypes:           []string{ResponseTypeCode},
		TokenEndpointAuthMethod: authMethod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("registration failed with status %d", resp.StatusCode)
	}

	var parsed clientRegistrationResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}

	if strings.TrimSpace(parsed.ClientID) == "" {
		return nil, fmt.Errorf("registration response missing client_id")
	}

	return &ClientCredentials{
		ClientID:     parsed.ClientID,
		ClientSecret: parsed.ClientSecret,
	}, nil
}

func configuredClient(clientID string) *ClientCredentials {
	if clientID == "" {
		return nil
	}
	return &ClientCredentials{ClientID: clientID}
}
