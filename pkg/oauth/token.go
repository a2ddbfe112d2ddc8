package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CodeExchangeRequest holds the parameters of an authorization code grant.
type CodeExchangeRequest struct {
	TokenEndpoint string
	Code          string
	RedirectURI   string
	CodeVerifier  string
	Client        ClientCredentials
	// Resource is sent as the RFC 8707 resource parameter when non-empty.
	Resource string
}

// RefreshRequest holds the parameters of a refresh token grant.
type RefreshRequest struct {
	TokenEndpoint string
	RefreshToken  string
	Client        ClientCredentials
	Resource      string
	Scopes        []string
}

// tokenResponse is the token endpoint success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// tokenErrorResponse is the RFC 6749 Section 5.2 error body.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode exchanges an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, req CodeExchangeRequest) (*TokenData, error) {
	data := url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {req.Code},
		"redirect_uri":  {req.RedirectURI},
		"client_id":     {req.Client.ClientID},
		"code_verifier": {req.CodeVerifier},
	}
	if req.Client.ClientSecret != "" {
		data.Set("client_secret", req.Client.ClientSecret)
	}
	if req.Resource != "" {
		data.Set("resource", req.Resource)
	}

	token, err := c.doTokenRequest(ctx, req.TokenEndpoint, data)
	if err != nil {
		return nil, err
	}
	token.ClientInfo = &ClientCredentials{
		ClientID:     req.Client.ClientID,
		ClientSecret: req.Client.ClientSecret,
	}
	return token, nil
}

// RefreshToken obtains a new access token using a refresh token. When the
// server does not rotate the refresh token the previous one is kept.
func (c *Client) RefreshToken(ctx context.Context, req RefreshRequest) (*TokenData, error) {
	data := url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {req.RefreshToken},
		"client_id":     {req.Client.ClientID},
	}
	if req.Client.ClientSecret != "" {
		data.Set("client_secret", req.Client.ClientSecret)
	}
	if req.Resource != "" {
		data.Set("resource", req.Resource)
	}
	if len(req.Scopes) > 0 {
		data.Set("scope", strings.Join(req.Scopes, " "))
	}

	token, err := c.doTokenRequest(ctx, req.TokenEndpoint, data)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = req.RefreshToken
	}
	token.ClientInfo = &ClientCredentials{
		ClientID:     req.Client.ClientID,
		ClientSecret: req.Client.ClientSecret,
	}
	return token, nil
}

// doTokenRequest performs a token endpoint request.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*TokenData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, WrapError(KindTokenExchangeFailed, err, "failed to create token request")
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, WrapError(KindTokenExchangeFailed, err, "token request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, WrapError(KindTokenExchangeFailed, err, "failed to read token response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("Token request failed",
			"status", resp.StatusCode,
			"grant_type", data.Get("grant_type"))
		return nil, NewError(KindTokenExchangeFailed, "token exchange failed: %s", tokenErrorDetail(resp.StatusCode, body))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, WrapError(KindTokenExchangeFailed, err, "failed to parse token response")
	}

	if parsed.AccessToken == "" {
		return nil, NewError(KindMissingAccessToken, "token response missing access_token")
	}

	token := &TokenData{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	token.SetExpiresIn(parsed.ExpiresIn, time.Now())

	return token, nil
}

// tokenErrorDetail renders the upstream error and error_description, or the
// HTTP status when the body carries neither.
func tokenErrorDetail(status int, body []byte) string {
	var errResp tokenErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		switch {
		case errResp.Error != "" && errResp.ErrorDescription != "":
			return fmt.Sprintf("%s: %s", errResp.Error, errResp.ErrorDescription)
		case errResp.Error != "":
			return errResp.Error
		case errResp.ErrorDescription != "":
			return errResp.ErrorDescription
		}
	}
	return fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
}
