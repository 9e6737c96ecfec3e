package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/bulwark/logging"
)

// Token is an OAuth 2.0 token endpoint response.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	// Raw is the full response body, for provider-specific fields.
	Raw json.RawMessage `json:"-"`
}

// ExchangeCredentialsForToken POSTs form-encoded params to a token endpoint
// with tighter limits than Send. An "error" field in a 2xx body, or a body
// without an access token, fails with *ProtocolError and is not retried.
func (c *Client) ExchangeCredentialsForToken(ctx context.Context, endpoint string, params url.Values) (*Token, error) {
	h := make(http.Header)
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("Accept", "application/json")

	resp, err := c.Send(ctx, endpoint, Request{
		Method:  http.MethodPost,
		Header:  h,
		Body:    []byte(params.Encode()),
		Timeout: TokenTimeout,
		Retries: TokenRetries,
	})
	if err != nil {
		c.log.Error("token request failed", logging.Fields{"endpoint": redact(endpoint), "err": err.Error()})
		return nil, err
	}

	if code := resp.Get("error"); code.Exists() && code.String() != "" {
		perr := &ProtocolError{
			URL:         redact(endpoint),
			Status:      resp.Status,
			Code:        code.String(),
			Description: resp.Get("error_description").String(),
			Body:        resp.Body,
		}
		c.log.Error("token endpoint returned an error", logging.Fields{
			"endpoint": perr.URL, "code": perr.Code, "description": perr.Description,
		})
		return nil, perr
	}

	// gjson tolerates providers that send expires_in as a string
	tok := &Token{
		AccessToken:  resp.Get("access_token").String(),
		TokenType:    resp.Get("token_type").String(),
		ExpiresIn:    resp.Get("expires_in").Int(),
		RefreshToken: resp.Get("refresh_token").String(),
		Scope:        resp.Get("scope").String(),
		IDToken:      resp.Get("id_token").String(),
		Raw:          json.RawMessage(resp.Body),
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		perr := &ProtocolError{
			URL:         redact(endpoint),
			Status:      resp.Status,
			Code:        "missing_access_token",
			Description: "no access token in response",
			Body:        resp.Body,
		}
		c.log.Error("token endpoint returned no access token", logging.Fields{"endpoint": perr.URL})
		return nil, perr
	}
	return tok, nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
