package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// assertionLifetime is the validity of a signed assertion and the upper bound of the token it buys.
const assertionLifetime = time.Hour

// jwtSource exchanges a signed service-account assertion for an access token.
// It implements oauth2.TokenSource; ctx is captured because Token takes none.
type jwtSource struct {
	ctx      context.Context
	client   *http.Client
	sa       *ServiceAccount
	tokenURL string
	scope    string
	now      func() time.Time
}

// Assertion returns the RS256-signed JWT sent to the token endpoint.
func (s *jwtSource) Assertion() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss":   s.sa.ClientEmail,
		"scope": s.scope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.sa.PrivateKeyID != "" {
		token.Header["kid"] = s.sa.PrivateKeyID
	}
	return token.SignedString(s.sa.key)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token implements oauth2.TokenSource.
func (s *jwtSource) Token() (*oauth2.Token, error) {
	assertion, err := s.Assertion()
	if err != nil {
		return nil, fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &googleapi.Error{Code: resp.StatusCode, Message: "decode token response: " + err.Error()}
	}
	if tr.AccessToken == "" {
		return nil, &googleapi.Error{Code: resp.StatusCode, Message: "token response missing access_token"}
	}

	tok := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: tr.TokenType}
	if tr.ExpiresIn > 0 {
		tok.Expiry = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}
