package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// TokenSource exchanges a stored long-lived token for a fresh access token at
// Meta's OAuth endpoint. It implements outbound.TokenExchanger.
type TokenSource struct {
	client *retryablehttp.Client

	baseURL      string
	clientID     string
	clientSecret string
}

func NewTokenSource(clientID, clientSecret string, options ...TokenSourceOption) *TokenSource {
	client := retryablehttp.NewClient()
	client.Logger = nil

	s := &TokenSource{
		client:       client,
		baseURL:      graphApi,
		clientID:     clientID,
		clientSecret: clientSecret,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

type TokenSourceOption func(s *TokenSource)

func SetTokenBaseURL(baseURL string) TokenSourceOption {
	return func(s *TokenSource) {
		s.baseURL = baseURL
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`

	Error *graphError `json:"error"`
}

func (s *TokenSource) Exchange(ctx context.Context, refreshToken string) (string, time.Time, error) {
	query := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {s.clientID},
		"client_secret":     {s.clientSecret},
		"fb_exchange_token": {refreshToken},
	}

	endpoint := fmt.Sprintf("%s/oauth/access_token?%s", s.baseURL, query.Encode())

	req, err := retryablehttp.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "failed to build token request")
	}

	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "token endpoint unreachable")
	}
	defer resp.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", time.Time{}, errors.Wrapf(err, "unreadable token response (%d)", resp.StatusCode)
	}

	if parsed.Error != nil {
		return "", time.Time{}, errors.Errorf("token exchange rejected: graph error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}

	if parsed.AccessToken == "" {
		return "", time.Time{}, errors.Errorf("token response carried no access token (%d)", resp.StatusCode)
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		// Meta omits expires_in for tokens it considers non-expiring;
		// treat them as day-long so they still rotate.
		expiresIn = int64((24 * time.Hour).Seconds())
	}

	return parsed.AccessToken, time.Now().Add(time.Duration(expiresIn) * time.Second), nil
}
