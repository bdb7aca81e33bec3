package emapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mowtools/emsync/internal/config"
	"github.com/mowtools/emsync/internal/errors"
)

// Default ACM token endpoint. Overridable for tests.
const defaultTokenURL = "https://authenticatie.vlaanderen.be/op/v1/token"

// NewRequesterForAuth builds a requester for the selected authentication
// method. The method does not affect the paging contracts of the clients.
// rps caps the request rate against the upstream; zero means unlimited.
func NewRequesterForAuth(settings *config.Settings, env config.Environment, method config.AuthMethod, cookie string, rps float64) (*Requester, error) {
	baseURL, err := settings.BaseURL(env)
	if err != nil {
		return nil, err
	}

	switch method {
	case config.AuthJWT:
		js, err := settings.JWT(env)
		if err != nil {
			return nil, err
		}
		src, err := newTokenSource(js.KeyPath, js.ClientID, defaultTokenURL)
		if err != nil {
			return nil, err
		}
		return NewRequester(RequesterConfig{
			BaseURL: baseURL,
			RPS:     rps,
			Decorate: func(req *http.Request) error {
				token, err := src.token(req.Context())
				if err != nil {
					return err
				}
				req.Header.Set("Authorization", "Bearer "+token)
				return nil
			},
		}), nil

	case config.AuthCert:
		cs, err := settings.Cert(env)
		if err != nil {
			return nil, err
		}
		pair, err := tls.LoadX509KeyPair(cs.CertPath, cs.KeyPath)
		if err != nil {
			return nil, errors.NewConfigurationError("load client certificate").WithCause(err)
		}
		client := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{pair}},
			},
		}
		return NewRequester(RequesterConfig{BaseURL: baseURL, RPS: rps, Client: client}), nil

	case config.AuthCookie:
		if cookie == "" {
			return nil, errors.NewConfigurationError("cookie value is required for COOKIE authentication")
		}
		// Cookie sessions go through the host without the services. prefix.
		return NewRequester(RequesterConfig{
			BaseURL: strings.Replace(baseURL, "services.", "", 1),
			RPS:     rps,
			Decorate: func(req *http.Request) error {
				req.Header.Set("Cookie", "acm-awv="+cookie)
				return nil
			},
		}), nil
	}
	return nil, errors.NewConfigurationError(fmt.Sprintf("invalid authentication method %q", method))
}

// tokenSource exchanges a signed client assertion for a bearer token and
// caches it until shortly before expiry.
type tokenSource struct {
	clientID string
	tokenURL string
	key      interface{}

	mu      sync.Mutex
	cached  string
	expires time.Time
}

func newTokenSource(keyPath, clientID, tokenURL string) (*tokenSource, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.NewConfigurationError("read JWT signing key").WithCause(err).
			WithDetail("path", keyPath)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, errors.NewConfigurationError("parse JWT signing key").WithCause(err)
	}
	return &tokenSource{clientID: clientID, tokenURL: tokenURL, key: key}, nil
}

func (ts *tokenSource) token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cached != "" && time.Now().Before(ts.expires) {
		return ts.cached, nil
	}

	now := time.Now()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": ts.clientID,
		"sub": ts.clientID,
		"aud": ts.tokenURL,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"jti": fmt.Sprintf("%d", now.UnixNano()),
	})
	signed, err := assertion.SignedString(ts.key)
	if err != nil {
		return "", errors.NewConfigurationError("sign client assertion").WithCause(err)
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {signed},
		"scope":                 {"awv_toep_services"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.NewConnectivityError("token exchange").WithCause(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.NewProtocolError("token exchange rejected").
			WithDetail("status", resp.StatusCode).
			WithDetail("body", truncate(string(body), 512))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.NewProtocolError("decode token response").WithCause(err)
	}
	if payload.AccessToken == "" {
		return "", errors.NewProtocolError("token response without access_token")
	}

	ts.cached = payload.AccessToken
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime == 0 {
		lifetime = 5 * time.Minute
	}
	ts.expires = now.Add(lifetime - 30*time.Second)
	return ts.cached, nil
}
