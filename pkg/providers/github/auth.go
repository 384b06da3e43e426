package github

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const defaultBaseURL = "https://api.github.com"

// AppConfig contains GitHub App authentication settings. PrivateKey holds an
// inline PEM and wins over PrivateKeyPath.
type AppConfig struct {
	AppID          int64
	PrivateKeyPath string
	PrivateKey     string
	BaseURL        string
}

// Enabled reports whether app credentials are configured.
func (c AppConfig) Enabled() bool {
	return c.AppID != 0 && (c.PrivateKeyPath != "" || c.PrivateKey != "")
}

type appAuthenticator struct {
	appID    int64
	keyPath  string
	keyPEM   string
	baseURL  string
	now      func() time.Time
	keyOnce  sync.Once
	key      *rsa.PrivateKey
	keyError error
}

func newAppAuthenticator(cfg AppConfig) *appAuthenticator {
	return &appAuthenticator{
		appID:   cfg.AppID,
		keyPath: cfg.PrivateKeyPath,
		keyPEM:  cfg.PrivateKey,
		baseURL: normalizeBaseURL(cfg.BaseURL),
		now:     time.Now,
	}
}

// installationToken exchanges an app JWT for an installation access token.
func (a *appAuthenticator) installationToken(ctx context.Context, installationID int64) (string, error) {
	if installationID == 0 {
		return "", errors.New("github installation id is required")
	}
	signed, err := a.jwt()
	if err != nil {
		return "", err
	}
	client, err := newRESTClient(a.baseURL, nil)
	if err != nil {
		return "", err
	}
	token, _, err := client.WithAuthToken(signed).Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("github token exchange failed: %w", err)
	}
	if token.GetToken() == "" {
		return "", errors.New("github installation token missing from response")
	}
	return token.GetToken(), nil
}

func (a *appAuthenticator) jwt() (string, error) {
	key, err := a.privateKey()
	if err != nil {
		return "", err
	}
	now := a.now().UTC()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(a.appID, 10),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func (a *appAuthenticator) privateKey() (*rsa.PrivateKey, error) {
	a.keyOnce.Do(func() {
		keyBytes := []byte(a.keyPEM)
		if len(keyBytes) == 0 {
			raw, err := os.ReadFile(a.keyPath)
			if err != nil {
				a.keyError = err
				return
			}
			keyBytes = raw
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
		if err != nil {
			a.keyError = fmt.Errorf("github private key: %w", err)
			return
		}
		a.key = key
	})
	if a.keyError != nil {
		return nil, a.keyError
	}
	if a.key == nil {
		return nil, errors.New("github private key not loaded")
	}
	return a.key, nil
}

func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(base, "/")
}
