// Package exchange implements the broker gateway adapters behind the
// engine's ExecutionClient port.
//
// Two variants exist:
//
//   - LiveClient: REST command path plus a WebSocket event feed against a
//     broker gateway. Requests are HMAC-signed, rate-limited per command
//     category, and retried on 5xx.
//   - SimClient: an in-process gateway for backtests and tests. Commands
//     are acknowledged deterministically and fills are injected by the
//     caller.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Credentials is the API key triplet used to sign trading requests.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Auth signs gateway requests with HMAC-SHA256 over
// "timestamp + method + path [+ body]" using the base64-decoded secret.
type Auth struct {
	creds Credentials
}

// NewAuth creates an Auth from credentials.
func NewAuth(creds Credentials) *Auth {
	return &Auth{creds: creds}
}

// HasCredentials reports whether the full triplet is configured.
func (a *Auth) HasCredentials() bool {
	return a.creds.APIKey != "" && a.creds.Secret != "" && a.creds.Passphrase != ""
}

// Headers generates the signed headers for one request.
func (a *Auth) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}

	return map[string]string{
		"TRADE_API_KEY":    a.creds.APIKey,
		"TRADE_SIGNATURE":  sig,
		"TRADE_TIMESTAMP":  timestamp,
		"TRADE_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

// buildHMAC signs "timestamp + method + path [+ body]". The secret may be
// standard or URL-safe base64.
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{base64.URLEncoding, base64.StdEncoding}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
