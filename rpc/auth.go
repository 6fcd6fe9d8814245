package rpc

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"paymebridge/observability"
	"paymebridge/observability/logging"
	"paymebridge/payme"
)

// AuthConfig selects the merchant key accepted on the webhook.
type AuthConfig struct {
	// Key is the production cashbox key. A "Login:KEY" value is accepted and
	// only the part after the first colon is compared.
	Key      string
	TestKey  string
	TestMode bool
	// AllowAny disables the check entirely. Debug deployments only.
	AllowAny bool
}

// Authenticator verifies the provider credential on inbound webhook calls.
type Authenticator struct {
	expected string
	allowAny bool
	logger   *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	key := cfg.Key
	if cfg.TestMode {
		key = cfg.TestKey
	}
	return &Authenticator{expected: secretPart(key), allowAny: cfg.AllowAny, logger: logger}
}

// Enabled reports whether requests are checked at all.
func (a *Authenticator) Enabled() bool { return !a.allowAny }

// Authenticate returns nil when the request carries the expected key.
func (a *Authenticator) Authenticate(r *http.Request) *payme.Error {
	if a.allowAny {
		return nil
	}
	if a.expected == "" {
		a.logger.Error("rpc: merchant key not configured")
		return a.deny("key_not_configured")
	}
	supplied := Credential(r)
	if supplied == "" {
		return a.deny("missing_credential")
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(a.expected)) != 1 {
		a.logger.Warn("rpc: credential mismatch",
			logging.MaskField("credential", supplied),
			logging.MaskHeaders(r.Header, credentialHeaders...))
		return a.deny("mismatch")
	}
	return nil
}

func (a *Authenticator) deny(reason string) *payme.Error {
	observability.RPCMetrics().RecordAuthFailure(reason)
	return Unauthorized()
}

// Unauthorized is the fixed error the provider expects on credential failure.
func Unauthorized() *payme.Error {
	perr := payme.NewError(payme.KindUnauthorized, "Insufficient privileges")
	perr.Data = map[string]string{
		"ru": "Недостаточно привилегий",
		"uz": "Yetarli imtiyozlar yo'q",
	}
	return perr
}

var credentialHeaders = []string{"X-Auth", "X-Payme-Auth", "Authorization"}

// Credential extracts the secret from the first credential header present,
// falling back to the "key" query parameter. Basic credentials yield the
// password and Bearer credentials the token.
func Credential(r *http.Request) string {
	for _, header := range credentialHeaders {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			if parsed := parseCredential(value); parsed != "" {
				return parsed
			}
			break
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("key"))
}

func parseCredential(value string) string {
	scheme, rest, found := strings.Cut(value, " ")
	if found {
		rest = strings.TrimSpace(rest)
		switch strings.ToLower(scheme) {
		case "basic":
			decoded, err := base64.StdEncoding.DecodeString(rest)
			if err != nil {
				return ""
			}
			return secretPart(string(decoded))
		case "bearer":
			return rest
		}
	}
	return value
}

// secretPart drops a "login:" prefix.
func secretPart(value string) string {
	value = strings.TrimSpace(value)
	if _, secret, ok := strings.Cut(value, ":"); ok {
		return strings.TrimSpace(secret)
	}
	return value
}
