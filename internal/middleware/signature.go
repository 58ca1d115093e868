package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/go-github/v62/github"

	"github.com/arturoeanton/codelens-ingest/internal/port"
)

// GitHub webhook headers.
const (
	HeaderSignature = "X-Hub-Signature-256"
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"

	signaturePrefix = "sha256="
)

// SignatureErrorKind classifies a rejected webhook signature.
type SignatureErrorKind string

// Signature rejection kinds.
const (
	SignatureAuth    SignatureErrorKind = "auth"    // header missing
	SignatureConfig  SignatureErrorKind = "config"  // secret not configured
	SignatureInvalid SignatureErrorKind = "invalid" // malformed or mismatched
)

// SignatureError is returned by VerifySignature for every rejection.
type SignatureError struct {
	Kind SignatureErrorKind
	Err  error
}

func (e *SignatureError) Error() string { return e.Err.Error() }
func (e *SignatureError) Unwrap() error { return e.Err }

// Status maps the rejection to an HTTP status: misconfiguration is a server
// error, everything else is unauthorized.
func (e *SignatureError) Status() int {
	if e.Kind == SignatureConfig {
		return fiber.StatusInternalServerError
	}
	return fiber.StatusUnauthorized
}

// VerifySignature checks header against the HMAC-SHA256 of body under secret.
// body must be the exact bytes received. A nil error means the signature is valid.
func VerifySignature(secret string, body []byte, header string) error {
	if header == "" {
		return &SignatureError{Kind: SignatureAuth, Err: port.ErrMissingSignature}
	}
	if secret == "" {
		return &SignatureError{Kind: SignatureConfig, Err: port.ErrSecretNotConfigured}
	}
	// ValidateSignature also takes sha1=; only sha256 is trusted here.
	if !strings.HasPrefix(header, signaturePrefix) {
		return &SignatureError{Kind: SignatureInvalid, Err: port.ErrInvalidSignature}
	}
	if err := github.ValidateSignature(header, body, []byte(secret)); err != nil {
		return &SignatureError{Kind: SignatureInvalid, Err: port.ErrInvalidSignature}
	}
	return nil
}

// Sign returns the header value GitHub would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// WebhookSignature rejects requests whose body does not match the
// X-Hub-Signature-256 header. Rejections are logged as security events.
func WebhookSignature(secret string) fiber.Handler {
	return func(c fiber.Ctx) error {
		err := VerifySignature(secret, c.BodyRaw(), c.Get(HeaderSignature))
		if err == nil {
			return c.Next()
		}

		var se *SignatureError
		if !errors.As(err, &se) {
			return fiber.ErrUnauthorized
		}
		slog.Warn("Webhook signature rejected",
			"event", c.Get(HeaderEvent),
			"delivery_id", c.Get(HeaderDelivery),
			"remote_ip", c.IP(),
			"reason", string(se.Kind),
		)

		msg := "invalid signature"
		switch se.Kind {
		case SignatureAuth:
			msg = "missing signature"
		case SignatureConfig:
			msg = "webhook secret not configured"
		}
		return c.Status(se.Status()).JSON(fiber.Map{"error": msg})
	}
}
