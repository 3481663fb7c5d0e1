// Package providers verifies and normalizes inbound payment webhooks.
//
// Each Provider pairs a signature check with a parser that turns the
// provider's JSON into a models.PaymentEvent. Event types a provider does
// not map are normalized to EventIgnored rather than rejected.
package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"ring0.store/fulfillment/models"
)

type Provider interface {
	Method() models.PaymentMethod
	// SignatureHeader is the request header that carries the signature.
	SignatureHeader() string
	Verify(body []byte, signature string) bool
	Normalize(body []byte) (*models.PaymentEvent, error)
}

// New builds the provider for method. An empty secret is refused so that a
// misconfigured provider can never accept unsigned events.
func New(method models.PaymentMethod, secret string) (Provider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("no webhook secret configured for %s", method)
	}

	switch method {
	case models.MethodStripe:
		return NewStripe(secret), nil
	case models.MethodStorrik:
		return NewStorrik(secret), nil
	case models.MethodKomerza:
		return NewKomerza(secret), nil
	case models.MethodMoneyMotion:
		return NewMoneyMotion(secret), nil
	default:
		return nil, fmt.Errorf("payment method %s has no webhook provider", method)
	}
}

// Registry builds one provider per method, looking secrets up with secretFor.
func Registry(methods []models.PaymentMethod, secretFor func(models.PaymentMethod) string) (map[models.PaymentMethod]Provider, error) {
	registry := make(map[models.PaymentMethod]Provider, len(methods))
	for _, method := range methods {
		p, err := New(method, secretFor(method))
		if err != nil {
			return nil, err
		}
		registry[method] = p
	}
	return registry, nil
}

// hmacVerifier checks a keyed hash of the raw body in constant time.
type hmacVerifier struct {
	secret []byte
	hash   func() hash.Hash
	decode func(string) ([]byte, error)
	prefix string
}

func hexSHA256(secret string) hmacVerifier {
	return hmacVerifier{
		secret: []byte(secret),
		hash:   sha256.New,
		decode: hex.DecodeString,
		prefix: "sha256=",
	}
}

func base64SHA512(secret string) hmacVerifier {
	return hmacVerifier{
		secret: []byte(secret),
		hash:   sha512.New,
		decode: base64.StdEncoding.DecodeString,
	}
}

func (v hmacVerifier) verify(body []byte, signature string) bool {
	if len(v.secret) == 0 {
		return false
	}
	signature = strings.TrimSpace(signature)
	if v.prefix != "" {
		signature = strings.TrimPrefix(signature, v.prefix)
	}
	if signature == "" {
		return false
	}

	given, err := v.decode(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(v.hash, v.secret)
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
