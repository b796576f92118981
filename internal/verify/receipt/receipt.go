// Package receipt signs verification results so a third party holding the
// key can later confirm what the service observed, and when.
package receipt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"credverify/internal/verify/view"
	dErrors "credverify/pkg/domain-errors"
)

// DefaultTTL bounds how long a receipt is accepted.
const DefaultTTL = 24 * time.Hour

// Claims is the signed body of a receipt. The subject is the token id.
type Claims struct {
	Status      view.Status `json:"status"`
	Owner       string      `json:"owner"`
	MetadataURI string      `json:"metadata_uri,omitempty"`
	Title       string      `json:"title,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and checks HS256 receipts.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewSigner builds a Signer. A non-positive ttl uses DefaultTTL.
func NewSigner(key, issuer string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{key: []byte(key), issuer: issuer, ttl: ttl}
}

// Issue signs vm as observed at now.
func (s *Signer) Issue(vm view.ViewModel, now time.Time) (string, time.Time, error) {
	if vm.TokenID == "" {
		return "", time.Time{}, dErrors.New(dErrors.CodeInternal, "receipt needs a verified credential")
	}
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Status:      vm.Status,
		Owner:       vm.Owner,
		MetadataURI: vm.MetadataURI,
		Title:       vm.Title,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   vm.TokenID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign receipt")
	}
	return signed, expires, nil
}

// Check validates a receipt's signature, issuer and expiry at now.
func (s *Signer) Check(raw string, now time.Time) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.key, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "receipt has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid receipt")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid receipt claims")
	}
	return claims, nil
}
