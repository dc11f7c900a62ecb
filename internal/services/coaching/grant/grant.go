// Package grant issues and validates the EdDSA tokens that gate the live
// feedback stream. A grant carries the session it was minted for and nothing
// else; cohort labels never ride on it.
package grant

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/outtake.studio/internal/platform/errors"
	"github.com/louisbranch/outtake.studio/internal/platform/id"
)

// signerEnv holds raw env values before post-parse validation.
type signerEnv struct {
	Issuer     string        `env:"OUTTAKE_STUDIO_STREAM_GRANT_ISSUER"`
	Audience   string        `env:"OUTTAKE_STUDIO_STREAM_GRANT_AUDIENCE"`
	PrivateKey string        `env:"OUTTAKE_STUDIO_STREAM_GRANT_PRIVATE_KEY"`
	TTL        time.Duration `env:"OUTTAKE_STUDIO_STREAM_GRANT_TTL" envDefault:"5m"`
}

// verifierEnv holds raw env values before post-parse validation.
type verifierEnv struct {
	Issuer    string `env:"OUTTAKE_STUDIO_STREAM_GRANT_ISSUER"`
	Audience  string `env:"OUTTAKE_STUDIO_STREAM_GRANT_AUDIENCE"`
	PublicKey string `env:"OUTTAKE_STUDIO_STREAM_GRANT_PUBLIC_KEY"`
}

// SignerConfig defines how stream grants are minted.
type SignerConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	TTL      time.Duration
	Now      func() time.Time
}

// VerifierConfig defines how stream grants are verified.
type VerifierConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Claims captures validated stream grant claims.
type Claims struct {
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	JWTID     string
	SessionID string
}

// streamGrantClaims is the internal claims type used for JWT parsing.
type streamGrantClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// LoadSignerConfigFromEnv reads grant signing configuration. Grants are an
// opt-in surface: a missing private key disables signing without error, and
// the second return reports whether signing is enabled.
func LoadSignerConfigFromEnv(now func() time.Time) (SignerConfig, bool, error) {
	var raw signerEnv
	if err := env.Parse(&raw); err != nil {
		return SignerConfig{}, false, fmt.Errorf("parse stream grant env: %w", err)
	}
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if privateKey == "" {
		return SignerConfig{}, false, nil
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	if issuer == "" {
		return SignerConfig{}, false, fmt.Errorf("OUTTAKE_STUDIO_STREAM_GRANT_ISSUER is required")
	}
	if audience == "" {
		return SignerConfig{}, false, fmt.Errorf("OUTTAKE_STUDIO_STREAM_GRANT_AUDIENCE is required")
	}
	keyBytes, err := decodeBase64(privateKey)
	if err != nil {
		return SignerConfig{}, false, fmt.Errorf("decode stream grant private key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return SignerConfig{}, false, fmt.Errorf("stream grant private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if raw.TTL <= 0 {
		return SignerConfig{}, false, fmt.Errorf("stream grant ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return SignerConfig{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PrivateKey(keyBytes),
		TTL:      raw.TTL,
		Now:      now,
	}, true, nil
}

// LoadVerifierConfigFromEnv reads grant verification configuration. A
// missing public key disables verification without error.
func LoadVerifierConfigFromEnv(now func() time.Time) (VerifierConfig, bool, error) {
	var raw verifierEnv
	if err := env.Parse(&raw); err != nil {
		return VerifierConfig{}, false, fmt.Errorf("parse stream grant env: %w", err)
	}
	publicKey := strings.TrimSpace(raw.PublicKey)
	if publicKey == "" {
		return VerifierConfig{}, false, nil
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	if issuer == "" {
		return VerifierConfig{}, false, fmt.Errorf("OUTTAKE_STUDIO_STREAM_GRANT_ISSUER is required")
	}
	if audience == "" {
		return VerifierConfig{}, false, fmt.Errorf("OUTTAKE_STUDIO_STREAM_GRANT_AUDIENCE is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return VerifierConfig{}, false, fmt.Errorf("decode stream grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return VerifierConfig{}, false, fmt.Errorf("stream grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return VerifierConfig{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, true, nil
}

// Issue mints a stream grant for one session.
func Issue(sessionID string, cfg SignerConfig) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PrivateKeySize || cfg.TTL <= 0 {
		return "", errors.New("stream grant signer is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	jti, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate grant id: %w", err)
	}
	now := cfg.Now().UTC()
	return encodeGrant(cfg.Key, map[string]any{
		"iss":        cfg.Issuer,
		"aud":        cfg.Audience,
		"iat":        now.Unix(),
		"exp":        now.Add(cfg.TTL).Unix(),
		"jti":        jti,
		"session_id": sessionID,
	})
}

// Validate verifies a stream grant token and checks it was minted for the
// expected session.
func Validate(token, expectedSessionID string, cfg VerifierConfig) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeStreamGrantInvalid, "stream grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return Claims{}, errors.New("stream grant verifier is not configured")
	}

	var parsed streamGrantClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeStreamGrantMismatch,
			"stream grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeStreamGrantMismatch,
			"stream grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeStreamGrantInvalid, "stream grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeStreamGrantInvalid, "stream grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeStreamGrantExpired, "stream grant is expired")
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Before(nbf) {
			return Claims{}, apperrors.New(apperrors.CodeStreamGrantInvalid, "stream grant not active yet")
		}
	}

	if strings.TrimSpace(parsed.SessionID) == "" || parsed.SessionID != expectedSessionID {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeStreamGrantMismatch,
			"stream grant session mismatch",
			map[string]string{"Field": "session_id"},
		)
	}

	claims := Claims{
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		ExpiresAt: exp,
		JWTID:     parsed.ID,
		SessionID: parsed.SessionID,
	}
	if parsed.NotBefore != nil {
		claims.NotBefore = parsed.NotBefore.Time.UTC()
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// encodeGrant signs a compact EdDSA JWT over the payload claims.
func encodeGrant(key ed25519.PrivateKey, payload map[string]any) (string, error) {
	headerJSON, err := json.Marshal(map[string]string{
		"alg": "EdDSA",
		"typ": "JWT",
	})
	if err != nil {
		return "", fmt.Errorf("encode stream grant header: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode stream grant payload: %w", err)
	}

	encodedHeader := base64.RawURLEncoding.EncodeToString(headerJSON)
	encodedPayload := base64.RawURLEncoding.EncodeToString(payloadJSON)
	signingInput := encodedHeader + "." + encodedPayload
	signature := ed25519.Sign(key, []byte(signingInput))
	encodedSig := base64.RawURLEncoding.EncodeToString(signature)
	return signingInput + "." + encodedSig, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeStreamGrantInvalid, "stream grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeStreamGrantInvalid, "stream grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeStreamGrantInvalid, "stream grant is invalid")
}

// audienceContains reports whether the audience list contains the value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
