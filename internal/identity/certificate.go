// Package identity implements the certificate-based agent identity subsystem: claiming an agent_id, minting and
// validating HMAC-signed certificates, and authorizing registry overrides.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the identity package.
var (
	ErrTaken             = errors.New("agent_id is already claimed")
	ErrSignatureMismatch = errors.New("certificate signature does not match")
	ErrExpired           = errors.New("certificate has expired")
	ErrAgentMismatch     = errors.New("certificate agent_id does not match")
)

// Certificate is an immutable, HMAC-signed proof of ownership of an agent_id with an expiry. CertHash and Signature
// are both computed over the canonical JSON of {agent_id, issued_at, expires_at}.
type Certificate struct {
	AgentID   string    `json:"agent_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	CertHash  string    `json:"cert_hash"`
	Signature string    `json:"signature"`
}

// canonicalPayload is the sorted-key, whitespace-free JSON structure signed and hashed. Go's encoding/json already
// marshals struct fields in declaration order with no extra whitespace when using Marshal (not MarshalIndent); field
// names here are declared in lexicographic order so that declaration order IS sort order, giving one canonical form
// for signing.
type canonicalPayload struct {
	AgentID   string `json:"agent_id"`
	ExpiresAt int64  `json:"expires_at"`
	IssuedAt  int64  `json:"issued_at"`
}

// canonicalJSON returns the UTF-8, sorted-key, whitespace-free JSON representation of {agent_id, issued_at,
// expires_at} used for both hashing and signing. Timestamps are encoded as Unix milliseconds so the representation
// is independent of time.Time's internal monotonic reading and location.
func canonicalJSON(agentID string, issuedAt, expiresAt time.Time) ([]byte, error) {
	payload := canonicalPayload{
		AgentID:   agentID,
		ExpiresAt: expiresAt.UnixMilli(),
		IssuedAt:  issuedAt.UnixMilli(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical payload: %w", err)
	}
	return b, nil
}

// mint computes CertHash and Signature for a new certificate using secretKey, and returns the fully populated value.
func mint(secretKey []byte, agentID string, issuedAt, expiresAt time.Time) (Certificate, error) {
	payload, err := canonicalJSON(agentID, issuedAt, expiresAt)
	if err != nil {
		return Certificate{}, err
	}

	sum := sha256.Sum256(payload)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write(payload)
	sig := mac.Sum(nil)

	return Certificate{
		AgentID:   agentID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		CertHash:  hex.EncodeToString(sum[:]),
		Signature: hex.EncodeToString(sig),
	}, nil
}

// verify recomputes the signature over the certificate's own fields and compares it (and CertHash) against the stored
// values in constant time, then checks expiry. It does not compare AgentID against any expected value; callers that
// need a particular agent_id check cert.AgentID themselves. It does not trust CertHash/Signature at face
// value — both are recomputed from {AgentID, IssuedAt, ExpiresAt}.
func verify(secretKey []byte, cert Certificate, now time.Time) error {
	payload, err := canonicalJSON(cert.AgentID, cert.IssuedAt, cert.ExpiresAt)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(payload)
	wantHash := hex.EncodeToString(sum[:])
	if !hmac.Equal([]byte(wantHash), []byte(cert.CertHash)) {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, secretKey)
	mac.Write(payload)
	wantSig := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(wantSig), []byte(cert.Signature)) {
		return ErrSignatureMismatch
	}

	if !now.Before(cert.ExpiresAt) {
		return ErrExpired
	}

	return nil
}
