package identity

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCertTTL is the certificate lifetime used when the caller does not configure one.
const DefaultCertTTL = 24 * time.Hour

// Claim is an agent_id's current ownership record. It is replaced wholesale on a successful force-reclaim and is
// otherwise immutable once minted.
type Claim struct {
	AgentID     string
	Certificate Certificate
	ClaimedAt   time.Time
}

// Manager owns all certificate and claim state for the hub. It is constructed once and passed explicitly to the
// dispatcher rather than held as a package-level global.
type Manager struct {
	mu        sync.RWMutex
	claims    map[string]Claim
	secretKey []byte
	certTTL   time.Duration
	log       zerolog.Logger
}

// NewManager creates an identity manager. secretKey must be non-empty; an empty key is a fatal startup configuration
// error, so callers should validate before constructing.
func NewManager(secretKey []byte, certTTL time.Duration, logger zerolog.Logger) *Manager {
	if certTTL <= 0 {
		certTTL = DefaultCertTTL
	}
	return &Manager{
		claims:    make(map[string]Claim),
		secretKey: secretKey,
		certTTL:   certTTL,
		log:       logger.With().Str("component", "identity").Logger(),
	}
}

// Claim mints a certificate for agentID. If no unexpired claim exists, a fresh certificate is minted unconditionally.
// If a claim exists: when force is true and presented is a certificate that Validate accepts for the same agentID,
// the claim is replaced and a new certificate minted; otherwise ErrTaken is returned.
func (m *Manager) Claim(agentID string, force bool, presented *Certificate) (Certificate, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.claims[agentID]; ok && now.Before(existing.Certificate.ExpiresAt) {
		if !force || presented == nil {
			return Certificate{}, ErrTaken
		}
		if err := verify(m.secretKey, *presented, now); err != nil || presented.AgentID != agentID {
			return Certificate{}, ErrTaken
		}
	}

	cert, err := mint(m.secretKey, agentID, now, now.Add(m.certTTL))
	if err != nil {
		return Certificate{}, err
	}

	m.claims[agentID] = Claim{AgentID: agentID, Certificate: cert, ClaimedAt: now}
	return cert, nil
}

// Validate recomputes the certificate's signature and checks expiry. It does not consult the claims map — a
// certificate remains valid on its own terms until it expires, independent of whether the claim that produced it has
// since been force-reclaimed (the reclaiming party is handed a brand new certificate, while the old certificate keeps
// passing Validate and AuthorizeOverride until it expires: Validate is a pure function of the certificate and the key).
func (m *Manager) Validate(cert Certificate) (ok bool, agentID string) {
	if err := verify(m.secretKey, cert, time.Now()); err != nil {
		return false, ""
	}
	return true, cert.AgentID
}

// AuthorizeOverride reports whether cert is a currently-valid certificate for agentID, the condition required to
// override an existing registry binding or replace an identity claim by force.
func (m *Manager) AuthorizeOverride(agentID string, cert Certificate) bool {
	ok, certAgentID := m.Validate(cert)
	return ok && certAgentID == agentID
}

// Sweep purges claims whose certificate has already expired. It is safe to call periodically from a background
// ticker.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for agentID, claim := range m.claims {
		if !now.Before(claim.Certificate.ExpiresAt) {
			delete(m.claims, agentID)
			purged++
		}
	}
	if purged > 0 {
		m.log.Debug().Int("purged", purged).Msg("Swept expired identity claims")
	}
	return purged
}

// RunSweeper blocks, sweeping expired claims on the given interval, until done is closed.
func (m *Manager) RunSweeper(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// ClaimCount returns the number of tracked claims, used in tests and diagnostics.
func (m *Manager) ClaimCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.claims)
}
