// Package authsvc implements challenge/response authentication over a
// peer repository. Two independent Services are constructed — one for
// Controllers, one for Cardhosts — so the identifier spaces never mix.
package authsvc

import (
	"errors"
	"time"

	"github.com/cardbridge/router/internal/metrics"
	"github.com/cardbridge/router/pkg/identity"
	"github.com/cardbridge/router/pkg/repository"
)

// Sentinel errors returned by Verify. Handlers translate these into the
// wire error taxonomy; authsvc itself never touches sockets.
var (
	ErrNotRegistered     = errors.New("authsvc: peer not registered")
	ErrNoChallenge       = errors.New("authsvc: no outstanding challenge")
	ErrChallengeExpired  = errors.New("authsvc: challenge expired")
	ErrChallengeMismatch = errors.New("authsvc: presented challenge does not match issued challenge")
)

// PeerSummary is the read-only view returned by ListConnected.
type PeerSummary struct {
	PeerID          string
	Authenticated   bool
	AuthenticatedAt time.Time
	RegisteredAt    time.Time
}

// Clock returns the current time; swappable in tests.
type Clock func() time.Time

// Service owns challenges and authenticated state for one identifier
// space. It never decides whether to close a socket on failed
// verification — that decision belongs to the handler above it.
type Service struct {
	peers      *repository.PeerRepository
	challenges *repository.ChallengeRepository
	now        Clock
	kind       string // "controller" or "cardhost", used only as a metrics label
}

// New constructs a Service backed by fresh repositories. kind labels the
// peer_kind dimension on this Service's metrics ("controller" or
// "cardhost"); the two identifier spaces never mix regardless of what
// is passed here.
func New(kind string) *Service {
	return &Service{
		peers:      repository.NewPeerRepository(),
		challenges: repository.NewChallengeRepository(),
		now:        time.Now,
		kind:       kind,
	}
}

// NewWithClock is New but with an injectable clock, for deterministic
// expiry tests.
func NewWithClock(kind string, now Clock) *Service {
	s := New(kind)
	s.now = now
	return s
}

// Initiate derives the peer id from publicKey, registers or updates the
// peer record (preserving any prior authenticated flag), issues a fresh
// 32-byte challenge, and returns both.
func (s *Service) Initiate(publicKey []byte) (peerID string, challenge string, err error) {
	peerID = identity.DerivePeerID(publicKey)
	now := s.now()

	s.peers.Upsert(repository.Peer{
		PeerID:       peerID,
		PublicKey:    publicKey,
		RegisteredAt: now,
	})

	nonce, err := identity.RandomBase64(identity.MinRandomBytes)
	if err != nil {
		return "", "", err
	}
	s.challenges.Issue(repository.Challenge{
		PeerID:   peerID,
		Nonce:    nonce,
		IssuedAt: now,
	})

	metrics.ChallengesIssued.WithLabelValues(s.kind).Inc()
	return peerID, nonce, nil
}

// Verify checks a signature over the previously issued challenge for
// peerID. The challenge is always consumed (one-shot), regardless of
// outcome. A false/nil return with a nil error means the signature
// genuinely failed to verify, not that something went wrong; callers
// must check err for the taxonomy of reasons verification could not
// even be attempted.
func (s *Service) Verify(peerID, presentedChallenge string, signature []byte) (bool, error) {
	peer, ok := s.peers.Get(peerID)
	if !ok {
		return false, ErrNotRegistered
	}

	stored, err := s.challenges.Consume(peerID, s.now())
	switch {
	case errors.Is(err, repository.ErrChallengeNotFound):
		metrics.AuthVerifications.WithLabelValues(s.kind, "no_challenge").Inc()
		return false, ErrNoChallenge
	case errors.Is(err, repository.ErrChallengeExpired):
		metrics.AuthVerifications.WithLabelValues(s.kind, "expired").Inc()
		return false, ErrChallengeExpired
	case err != nil:
		return false, err
	}

	if stored.Nonce != presentedChallenge {
		metrics.AuthVerifications.WithLabelValues(s.kind, "mismatch").Inc()
		return false, ErrChallengeMismatch
	}

	ok = identity.VerifySignature(peer.PublicKey, signature, stored.Nonce)
	if ok {
		s.peers.SetAuthenticated(peerID, true, s.now())
		metrics.AuthVerifications.WithLabelValues(s.kind, "success").Inc()
	} else {
		metrics.AuthVerifications.WithLabelValues(s.kind, "failure").Inc()
	}
	return ok, nil
}

// IsAuthenticated reports whether peerID currently holds an
// authenticated session at this layer.
func (s *Service) IsAuthenticated(peerID string) bool {
	p, ok := s.peers.Get(peerID)
	return ok && p.Authenticated
}

// Disconnect clears the authenticated flag without removing the peer
// record, so a subsequent Initiate for the same key is still allowed.
func (s *Service) Disconnect(peerID string) {
	s.peers.SetAuthenticated(peerID, false, s.now())
}

// ListConnected returns every currently authenticated peer. Used by the
// Cardhost-facing list operations.
func (s *Service) ListConnected() []PeerSummary {
	peers := s.peers.ListConnected()
	out := make([]PeerSummary, 0, len(peers))
	for _, p := range peers {
		out = append(out, PeerSummary{
			PeerID:          p.PeerID,
			Authenticated:   p.Authenticated,
			AuthenticatedAt: p.AuthenticatedAt,
			RegisteredAt:    p.RegisteredAt,
		})
	}
	return out
}

// CleanupExpiredChallenges drops every challenge older than the TTL.
// Intended to be called from the shared 60s cleanup ticker.
func (s *Service) CleanupExpiredChallenges() int {
	return s.challenges.CleanupExpired(s.now())
}

// PeerCount and AuthenticatedCount back the /stats endpoint.
func (s *Service) PeerCount() int          { return s.peers.Count() }
func (s *Service) AuthenticatedCount() int { return s.peers.CountAuthenticated() }
