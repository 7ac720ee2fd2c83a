// Package identity derives deterministic peer identifiers from Ed25519
// public keys and verifies challenge signatures. Every function here is
// pure: no network calls, no shared state.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
)

var errNotEd25519 = errors.New("identity: SPKI key is not Ed25519")

// Prefix is prepended to every derived peer id.
const Prefix = "peer_"

// DerivePeerID computes the deterministic peer id for a raw public key:
// "peer_" + base64url(SHA-256(publicKey)) with "=" padding stripped.
// It is a total function over the input bytes.
func DerivePeerID(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return Prefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPeerID reports whether id is the peer id derived from publicKey.
func VerifyPeerID(id string, publicKey []byte) bool {
	return id == DerivePeerID(publicKey)
}

// CanonicalizeChallenge returns the canonical JSON encoding that a peer
// must sign to prove possession of a private key. The challenge is a
// string value, so canonicalization reduces to JSON string encoding
// (quoting and escaping) followed by UTF-8 bytes — there are no object
// keys to sort for this shape.
func CanonicalizeChallenge(challenge string) ([]byte, error) {
	return json.Marshal(challenge)
}

// VerifySignature reports whether signature is a valid Ed25519 signature
// over the canonical JSON encoding of challenge, under publicKey.
// Malformed keys or signatures yield false rather than an error, so
// callers never need to branch on error vs. failed verification.
func VerifySignature(publicKey, signature []byte, challenge string) bool {
	pub, err := parseEd25519PublicKey(publicKey)
	if err != nil {
		return false
	}
	canon, err := CanonicalizeChallenge(challenge)
	if err != nil {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, canon, signature)
}

// parseEd25519PublicKey accepts either a raw 32-byte Ed25519 public key
// or an SPKI-encoded (X.509 public key info) blob, matching the
// publicKey encodings peers commonly send over the wire.
func parseEd25519PublicKey(data []byte) (ed25519.PublicKey, error) {
	if len(data) == ed25519.PublicKeySize {
		return ed25519.PublicKey(data), nil
	}
	pub, err := x509.ParsePKIXPublicKey(data)
	if err != nil {
		return nil, err
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, errNotEd25519
	}
	return edPub, nil
}
