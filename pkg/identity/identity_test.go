package identity

import (
	"crypto/ed25519"
	"crypto/x509"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var peerIDPattern = regexp.MustCompile(`^peer_[A-Za-z0-9_-]+$`)

func TestDerivePeerID(t *testing.T) {
	t.Run("matches the expected shape for arbitrary bytes", func(t *testing.T) {
		for _, pk := range [][]byte{nil, []byte{}, []byte("short"), make([]byte, 512)} {
			id := DerivePeerID(pk)
			assert.Regexp(t, peerIDPattern, id)
			assert.NotContains(t, id, "=")
		}
	})

	t.Run("is deterministic for the same public key", func(t *testing.T) {
		pub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)

		id1 := DerivePeerID(pub)
		id2 := DerivePeerID(pub)
		assert.Equal(t, id1, id2)
	})

	t.Run("differs across distinct public keys", func(t *testing.T) {
		pub1, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		pub2, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)

		assert.NotEqual(t, DerivePeerID(pub1), DerivePeerID(pub2))
	})
}

func TestVerifyPeerID(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	other, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	id := DerivePeerID(pub)
	assert.True(t, VerifyPeerID(id, pub))
	assert.False(t, VerifyPeerID(id, other))
}

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	t.Run("valid signature over the canonical challenge verifies", func(t *testing.T) {
		challenge := "a-random-challenge-nonce"
		canon, err := CanonicalizeChallenge(challenge)
		require.NoError(t, err)
		sig := ed25519.Sign(priv, canon)

		assert.True(t, VerifySignature(pub, sig, challenge))
	})

	t.Run("altering any byte of the challenge invalidates the signature", func(t *testing.T) {
		challenge := "a-random-challenge-nonce"
		canon, err := CanonicalizeChallenge(challenge)
		require.NoError(t, err)
		sig := ed25519.Sign(priv, canon)

		assert.False(t, VerifySignature(pub, sig, "a-random-challenge-noncX"))
	})

	t.Run("altering the signature invalidates it", func(t *testing.T) {
		challenge := "a-random-challenge-nonce"
		canon, err := CanonicalizeChallenge(challenge)
		require.NoError(t, err)
		sig := ed25519.Sign(priv, canon)
		sig[0] ^= 0xFF

		assert.False(t, VerifySignature(pub, sig, challenge))
	})

	t.Run("malformed public key fails closed instead of panicking", func(t *testing.T) {
		assert.False(t, VerifySignature([]byte("not a key"), make([]byte, ed25519.SignatureSize), "x"))
	})

	t.Run("malformed signature fails closed", func(t *testing.T) {
		assert.False(t, VerifySignature(pub, []byte("short"), "x"))
	})

	t.Run("accepts SPKI-encoded public keys", func(t *testing.T) {
		spki, err := x509.MarshalPKIXPublicKey(pub)
		require.NoError(t, err)

		challenge := "spki-challenge"
		canon, err := CanonicalizeChallenge(challenge)
		require.NoError(t, err)
		sig := ed25519.Sign(priv, canon)

		assert.True(t, VerifySignature(spki, sig, challenge))
	})
}
