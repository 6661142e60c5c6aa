package wire

import (
	"crypto/sha256"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/pbkdf2"
)

// SignerScheme returns the Dilithium-3 signature scheme used to sign and
// verify DocDelta payloads. Signing is optional: a DocDelta
// with no Signature is accepted as unsigned.
func SignerScheme() sign.Scheme { return mode3.Scheme() }

const signKeyDerivationIterations = 100_000

// SignerKeyPair is a Dilithium-3 key pair used to sign DocDelta messages.
type SignerKeyPair struct {
	Public  sign.PublicKey
	Private sign.PrivateKey
}

// DeriveSignerKeyPair deterministically derives a Dilithium-3 key pair from
// a shared passphrase and a per-tenant salt, via PBKDF2-SHA256. Every agent
// sharing the passphrase and tenant derives the same key pair, so no key
// distribution step is required for the optional DocDelta signature.
func DeriveSignerKeyPair(passphrase string, salt []byte) (*SignerKeyPair, error) {
	scheme := SignerScheme()
	seed := pbkdf2.Key([]byte(passphrase), salt, signKeyDerivationIterations, scheme.SeedSize(), sha256.New)

	pub, priv := scheme.DeriveKey(seed)
	return &SignerKeyPair{Public: pub, Private: priv}, nil
}

// SignableBytes returns the bytes a signature covers: the canonical CBOR
// encoding of the array (doc_id, delta_id, delta_payload).
func SignableBytes(docID string, deltaID, deltaPayload []byte) []byte {
	out, err := encMode.Marshal([]any{docID, deltaID, deltaPayload})
	if err != nil {
		panic(fmt.Sprintf("wire: encode signable bytes: %v", err))
	}
	return out
}

// Sign signs a DocDelta's canonical bytes with the key pair's private key.
func (kp *SignerKeyPair) Sign(docID string, deltaID, deltaPayload []byte) []byte {
	scheme := SignerScheme()
	return scheme.Sign(kp.Private, SignableBytes(docID, deltaID, deltaPayload), nil)
}

// Verify checks a DocDelta's signature against the key pair's public key.
func (kp *SignerKeyPair) Verify(docID string, deltaID, deltaPayload, signature []byte) bool {
	scheme := SignerScheme()
	return scheme.Verify(kp.Public, SignableBytes(docID, deltaID, deltaPayload), signature, nil)
}

// MarshalPublicKey serializes the public key for out-of-band distribution.
func (kp *SignerKeyPair) MarshalPublicKey() ([]byte, error) {
	return kp.Public.MarshalBinary()
}

// UnmarshalSignerPublicKey parses a public key produced by
// MarshalPublicKey.
func UnmarshalSignerPublicKey(data []byte) (sign.PublicKey, error) {
	pub, err := SignerScheme().UnmarshalBinaryPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal signer public key: %w", err)
	}
	return pub, nil
}
