package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"

	"filippo.io/edwards25519"
)

// Keypair is an Ed25519 identity as a client holds it: the signing key
// plus the compressed public point in wire form.
type Keypair struct {
	Private   ed25519.PrivateKey
	PublicHex string
}

// GenerateKeypair returns a fresh Ed25519 identity.
func GenerateKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Private: priv, PublicHex: hex.EncodeToString(pub)}, nil
}

// SignHex signs the bytes encoded by messageHex and returns the signature
// as hex.
func (k Keypair) SignHex(messageHex string) (string, error) {
	msg, err := hex.DecodeString(messageHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(k.Private, msg)), nil
}

// ChallengeResponse computes the mirror product a·chal for a login
// challenge, where a is the clamped private scalar of the identity key.
func (k Keypair) ChallengeResponse(chalHex string) (string, error) {
	chal, err := Decompress(chalHex)
	if err != nil {
		return "", err
	}
	h := sha512.Sum512(k.Private.Seed())
	a, err := new(edwards25519.Scalar).SetBytesWithClamping(h[:32])
	if err != nil {
		return "", err
	}
	return Compress(new(edwards25519.Point).ScalarMult(a, chal)), nil
}
