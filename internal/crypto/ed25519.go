package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"filippo.io/edwards25519"
)

var (
	// ErrMalformedKey is returned when a hex string does not decode to a
	// valid compressed point on the Ed25519 curve.
	ErrMalformedKey = errors.New("malformed ed25519 key")
	// ErrBadSignature is returned when EdDSA verification fails.
	ErrBadSignature = errors.New("bad signature")
)

// Decompress parses a lowercase-hex compressed Ed25519 point. The top bit
// of the final byte carries the sign of x; the rest is y little-endian.
func Decompress(keyHex string) (*edwards25519.Point, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != 32 {
		return nil, ErrMalformedKey
	}
	p, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return nil, ErrMalformedKey
	}
	return p, nil
}

// Compress returns the canonical 32-byte compressed encoding of p as
// lowercase hex.
func Compress(p *edwards25519.Point) string {
	return hex.EncodeToString(p.Bytes())
}

// GenerateChallenge builds a Diffie-Hellman login challenge against the
// given identity public key. It returns the challenge point to send to the
// client and the expected response, both compressed. The client proves
// possession of its private scalar a by computing a·chal, which equals the
// server's d·pub.
func GenerateChallenge(publicHex string) (chal, expected string, err error) {
	pub, err := Decompress(publicHex)
	if err != nil {
		return "", "", err
	}

	var seed [64]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", "", err
	}
	d, err := new(edwards25519.Scalar).SetUniformBytes(seed[:])
	if err != nil {
		return "", "", err
	}

	chalPoint := new(edwards25519.Point).ScalarBaseMult(d)
	shared := new(edwards25519.Point).ScalarMult(d, pub)
	return Compress(chalPoint), Compress(shared), nil
}

// Verify checks an Ed25519 signature per RFC 8032. All three arguments are
// hex strings; the message is the raw bytes the hex encodes. Returns
// ErrMalformedKey for an invalid public point and ErrBadSignature for a
// failed verification or undecodable message/signature hex.
func Verify(publicHex, messageHex, signatureHex string) error {
	pub, err := Decompress(publicHex)
	if err != nil {
		return err
	}
	msg, err := hex.DecodeString(messageHex)
	if err != nil {
		return ErrBadSignature
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pub.Bytes()), msg, sig) {
		return ErrBadSignature
	}
	return nil
}
