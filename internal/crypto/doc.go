// Package crypto exposes the Ed25519 primitives whisperd authenticates
// with.
//
// Contents
//
//   - Compressed point encoding and decoding on the Ed25519 curve
//     (Compress, Decompress)
//   - The Diffie-Hellman login challenge (GenerateChallenge)
//   - RFC 8032 signature verification over hex payloads (Verify)
//   - Client-side identity helpers used by tests and in-process clients
//     (GenerateKeypair, SignHex, ChallengeResponse)
//
// All points and signatures cross the wire as lowercase hex: 64 chars for
// a compressed point, 128 for a signature.
package crypto
