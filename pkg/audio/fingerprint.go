package audio

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// fingerprintVersion is mixed into every digest. Bump it when the canonical
// PCM representation changes so that stale cache keys can never match.
const fingerprintVersion = "hushgate/pcm/v1"

// Fingerprint is a BLAKE2b-256 digest of canonical PCM.
type Fingerprint [blake2b.Size256]byte

// FingerprintOf returns the fingerprint of p. Sample rate and channel count
// are part of the digest, so identical bytes in different formats never
// collide.
func FingerprintOf(p PCM) Fingerprint {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	h.Write([]byte(fingerprintVersion))
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(p.Format.SampleRate))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(p.Format.Channels))
	h.Write(hdr[:])
	h.Write(p.Data)

	var fp Fingerprint
	h.Sum(fp[:0])
	return fp
}

// String returns the lower-case hex encoding of f.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, for logs.
func (f Fingerprint) Short() string {
	return f.String()[:12]
}
