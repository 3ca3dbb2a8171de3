package crypto

import (
	"bytes"
	"encoding/hex"
	"hash"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// HashBytes returns the BLAKE2b-256 hash of the input data
func HashBytes(data []byte) types.Hash {
	return blake2b.Sum256(data)
}

// HashBytes512 returns the BLAKE2b-512 hash of the input data
func HashBytes512(data []byte) [blake2b.Size]byte {
	return blake2b.Sum512(data)
}

// HashWriter feeds several buffers into one BLAKE2b-256 digest. Seeds and
// share hashes are built with it so no joined copy is allocated.
type HashWriter struct {
	hash.Hash
}

// NewHashWriter returns an empty BLAKE2b-256 writer
func NewHashWriter() *HashWriter {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(errors.Wrap(err, "blake2b-256 rejected an empty key"))
	}
	return &HashWriter{Hash: h}
}

// InfallibleWrite adds p to the digest. hash.Hash writes never fail.
func (h *HashWriter) InfallibleWrite(p []byte) {
	if _, err := h.Write(p); err != nil {
		panic(errors.Wrapf(err, "blake2b write of %d bytes", len(p)))
	}
}

// Finalize returns the digest of everything written so far
func (h *HashWriter) Finalize() types.Hash {
	var sum types.Hash
	copy(sum[:], h.Sum(sum[:0]))
	return sum
}

// RFC 7693 appendix A
const selfTestDigest = "ba80a53f981c4d0d6a2797b69f12f6e94c212f14685ac4b74b12bb6fdbffa2d1" +
	"7d87c5392aab792dc252d5de4533cc9518d38aa8dbf1925ab92386edd4009923"

// SelfTest runs a known-answer test of the hash primitive and checks the
// incremental and one-shot paths agree.
func SelfTest() error {
	want, err := hex.DecodeString(selfTestDigest)
	if err != nil {
		return errors.Wrap(err, "bad self-test vector")
	}
	got := HashBytes512([]byte("abc"))
	if !bytes.Equal(got[:], want) {
		return errors.Errorf("blake2b-512 self-test failed: got %x", got)
	}

	w := NewHashWriter()
	w.InfallibleWrite([]byte("a"))
	w.InfallibleWrite([]byte("bc"))
	if w.Finalize() != HashBytes([]byte("abc")) {
		return errors.New("blake2b-256 incremental and one-shot digests differ")
	}
	return nil
}
