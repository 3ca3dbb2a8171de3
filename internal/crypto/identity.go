package crypto

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

const (
	// AddressVersion prefixes every announcer address
	AddressVersion = 0x38

	// ChecksumLength is the length of address checksum
	ChecksumLength = 4

	// SigningKeySize is the size of an x-only public key
	SigningKeySize = 32
)

// SigningKey is the 32-byte x-only public key carried in an announcement.
// The zero key marks an unsigned announcement.
type SigningKey [SigningKeySize]byte

// IsZero reports whether the key is unset
func (k SigningKey) IsZero() bool {
	return k == SigningKey{}
}

// String returns the key as hex
func (k SigningKey) String() string {
	return hex.EncodeToString(k[:])
}

// Identity is an announcer key pair. Announcers put the x-only public key in
// the signing key field of the announcements they publish.
type Identity struct {
	privateKey *btcec.PrivateKey
	signingKey SigningKey
}

// NewIdentity creates an identity with a freshly generated key pair
func NewIdentity() (*Identity, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key pair")
	}
	return identityFromPrivateKey(privateKey), nil
}

// IdentityFromHex restores an identity from a hex encoded private key
func IdentityFromHex(hexKey string) (*Identity, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode private key")
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, errors.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(raw))
	}
	privateKey, _ := btcec.PrivKeyFromBytes(raw)
	return identityFromPrivateKey(privateKey), nil
}

func identityFromPrivateKey(privateKey *btcec.PrivateKey) *Identity {
	var key SigningKey
	copy(key[:], schnorr.SerializePubKey(privateKey.PubKey()))
	return &Identity{privateKey: privateKey, signingKey: key}
}

// SigningKey returns the x-only public key of the identity
func (id *Identity) SigningKey() SigningKey {
	return id.signingKey
}

// Address returns the base58 announcer address of the identity
func (id *Identity) Address() string {
	return AnnouncerAddress(id.signingKey)
}

// PrivateKeyHex returns the private key as hex
func (id *Identity) PrivateKeyHex() string {
	return hex.EncodeToString(id.privateKey.Serialize())
}

// Sign produces a BIP-340 signature over a hash
func (id *Identity) Sign(hash types.Hash) ([]byte, error) {
	sig, err := schnorr.Sign(id.privateKey, hash[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign")
	}
	return sig.Serialize(), nil
}

// VerifySignature verifies a BIP-340 signature over hash by key
func VerifySignature(key SigningKey, hash types.Hash, signature []byte) bool {
	pubKey, err := schnorr.ParsePubKey(key[:])
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash[:], pubKey)
}

// ParseSigningKey checks that a non-zero key is a valid x-only secp256k1
// public key. The zero key is accepted.
func ParseSigningKey(key []byte) error {
	if len(key) != SigningKeySize {
		return errors.Errorf("signing key must be %d bytes, got %d", SigningKeySize, len(key))
	}
	if bytes.Equal(key, make([]byte, SigningKeySize)) {
		return nil
	}
	if _, err := schnorr.ParsePubKey(key); err != nil {
		return errors.Wrap(err, "invalid signing key")
	}
	return nil
}

// SigningKeyHash returns RIPEMD160(BLAKE2b-256(key))
func SigningKeyHash(key SigningKey) []byte {
	inner := HashBytes(key[:])
	hasher := ripemd160.New()
	hasher.Write(inner[:])
	return hasher.Sum(nil)
}

// AnnouncerAddress encodes a signing key as
// Base58(version + RIPEMD160(BLAKE2b-256(key)) + checksum)
func AnnouncerAddress(key SigningKey) string {
	return EncodeAddress(SigningKeyHash(key))
}

// EncodeAddress encodes a key hash into an announcer address
func EncodeAddress(keyHash []byte) string {
	versionedPayload := append([]byte{AddressVersion}, keyHash...)
	fullPayload := append(versionedPayload, Checksum(versionedPayload)...)
	return base58.Encode(fullPayload)
}

// DecodeAddress decodes an announcer address to its key hash
func DecodeAddress(address string) ([]byte, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode address")
	}

	if len(decoded) < ChecksumLength+1 {
		return nil, errors.New("invalid address length")
	}

	payload := decoded[:len(decoded)-ChecksumLength]
	checksumProvided := decoded[len(decoded)-ChecksumLength:]

	if !bytes.Equal(Checksum(payload), checksumProvided) {
		return nil, errors.New("invalid address checksum")
	}
	if payload[0] != AddressVersion {
		return nil, errors.Errorf("unexpected address version %#x", payload[0])
	}

	return payload[1:], nil
}

// Checksum generates a 4-byte checksum for address encoding
func Checksum(payload []byte) []byte {
	first := HashBytes(payload)
	second := HashBytes(first[:])
	return second[:ChecksumLength]
}
