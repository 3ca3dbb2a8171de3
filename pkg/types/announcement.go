package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Announcement layout
const (
	AnnouncementSize       = 1024
	AnnouncementHeaderSize = 88

	// Item4PrefixSize bytes at the end of every announcement carry the
	// prefix of the fourth derived item.
	Item4PrefixSize   = 40
	Item4PrefixOffset = AnnouncementSize - Item4PrefixSize

	versionOffset       = 0
	softNonceOffset     = 0
	hardNonceOffset     = 4
	workBitsOffset      = 8
	parentHeightOffset  = 12
	contentTypeOffset   = 16
	contentLengthOffset = 20
	contentHashOffset   = 24
	signingKeyOffset    = 56

	// SoftNonceMask covers the 24 bits available to the soft nonce
	SoftNonceMask = 0x00ffffff
)

// ErrBadLength is returned when a buffer is not exactly one announcement long
var ErrBadLength = errors.New("announcement must be exactly 1024 bytes")

// Version returns the format version byte.
func Version(b []byte) uint8 {
	return b[versionOffset]
}

// SoftNonce returns the first word read little-endian and shifted left 8
// bits. Bindings built against the C validator report this value.
func SoftNonce(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[softNonceOffset:softNonceOffset+4]) << 8
}

// SoftNonceField returns the 24-bit soft nonce stored in bytes 1..3 with the
// version byte shifted out. Epoch limits and item derivation use this value.
func SoftNonceField(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[softNonceOffset:softNonceOffset+4]) >> 8
}

// HardNonce returns the nonce committed into the announcement seed.
func HardNonce(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[hardNonceOffset : hardNonceOffset+4])
}

// WorkBits returns the compact target the announcement claims to meet.
func WorkBits(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[workBitsOffset : workBitsOffset+4])
}

// ParentBlockHeight returns the height of the referenced parent-chain block.
func ParentBlockHeight(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b[parentHeightOffset : parentHeightOffset+4]))
}

// ContentType returns the announcement content type.
func ContentType(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[contentTypeOffset : contentTypeOffset+4])
}

// ContentLength returns the announced content length.
func ContentLength(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[contentLengthOffset : contentLengthOffset+4])
}

// ContentHash returns a view of the 32-byte content hash.
func ContentHash(b []byte) []byte {
	return b[contentHashOffset : contentHashOffset+HashSize]
}

// SigningKey returns a view of the 32-byte announcer signing key.
func SigningKey(b []byte) []byte {
	return b[signingKeyOffset : signingKeyOffset+32]
}

// Item4Prefix returns a view of the trailing item-4 prefix.
func Item4Prefix(b []byte) []byte {
	return b[Item4PrefixOffset:AnnouncementSize]
}

// Announcement is a length-checked view over a raw announcement. Unlike the
// free accessors its methods never panic.
type Announcement struct {
	raw []byte
}

// ParseAnnouncement wraps b after checking its length. The bytes are not
// copied.
func ParseAnnouncement(b []byte) (Announcement, error) {
	if len(b) != AnnouncementSize {
		return Announcement{}, fmt.Errorf("%w: got %d", ErrBadLength, len(b))
	}
	return Announcement{raw: b}, nil
}

// Bytes returns the underlying buffer
func (a Announcement) Bytes() []byte { return a.raw }
func (a Announcement) Version() uint8 { return Version(a.raw) }
func (a Announcement) SoftNonce() uint32 { return SoftNonce(a.raw) }
func (a Announcement) SoftNonceField() uint32 { return SoftNonceField(a.raw) }
func (a Announcement) HardNonce() uint32 { return HardNonce(a.raw) }
func (a Announcement) WorkBits() uint32 { return WorkBits(a.raw) }
func (a Announcement) ParentBlockHeight() int32 { return ParentBlockHeight(a.raw) }
func (a Announcement) ContentType() uint32 { return ContentType(a.raw) }
func (a Announcement) ContentLength() uint32 { return ContentLength(a.raw) }
func (a Announcement) ContentHash() []byte { return ContentHash(a.raw) }
func (a Announcement) SigningKey() []byte { return SigningKey(a.raw) }
func (a Announcement) Item4Prefix() []byte { return Item4Prefix(a.raw) }
func (a Announcement) Header() AnnouncementHeader { return parseHeader(a.raw) }

// AnnouncementHeader holds the decoded fixed fields of an announcement
type AnnouncementHeader struct {
	Version           uint8
	SoftNonce         uint32 // only the low 24 bits are encoded
	HardNonce         uint32
	WorkBits          uint32
	ParentBlockHeight int32
	ContentType       uint32
	ContentLength     uint32
	ContentHash       [32]byte
	SigningKey        [32]byte
}

// Serialize encodes the header into its 88-byte wire form
func (h *AnnouncementHeader) Serialize() []byte {
	buf := make([]byte, AnnouncementHeaderSize)
	h.SerializeInto(buf)
	return buf
}

// SerializeInto writes the header into the first 88 bytes of buf
func (h *AnnouncementHeader) SerializeInto(buf []byte) {
	binary.LittleEndian.PutUint32(buf[softNonceOffset:], (h.SoftNonce&SoftNonceMask)<<8)
	buf[versionOffset] = h.Version
	binary.LittleEndian.PutUint32(buf[hardNonceOffset:], h.HardNonce)
	binary.LittleEndian.PutUint32(buf[workBitsOffset:], h.WorkBits)
	binary.LittleEndian.PutUint32(buf[parentHeightOffset:], uint32(h.ParentBlockHeight))
	binary.LittleEndian.PutUint32(buf[contentTypeOffset:], h.ContentType)
	binary.LittleEndian.PutUint32(buf[contentLengthOffset:], h.ContentLength)
	copy(buf[contentHashOffset:], h.ContentHash[:])
	copy(buf[signingKeyOffset:], h.SigningKey[:])
}

// ParseAnnouncementHeader decodes the fixed fields from at least 88 bytes
func ParseAnnouncementHeader(b []byte) (AnnouncementHeader, error) {
	if len(b) < AnnouncementHeaderSize {
		return AnnouncementHeader{}, fmt.Errorf("announcement header too short: %d bytes", len(b))
	}
	return parseHeader(b), nil
}

func parseHeader(b []byte) AnnouncementHeader {
	h := AnnouncementHeader{
		Version:           Version(b),
		SoftNonce:         SoftNonceField(b),
		HardNonce:         HardNonce(b),
		WorkBits:          WorkBits(b),
		ParentBlockHeight: ParentBlockHeight(b),
		ContentType:       ContentType(b),
		ContentLength:     ContentLength(b),
	}
	copy(h.ContentHash[:], ContentHash(b))
	copy(h.SigningKey[:], SigningKey(b))
	return h
}
