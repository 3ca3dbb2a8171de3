package types

import (
	"encoding/binary"
	"fmt"
)

// Header-and-proof layout
const (
	BlockHeaderSize     = 80
	LowNonceOffset      = 84
	AnnouncementsOffset = 88
	NumAnnouncements    = 4
	HeaderAndProofSize  = AnnouncementsOffset + NumAnnouncements*AnnouncementSize
)

// BlockHeader contains the parent-chain block metadata
type BlockHeader struct {
	Version       uint32 // Block version
	PrevBlockHash Hash   // Previous block hash
	MerkleRoot    Hash   // Merkle root of transactions
	Timestamp     uint32 // Unix seconds
	Bits          uint32 // Compact difficulty target
	Nonce         uint32 // Nonce for PoW
}

// Serialize converts BlockHeader to its 80-byte wire form
func (h *BlockHeader) Serialize() []byte {
	buf := make([]byte, BlockHeaderSize)

	// Version (4 bytes)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)

	// PrevBlockHash (32 bytes)
	copy(buf[4:36], h.PrevBlockHash[:])

	// MerkleRoot (32 bytes)
	copy(buf[36:68], h.MerkleRoot[:])

	// Timestamp, Bits, Nonce (4 bytes each)
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)

	return buf
}

// ParseBlockHeader decodes an 80-byte header
func ParseBlockHeader(b []byte) (*BlockHeader, error) {
	if len(b) != BlockHeaderSize {
		return nil, fmt.Errorf("block header must be %d bytes, got %d", BlockHeaderSize, len(b))
	}
	h := &BlockHeader{
		Version:   binary.LittleEndian.Uint32(b[0:4]),
		Timestamp: binary.LittleEndian.Uint32(b[68:72]),
		Bits:      binary.LittleEndian.Uint32(b[72:76]),
		Nonce:     binary.LittleEndian.Uint32(b[76:80]),
	}
	copy(h.PrevBlockHash[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	return h, nil
}

// HeaderAndProof is the buffer a share is hashed over: the block header,
// four bytes of padding, the low nonce and four announcements.
type HeaderAndProof [HeaderAndProofSize]byte

// NewHeaderAndProof assembles a header-and-proof buffer. It fails without
// reading past the provided data if the header is not 80 bytes, if there
// are not exactly four announcements or if any of them is not 1024 bytes.
func NewHeaderAndProof(header []byte, lowNonce uint32, anns [][]byte) (*HeaderAndProof, error) {
	if len(header) != BlockHeaderSize {
		return nil, fmt.Errorf("block header must be %d bytes, got %d", BlockHeaderSize, len(header))
	}
	if len(anns) != NumAnnouncements {
		return nil, fmt.Errorf("expected %d announcements, got %d", NumAnnouncements, len(anns))
	}
	for i, ann := range anns {
		if len(ann) != AnnouncementSize {
			return nil, fmt.Errorf("announcement %d: %w: got %d", i, ErrBadLength, len(ann))
		}
	}

	hap := new(HeaderAndProof)
	copy(hap[:BlockHeaderSize], header)
	binary.LittleEndian.PutUint32(hap[LowNonceOffset:AnnouncementsOffset], lowNonce)
	for i, ann := range anns {
		copy(hap.announcementSlot(i), ann)
	}
	return hap, nil
}

func (hap *HeaderAndProof) announcementSlot(i int) []byte {
	loc := AnnouncementsOffset + i*AnnouncementSize
	return hap[loc : loc+AnnouncementSize]
}

// Header returns a view of the 80-byte block header
func (hap *HeaderAndProof) Header() []byte {
	return hap[:BlockHeaderSize]
}

// LowNonce returns the nonce written at offset 84
func (hap *HeaderAndProof) LowNonce() uint32 {
	return binary.LittleEndian.Uint32(hap[LowNonceOffset:AnnouncementsOffset])
}

// Announcement returns a view of slot i (0-based)
func (hap *HeaderAndProof) Announcement(i int) Announcement {
	return Announcement{raw: hap.announcementSlot(i)}
}
