package grpc

import (
	"encoding/binary"

	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// Request bodies are fixed binary layouts carried in a BytesValue. Integers
// are little endian.

const (
	checkAnnSize       = types.HashSize + types.AnnouncementSize
	blockWorkFixedSize = types.BlockHeaderSize + 4 + 4 + 1
	parentBlockSize    = 4 + types.HashSize
	rootResponseSize   = types.HashSize + 4
)

func badRequest(method string, got, want int) error {
	return ruleerrors.New(ruleerrors.KindInvalid, "%s request is %d bytes, want %d", method, got, want)
}

func encodeCheckAnn(parent types.Hash, ann []byte) []byte {
	buf := make([]byte, 0, types.HashSize+len(ann))
	buf = append(buf, parent[:]...)
	return append(buf, ann...)
}

func decodeCheckAnn(b []byte) (types.Hash, []byte, error) {
	if len(b) != checkAnnSize {
		return types.Hash{}, nil, badRequest("CheckAnn", len(b), checkAnnSize)
	}
	var parent types.Hash
	copy(parent[:], b)
	return parent, b[types.HashSize:], nil
}

// blockWorkRequest is the decoded CheckBlockWork body
type blockWorkRequest struct {
	header      []byte
	lowNonce    uint32
	shareTarget uint32
	anns        [][]byte
	coinbase    []byte
}

func encodeBlockWork(r *blockWorkRequest) []byte {
	size := blockWorkFixedSize + len(r.anns)*types.AnnouncementSize + len(r.coinbase)
	buf := make([]byte, 0, size)
	buf = append(buf, r.header...)
	buf = binary.LittleEndian.AppendUint32(buf, r.lowNonce)
	buf = binary.LittleEndian.AppendUint32(buf, r.shareTarget)
	buf = append(buf, byte(len(r.anns)))
	for _, ann := range r.anns {
		buf = append(buf, ann...)
	}
	return append(buf, r.coinbase...)
}

func decodeBlockWork(b []byte) (*blockWorkRequest, error) {
	if len(b) < blockWorkFixedSize {
		return nil, badRequest("CheckBlockWork", len(b), blockWorkFixedSize)
	}
	r := &blockWorkRequest{header: b[:types.BlockHeaderSize]}
	off := types.BlockHeaderSize
	r.lowNonce = binary.LittleEndian.Uint32(b[off:])
	r.shareTarget = binary.LittleEndian.Uint32(b[off+4:])
	count := int(b[off+8])
	off = blockWorkFixedSize

	if want := off + count*types.AnnouncementSize; len(b) < want {
		return nil, badRequest("CheckBlockWork", len(b), want)
	}
	r.anns = make([][]byte, count)
	for i := range r.anns {
		r.anns[i] = b[off : off+types.AnnouncementSize]
		off += types.AnnouncementSize
	}
	r.coinbase = b[off:]
	return r, nil
}

func encodeParentBlock(height int32, hash types.Hash) []byte {
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, parentBlockSize), uint32(height))
	return append(buf, hash[:]...)
}

func decodeParentBlock(b []byte) (int32, types.Hash, error) {
	if len(b) != parentBlockSize {
		return 0, types.Hash{}, badRequest("SetParentBlock", len(b), parentBlockSize)
	}
	var hash types.Hash
	copy(hash[:], b[4:])
	return int32(binary.LittleEndian.Uint32(b)), hash, nil
}

func encodeHeight(height int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(height))
}

func decodeHeight(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, badRequest("AnnouncementRoot", len(b), 4)
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func encodeRoot(root types.Hash, count int) []byte {
	buf := make([]byte, 0, rootResponseSize)
	buf = append(buf, root[:]...)
	return binary.LittleEndian.AppendUint32(buf, uint32(count))
}

func decodeRoot(b []byte) (types.Hash, int, error) {
	if len(b) != rootResponseSize {
		return types.Hash{}, 0, badRequest("AnnouncementRoot response", len(b), rootResponseSize)
	}
	var root types.Hash
	copy(root[:], b)
	return root, int(binary.LittleEndian.Uint32(b[types.HashSize:])), nil
}
