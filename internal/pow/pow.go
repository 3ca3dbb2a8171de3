// Package pow validates the proof of work of a block share: a parent-chain
// header, a low nonce and four announcements hashed together with the
// coinbase.
package pow

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/nganji523/packetcrypt-rs/internal/announce"
	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// ProofOfWork checks block shares
type ProofOfWork struct {
	anns *announce.Validator
}

// NewProofOfWork creates a block validator that applies the announcement
// rules of anns to every slot.
func NewProofOfWork(anns *announce.Validator) *ProofOfWork {
	return &ProofOfWork{anns: anns}
}

// CheckBlockWork validates a share and returns its hash.
func (pow *ProofOfWork) CheckBlockWork(header []byte, lowNonce, shareTarget uint32,
	anns [][]byte, coinbase []byte) (types.Hash, error) {

	if len(header) != types.BlockHeaderSize {
		return types.Hash{}, ruleerrors.New(ruleerrors.KindInvalid,
			"block header is %d bytes, want %d", len(header), types.BlockHeaderSize)
	}
	if len(anns) != types.NumAnnouncements {
		return types.Hash{}, ruleerrors.New(ruleerrors.KindInvalid,
			"got %d announcements, want %d", len(anns), types.NumAnnouncements)
	}
	for i, ann := range anns {
		if len(ann) != types.AnnouncementSize {
			return types.Hash{}, ruleerrors.New(ruleerrors.KindInvalid,
				"announcement %d is %d bytes, want %d", i, len(ann), types.AnnouncementSize)
		}
	}

	difficulty := pow.anns.Difficulty()
	target, err := difficulty.CompactToTarget(shareTarget)
	if err != nil {
		return types.Hash{}, ruleerrors.Wrap(ruleerrors.KindInvalid, errors.Cause(err), "share target")
	}

	hap, err := types.NewHeaderAndProof(header, lowNonce, anns)
	if err != nil {
		return types.Hash{}, ruleerrors.Wrap(ruleerrors.KindInvalid, err, "header and proof")
	}

	if err := pow.checkSlots(hap); err != nil {
		return types.Hash{}, err
	}

	hash := ShareHash(hap, coinbase)
	if !difficulty.TargetMeets(&hash, target) {
		return types.Hash{}, ruleerrors.New(ruleerrors.KindInsufficientProofOfWork,
			"share hash %s above target %064x", hash, target)
	}
	return hash, nil
}

func (pow *ProofOfWork) checkSlots(hap *types.HeaderAndProof) error {
	// Every slot is checked for structure before any soft nonce
	for i := 0; i < types.NumAnnouncements; i++ {
		if _, err := pow.anns.CheckStructure(hap.Announcement(i).Bytes()); err != nil {
			return errors.Wrapf(err, "announcement %d", i)
		}
	}
	for i := 0; i < types.NumAnnouncements; i++ {
		if err := pow.anns.CheckSoftNonce(hap.Announcement(i).Bytes()); err != nil {
			return errors.Wrapf(err, "announcement %d", i)
		}
	}

	last := hap.Announcement(types.NumAnnouncements - 1).Item4Prefix()
	for i := 0; i < types.NumAnnouncements-1; i++ {
		if bytes.Equal(last, hap.Announcement(i).Item4Prefix()) {
			return ruleerrors.New(ruleerrors.KindInvalidItem4,
				"announcement %d repeats the item of announcement %d", types.NumAnnouncements-1, i)
		}
	}
	return nil
}

// ShareHash hashes the assembled buffer followed by the coinbase.
func ShareHash(hap *types.HeaderAndProof, coinbase []byte) types.Hash {
	w := crypto.NewHashWriter()
	w.InfallibleWrite(hap[:])
	w.InfallibleWrite(coinbase)
	return w.Finalize()
}
