// Package announce validates single announcements.
package announce

import (
	"bytes"
	"math/big"

	"github.com/pkg/errors"

	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/internal/difficulty"
	"github.com/nganji523/packetcrypt-rs/internal/params"
	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// Validator checks announcements against one network's rules.
type Validator struct {
	params     *params.Params
	difficulty difficulty.Service
}

// NewValidator creates a validator. A nil difficulty service selects
// difficulty.Default.
func NewValidator(p *params.Params, svc difficulty.Service) *Validator {
	if svc == nil {
		svc = difficulty.Default{}
	}
	return &Validator{params: p, difficulty: svc}
}

// Params returns the rules the validator enforces
func (v *Validator) Params() *params.Params {
	return v.params
}

// Difficulty returns the difficulty service the validator uses
func (v *Validator) Difficulty() difficulty.Service {
	return v.difficulty
}

// CheckHeader runs the checks that need nothing but the announcement itself
// and returns the target its work bits encode.
func (v *Validator) CheckHeader(ann []byte) (*big.Int, error) {
	target, err := v.CheckStructure(ann)
	if err != nil {
		return nil, err
	}
	if err := v.CheckSoftNonce(ann); err != nil {
		return nil, err
	}
	return target, nil
}

// CheckStructure rejects malformed announcements with KindInvalid and
// returns the target the work bits encode.
func (v *Validator) CheckStructure(ann []byte) (*big.Int, error) {
	if len(ann) != types.AnnouncementSize {
		return nil, ruleerrors.New(ruleerrors.KindInvalid,
			"announcement is %d bytes, want %d", len(ann), types.AnnouncementSize)
	}

	if version := types.Version(ann); version != v.params.AnnouncementVersion {
		return nil, ruleerrors.New(ruleerrors.KindInvalid,
			"unsupported announcement version %d", version)
	}

	height := types.ParentBlockHeight(ann)
	if height < 0 {
		return nil, ruleerrors.New(ruleerrors.KindInvalid, "negative parent block height %d", height)
	}

	target, err := v.difficulty.CompactToTarget(types.WorkBits(ann))
	if err != nil {
		return nil, ruleerrors.Wrap(ruleerrors.KindInvalid, errors.Cause(err), "work bits")
	}

	if err := crypto.ParseSigningKey(types.SigningKey(ann)); err != nil {
		return nil, ruleerrors.Wrap(ruleerrors.KindInvalid, errors.Cause(err), "signing key")
	}

	return target, nil
}

// CheckSoftNonce caps the soft nonce by the epoch of the parent height.
// ann must already have passed CheckStructure.
func (v *Validator) CheckSoftNonce(ann []byte) error {
	height := types.ParentBlockHeight(ann)
	softNonce, softNonceMax := types.SoftNonceField(ann), v.params.SoftNonceMax(height)
	if softNonce > softNonceMax {
		return ruleerrors.New(ruleerrors.KindSoftNonceTooHigh,
			"soft nonce %#x above %#x allowed at height %d", softNonce, softNonceMax, height)
	}
	return nil
}

// CheckAnn validates an announcement built on the block with the given hash
// and returns the announcement hash. The result depends only on the bytes
// of ann and parentBlockHash.
func (v *Validator) CheckAnn(ctx *Context, ann []byte, parentBlockHash *types.Hash) (types.Hash, error) {
	ctx.mustBeLive()

	target, err := v.CheckHeader(ann)
	if err != nil {
		return types.Hash{}, err
	}

	seed := ctx.deriveItems(ann, parentBlockHash)
	if !bytes.Equal(types.Item4Prefix(ann), ctx.item4Prefix()) {
		return types.Hash{}, ruleerrors.New(ruleerrors.KindInvalidItem4,
			"item 4 prefix does not match the derived item")
	}

	hash := ctx.announcementHash(&seed)
	if !v.difficulty.TargetMeets(&hash, target) {
		return types.Hash{}, ruleerrors.New(ruleerrors.KindInsufficientProofOfWork,
			"announcement hash %s above target %064x", hash, target)
	}
	return hash, nil
}

// DeriveItem4Prefix returns the item-4 prefix a valid announcement with
// these bytes must carry at its tail. The tail itself does not influence
// the result.
func DeriveItem4Prefix(ctx *Context, ann []byte, parentBlockHash *types.Hash) ([types.Item4PrefixSize]byte, error) {
	ctx.mustBeLive()

	var prefix [types.Item4PrefixSize]byte
	if len(ann) != types.AnnouncementSize {
		return prefix, ruleerrors.New(ruleerrors.KindInvalid,
			"announcement is %d bytes, want %d", len(ann), types.AnnouncementSize)
	}
	ctx.deriveItems(ann, parentBlockHash)
	copy(prefix[:], ctx.item4Prefix())
	return prefix, nil
}
