// Package announcetest builds valid announcements for tests.
package announcetest

import (
	"errors"
	"testing"

	"github.com/nganji523/packetcrypt-rs/internal/announce"
	"github.com/nganji523/packetcrypt-rs/internal/difficulty"
	"github.com/nganji523/packetcrypt-rs/internal/params"
	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// maxAttempts bounds the hard nonce search. Easy targets succeed on the
// first few tries.
const maxAttempts = 1 << 16

// Header returns a header that passes every structural check of the
// mainnet rules, at the given parent height, under the easiest target.
func Header(parentHeight int32) types.AnnouncementHeader {
	return types.AnnouncementHeader{
		Version:           params.MainnetParams.AnnouncementVersion,
		WorkBits:          difficulty.MaxTargetBits,
		ParentBlockHeight: parentHeight,
		ContentType:       1,
		ContentLength:     32,
	}
}

// Build lays out an announcement from header and a payload derived from
// payloadSeed, then writes the matching item-4 prefix. The result may still
// miss its work target.
func Build(tb testing.TB, header types.AnnouncementHeader, payloadSeed byte, parentBlockHash *types.Hash) []byte {
	tb.Helper()

	ann := make([]byte, types.AnnouncementSize)
	header.SerializeInto(ann)
	for i := types.AnnouncementHeaderSize; i < types.Item4PrefixOffset; i++ {
		ann[i] = payloadSeed + byte(i)
	}
	Seal(tb, ann, parentBlockHash)
	return ann
}

// Seal overwrites the item-4 prefix of ann with the derived one.
func Seal(tb testing.TB, ann []byte, parentBlockHash *types.Hash) {
	tb.Helper()

	ctx := announce.NewContext()
	defer ctx.Destroy()
	prefix, err := announce.DeriveItem4Prefix(ctx, ann, parentBlockHash)
	if err != nil {
		tb.Fatalf("DeriveItem4Prefix: %v", err)
	}
	copy(ann[types.Item4PrefixOffset:], prefix[:])
}

// Mine searches hard nonces from header.HardNonce until v accepts the
// announcement, and returns it with its hash.
func Mine(tb testing.TB, v *announce.Validator, header types.AnnouncementHeader,
	payloadSeed byte, parentBlockHash *types.Hash) ([]byte, types.Hash) {

	tb.Helper()

	ctx := announce.NewContext()
	defer ctx.Destroy()
	for i := 0; i < maxAttempts; i++ {
		ann := Build(tb, header, payloadSeed, parentBlockHash)
		hash, err := v.CheckAnn(ctx, ann, parentBlockHash)
		if err == nil {
			return ann, hash
		}
		if !errors.Is(err, ruleerrors.ErrInsufficientProofOfWork) {
			tb.Fatalf("announcement rejected: %v", err)
		}
		header.HardNonce++
	}
	tb.Fatalf("no valid announcement found in %d attempts", maxAttempts)
	return nil, types.Hash{}
}
