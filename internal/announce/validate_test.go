package announce_test

import (
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/nganji523/packetcrypt-rs/internal/announce"
	"github.com/nganji523/packetcrypt-rs/internal/announce/announcetest"
	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/internal/params"
	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

var testParent = types.Hash{0x11, 0x22, 0x33}

func newValidator() *announce.Validator {
	return announce.NewValidator(params.MainnetParams.Clone(), nil)
}

func TestCheckAnnAcceptsMinedAnnouncement(t *testing.T) {
	v := newValidator()
	ann, want := announcetest.Mine(t, v, announcetest.Header(100), 7, &testParent)

	ctx := announce.NewContext()
	defer ctx.Destroy()

	got, err := v.CheckAnn(ctx, ann, &testParent)
	require.NoError(t, err)
	require.Equal(t, want, got)

	// The context carries no state between checks
	again, err := v.CheckAnn(ctx, ann, &testParent)
	require.NoError(t, err)
	require.Equal(t, got, again)
}

// recompute derives the announcement hash directly from the layout.
func recompute(ann []byte, parent *types.Hash) types.Hash {
	hdr := make([]byte, types.AnnouncementHeaderSize)
	copy(hdr, ann[:types.AnnouncementHeaderSize])
	hdr[1], hdr[2], hdr[3] = 0, 0, 0

	seedInput := append(append(append([]byte{}, parent[:]...), hdr...),
		ann[types.AnnouncementHeaderSize:types.Item4PrefixOffset]...)
	seed := blake2b.Sum256(seedInput)

	var items []byte
	for k := 0; k < announce.NumItems; k++ {
		in := make([]byte, 37)
		copy(in, seed[:])
		in[32] = byte(k)
		binary.LittleEndian.PutUint32(in[33:], types.SoftNonceField(ann))
		item := blake2b.Sum512(in)
		items = append(items, item[:]...)
	}
	return blake2b.Sum256(append(items, seed[:]...))
}

func TestCheckAnnHashMatchesIndependentComputation(t *testing.T) {
	v := newValidator()
	header := announcetest.Header(5)
	header.SoftNonce = 0x123456
	ann, hash := announcetest.Mine(t, v, header, 3, &testParent)

	if hash != recompute(ann, &testParent) {
		t.Errorf("announcement hash %s does not match recomputation", hash)
	}
}

func TestCheckAnnRejections(t *testing.T) {
	v := newValidator()
	valid, _ := announcetest.Mine(t, v, announcetest.Header(100), 1, &testParent)

	badKey := make([]byte, 32)
	for i := range badKey {
		badKey[i] = 0xff
	}

	tests := []struct {
		name   string
		ann    func() []byte
		parent types.Hash
		want   error
	}{
		{
			name: "all zero",
			ann:  func() []byte { return make([]byte, types.AnnouncementSize) },
			want: ruleerrors.ErrInvalid,
		},
		{
			name: "too short",
			ann:  func() []byte { return append([]byte{}, valid[:types.AnnouncementSize-1]...) },
			want: ruleerrors.ErrInvalid,
		},
		{
			name: "too long",
			ann:  func() []byte { return append(append([]byte{}, valid...), 0) },
			want: ruleerrors.ErrInvalid,
		},
		{
			name: "unknown version",
			ann: func() []byte {
				h := announcetest.Header(100)
				h.Version = 2
				return announcetest.Build(t, h, 1, &testParent)
			},
			want: ruleerrors.ErrInvalid,
		},
		{
			name: "negative parent height",
			ann: func() []byte {
				return announcetest.Build(t, announcetest.Header(-1), 1, &testParent)
			},
			want: ruleerrors.ErrInvalid,
		},
		{
			name: "zero work bits",
			ann: func() []byte {
				h := announcetest.Header(100)
				h.WorkBits = 0
				return announcetest.Build(t, h, 1, &testParent)
			},
			want: ruleerrors.ErrInvalid,
		},
		{
			name: "negative work bits",
			ann: func() []byte {
				h := announcetest.Header(100)
				h.WorkBits = 0x04923456
				return announcetest.Build(t, h, 1, &testParent)
			},
			want: ruleerrors.ErrInvalid,
		},
		{
			name: "work bits above 256 bits",
			ann: func() []byte {
				h := announcetest.Header(100)
				h.WorkBits = 0x2200ffff
				return announcetest.Build(t, h, 1, &testParent)
			},
			want: ruleerrors.ErrInvalid,
		},
		{
			name: "signing key off the curve",
			ann: func() []byte {
				h := announcetest.Header(100)
				copy(h.SigningKey[:], badKey)
				return announcetest.Build(t, h, 1, &testParent)
			},
			want: ruleerrors.ErrInvalid,
		},
		{
			name: "soft nonce above epoch limit",
			ann: func() []byte {
				h := announcetest.Header(params.SoftNonceLimitHeight)
				h.SoftNonce = 0x20000
				return announcetest.Build(t, h, 1, &testParent)
			},
			want: ruleerrors.ErrSoftNonceTooHigh,
		},
		{
			name: "tampered item-4 prefix",
			ann: func() []byte {
				ann := append([]byte{}, valid...)
				ann[types.Item4PrefixOffset+5] ^= 0x01
				return ann
			},
			want: ruleerrors.ErrInvalidItem4,
		},
		{
			name: "payload changed after sealing",
			ann: func() []byte {
				ann := append([]byte{}, valid...)
				ann[500] ^= 0x80
				return ann
			},
			want: ruleerrors.ErrInvalidItem4,
		},
		{
			name: "soft nonce changed after sealing",
			ann: func() []byte {
				ann := append([]byte{}, valid...)
				ann[1] ^= 0x01
				return ann
			},
			want: ruleerrors.ErrInvalidItem4,
		},
		{
			name:   "different parent block",
			ann:    func() []byte { return append([]byte{}, valid...) },
			parent: types.Hash{0x99},
			want:   ruleerrors.ErrInvalidItem4,
		},
		{
			name: "hash above target",
			ann: func() []byte {
				h := announcetest.Header(100)
				h.WorkBits = 0x03000001
				return announcetest.Build(t, h, 1, &testParent)
			},
			want: ruleerrors.ErrInsufficientProofOfWork,
		},
	}

	ctx := announce.NewContext()
	defer ctx.Destroy()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := testParent
			if !tt.parent.IsZero() {
				parent = tt.parent
			}
			hash, err := v.CheckAnn(ctx, tt.ann(), &parent)
			if !errors.Is(err, tt.want) {
				t.Fatalf("CheckAnn() error = %v, want %v", err, tt.want)
			}
			if !hash.IsZero() {
				t.Errorf("rejected announcement returned hash %s", hash)
			}
		})
	}
}

func TestCheckAnnZeroSigningKeyAccepted(t *testing.T) {
	v := newValidator()
	header := announcetest.Header(1)
	if header.SigningKey != [32]byte{} {
		t.Fatal("expected the test header to be unsigned")
	}
	announcetest.Mine(t, v, header, 9, &testParent)
}

func TestCheckAnnSignedAnnouncement(t *testing.T) {
	id, err := crypto.NewIdentity()
	require.NoError(t, err)

	v := newValidator()
	header := announcetest.Header(1)
	header.SigningKey = id.SigningKey()
	ann, _ := announcetest.Mine(t, v, header, 4, &testParent)
	require.Equal(t, header.SigningKey[:], types.SigningKey(ann))
}

func TestSoftNonceBoundaryIsInclusive(t *testing.T) {
	v := newValidator()
	header := announcetest.Header(params.SoftNonceLimitHeight)
	header.SoftNonce = 0x1ffff
	announcetest.Mine(t, v, header, 2, &testParent)

	// One block earlier the full range applies
	header = announcetest.Header(params.SoftNonceLimitHeight - 1)
	header.SoftNonce = 0xffffff
	announcetest.Mine(t, v, header, 2, &testParent)
}

// meetsAll accepts every hash, standing in for a difficulty collaborator
// with different semantics.
type meetsAll struct{}

func (meetsAll) CompactToTarget(bits uint32) (*big.Int, error) {
	return big.NewInt(int64(bits)), nil
}

func (meetsAll) TargetMeets(*types.Hash, *big.Int) bool { return true }

func TestCheckAnnUsesDifficultyService(t *testing.T) {
	v := announce.NewValidator(params.MainnetParams.Clone(), meetsAll{})
	header := announcetest.Header(100)
	header.WorkBits = 1
	ann := announcetest.Build(t, header, 1, &testParent)

	ctx := announce.NewContext()
	defer ctx.Destroy()

	_, err := v.CheckAnn(ctx, ann, &testParent)
	require.NoError(t, err)
}

func TestDeriveItem4PrefixIgnoresTail(t *testing.T) {
	ctx := announce.NewContext()
	defer ctx.Destroy()

	ann := announcetest.Build(t, announcetest.Header(3), 5, &testParent)
	first, err := announce.DeriveItem4Prefix(ctx, ann, &testParent)
	require.NoError(t, err)
	require.Equal(t, first[:], types.Item4Prefix(ann))

	for i := types.Item4PrefixOffset; i < types.AnnouncementSize; i++ {
		ann[i] = 0xaa
	}
	second, err := announce.DeriveItem4Prefix(ctx, ann, &testParent)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = announce.DeriveItem4Prefix(ctx, ann[:10], &testParent)
	require.ErrorIs(t, err, ruleerrors.ErrInvalid)
}

func TestContextMisusePanics(t *testing.T) {
	ctx := announce.NewContext()
	ctx.Destroy()

	require.Panics(t, func() { ctx.Destroy() })
	require.Panics(t, func() {
		_, _ = newValidator().CheckAnn(ctx, make([]byte, types.AnnouncementSize), &testParent)
	})
}

func BenchmarkCheckAnn(b *testing.B) {
	v := newValidator()
	ann, _ := announcetest.Mine(b, v, announcetest.Header(100), 1, &testParent)
	ctx := announce.NewContext()
	defer ctx.Destroy()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.CheckAnn(ctx, ann, &testParent); err != nil {
			b.Fatal(err)
		}
	}
}
