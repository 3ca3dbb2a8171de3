// Package packetcrypt validates PacketCrypt announcements and block shares.
//
// Every check needs a *Runtime, which only Init hands out. Init runs the
// hash primitive self-test once per process; later calls return the same
// runtime.
//
//	rt := packetcrypt.Init()
//	vctx := rt.NewValidateCtx()
//	defer vctx.Destroy()
//	hash, err := rt.CheckAnn(ann, &parentHash, vctx)
package packetcrypt

import (
	"fmt"
	"sync"

	"github.com/nganji523/packetcrypt-rs/internal/announce"
	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/internal/difficulty"
	"github.com/nganji523/packetcrypt-rs/internal/params"
	"github.com/nganji523/packetcrypt-rs/internal/pow"
	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// ValidateCtx is the reusable scratch state of announcement checks. It must
// be confined to one goroutine and destroyed exactly once.
type ValidateCtx = announce.Context

// Pool hands out validation contexts to concurrent callers
type Pool = announce.Pool

// Ann is a length-checked announcement view
type Ann = types.Announcement

// Validation errors. Test with errors.Is.
var (
	ErrInvalid                 = ruleerrors.ErrInvalid
	ErrInvalidItem4            = ruleerrors.ErrInvalidItem4
	ErrInsufficientProofOfWork = ruleerrors.ErrInsufficientProofOfWork
	ErrSoftNonceTooHigh        = ruleerrors.ErrSoftNonceTooHigh
	ErrUnknown                 = ruleerrors.ErrUnknown
)

// Runtime is proof that the hash primitive passed its self-test, bundled
// with the rules checks run under.
type Runtime struct {
	params *params.Params
	anns   *announce.Validator
	pow    *pow.ProofOfWork
}

var (
	initOnce       sync.Once
	defaultRuntime *Runtime
)

// Init initializes the hash primitive and returns the mainnet runtime. It is
// safe to call from any number of goroutines; the self-test runs once.
// Init panics if the primitive fails its self-test.
func Init() *Runtime {
	initOnce.Do(func() {
		if err := crypto.SelfTest(); err != nil {
			panic(fmt.Sprintf("packetcrypt: hash primitive self-test failed: %+v", err))
		}
		defaultRuntime = newRuntime(params.MainnetParams.Clone(), difficulty.Default{})
	})
	return defaultRuntime
}

func newRuntime(p *params.Params, svc difficulty.Service) *Runtime {
	anns := announce.NewValidator(p, svc)
	return &Runtime{
		params: p,
		anns:   anns,
		pow:    pow.NewProofOfWork(anns),
	}
}

// WithParams returns a runtime enforcing p instead
func (r *Runtime) WithParams(p *params.Params) *Runtime {
	return newRuntime(p, r.anns.Difficulty())
}

// WithDifficulty returns a runtime that uses svc for target decoding and
// comparison
func (r *Runtime) WithDifficulty(svc difficulty.Service) *Runtime {
	return newRuntime(r.params, svc)
}

// Params returns the rules the runtime enforces
func (r *Runtime) Params() *params.Params {
	return r.params
}

// NewValidateCtx creates a validation context
func (r *Runtime) NewValidateCtx() *ValidateCtx {
	return announce.NewContext()
}

// NewPool creates a pool of size validation contexts
func (r *Runtime) NewPool(size int) *Pool {
	return announce.NewPool(size)
}

// CheckAnn validates an announcement against the hash of the parent block
// it names and returns the announcement hash.
func (r *Runtime) CheckAnn(ann []byte, parentBlockHash *types.Hash, vctx *ValidateCtx) (types.Hash, error) {
	return r.anns.CheckAnn(vctx, ann, parentBlockHash)
}

// CheckBlockWork validates a block share made of an 80-byte header, the low
// nonce, four announcements and the coinbase commitment, and returns the
// share hash.
func (r *Runtime) CheckBlockWork(header []byte, lowNonce, shareTarget uint32,
	anns [][]byte, coinbase []byte) (types.Hash, error) {

	return r.pow.CheckBlockWork(header, lowNonce, shareTarget, anns, coinbase)
}

// ParseAnn wraps a 1024-byte announcement
func ParseAnn(b []byte) (Ann, error) {
	return types.ParseAnnouncement(b)
}

// HardNonce reads the hard nonce of a raw announcement
func HardNonce(ann []byte) uint32 {
	return types.HardNonce(ann)
}

// WorkBits reads the work bits of a raw announcement
func WorkBits(ann []byte) uint32 {
	return types.WorkBits(ann)
}

// ParentBlockHeight reads the parent block height of a raw announcement
func ParentBlockHeight(ann []byte) int32 {
	return types.ParentBlockHeight(ann)
}

// ResultCode maps a check result to its numeric code: 0 for success, 1 to 4
// for the rule violations and -1 otherwise.
func ResultCode(err error) int {
	return ruleerrors.Code(err)
}
