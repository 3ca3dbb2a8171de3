// Package difficulty converts between compact difficulty encodings and full
// 256-bit targets, and decides whether a hash meets a target.
//
// The compact form is the floating-point-like "bits" encoding used by
// bitcoin-derived chains: the top byte is a base-256 exponent, bit 23 is a
// sign and the low 23 bits are the mantissa.
//
//	value = mantissa * 256^(exponent-3)
package difficulty

import (
	"math/big"

	"github.com/nganji523/packetcrypt-rs/pkg/types"
	"github.com/pkg/errors"
)

// MaxTargetBits is the easiest target the compact form can express without
// exceeding 256 bits: 0xffff * 2^240.
const MaxTargetBits uint32 = 0x2100ffff

var (
	bigOne = big.NewInt(1)

	// oneLsh256 is 1 shifted left 256 bits.
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)

	// MaxTarget is the largest value a 32-byte hash can take.
	MaxTarget = new(big.Int).Sub(oneLsh256, bigOne)
)

// ErrBadTarget is returned for compact values that do not decode to a usable
// target.
var ErrBadTarget = errors.New("bad difficulty target")

// CompactToBig converts a compact representation of a whole number N to a
// big integer.
func CompactToBig(compact uint32) *big.Int {
	// Extract the mantissa, sign bit, and exponent.
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	// Since the base for the exponent is 256, the exponent can be treated
	// as the number of bytes to represent the full 256-bit number. So,
	// treat the exponent as the number of bytes and shift the mantissa
	// right or left accordingly.
	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if isNegative {
		bn = bn.Neg(bn)
	}

	return bn
}

// BigToCompact converts a whole number N to a compact representation using
// an unsigned 32-bit number. The compact representation only provides 23
// bits of precision, so values larger than (2^23 - 1) only encode the most
// significant digits of the number.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	// When the mantissa already has the sign bit set, the number is too
	// large to fit into the available 23 bits, so divide the number by 256
	// and increment the exponent accordingly.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// HashToBig interprets a hash as a big-endian unsigned integer.
func HashToBig(hash *types.Hash) *big.Int {
	return new(big.Int).SetBytes(hash[:])
}

// ValidateTarget decodes bits and checks that the result is a positive
// target no larger than MaxTarget.
func ValidateTarget(bits uint32) (*big.Int, error) {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return nil, errors.Wrapf(ErrBadTarget, "bits %#08x decode to a non-positive target", bits)
	}
	if target.Cmp(MaxTarget) > 0 {
		return nil, errors.Wrapf(ErrBadTarget, "bits %#08x exceed the 256-bit range", bits)
	}
	return target, nil
}

// TargetMeets reports whether hash, read big-endian, is less than or equal
// to target.
func TargetMeets(hash *types.Hash, target *big.Int) bool {
	return HashToBig(hash).Cmp(target) <= 0
}

// CalcWork returns the expected number of hashes needed to meet the target
// encoded in bits: 2^256 / (target+1). Invalid targets have zero work.
func CalcWork(bits uint32) *big.Int {
	target, err := ValidateTarget(bits)
	if err != nil {
		return big.NewInt(0)
	}
	denominator := new(big.Int).Add(target, bigOne)
	return new(big.Int).Div(oneLsh256, denominator)
}

// Service is the difficulty collaborator the validators consume.
type Service interface {
	// CompactToTarget decodes bits, failing with ErrBadTarget when the
	// result is not a usable target.
	CompactToTarget(bits uint32) (*big.Int, error)

	// TargetMeets reports whether hash satisfies target.
	TargetMeets(hash *types.Hash, target *big.Int) bool
}

// Default implements Service with the compact encoding above and an
// inclusive comparison.
type Default struct{}

var _ Service = Default{}

// CompactToTarget implements Service.
func (Default) CompactToTarget(bits uint32) (*big.Int, error) {
	return ValidateTarget(bits)
}

// TargetMeets implements Service.
func (Default) TargetMeets(hash *types.Hash, target *big.Int) bool {
	return TargetMeets(hash, target)
}
