// Package params defines the protocol parameters announcement and share
// validation depend on.
package params

import (
	"github.com/pkg/errors"
)

// SoftNonceEpoch caps the soft nonce of announcements whose parent block
// height is at or above FromHeight.
type SoftNonceEpoch struct {
	FromHeight int32  `yaml:"from_height"`
	Max        uint32 `yaml:"max"`
}

// Params holds the protocol rules for one network.
type Params struct {
	Name string `yaml:"name"`

	// AnnouncementVersion is the only announcement version accepted.
	AnnouncementVersion uint8 `yaml:"announcement_version"`

	// SoftNonceEpochs must start at height 0 and be sorted by FromHeight.
	SoftNonceEpochs []SoftNonceEpoch `yaml:"soft_nonce_epochs"`
}

// SoftNonceLimitHeight is where the mainnet soft nonce range shrinks.
const SoftNonceLimitHeight = 1 << 20

// MainnetParams are the rules of the production network.
var MainnetParams = Params{
	Name:                "mainnet",
	AnnouncementVersion: 1,
	SoftNonceEpochs: []SoftNonceEpoch{
		{FromHeight: 0, Max: 0xffffff},
		{FromHeight: SoftNonceLimitHeight, Max: 0x1ffff},
	},
}

// TestnetParams keep the full soft nonce range at every height.
var TestnetParams = Params{
	Name:                "testnet",
	AnnouncementVersion: 1,
	SoftNonceEpochs: []SoftNonceEpoch{
		{FromHeight: 0, Max: 0xffffff},
	},
}

// ByName returns a copy of the named network's parameters.
func ByName(name string) (*Params, error) {
	switch name {
	case MainnetParams.Name:
		return MainnetParams.Clone(), nil
	case TestnetParams.Name:
		return TestnetParams.Clone(), nil
	}
	return nil, errors.Errorf("unknown network %q", name)
}

// Clone returns a deep copy of p.
func (p *Params) Clone() *Params {
	c := *p
	c.SoftNonceEpochs = append([]SoftNonceEpoch(nil), p.SoftNonceEpochs...)
	return &c
}

// SoftNonceMax returns the largest soft nonce allowed for an announcement
// built on the block at parentHeight. Heights before the first epoch allow
// nothing.
func (p *Params) SoftNonceMax(parentHeight int32) uint32 {
	limit := uint32(0)
	for _, epoch := range p.SoftNonceEpochs {
		if epoch.FromHeight > parentHeight {
			break
		}
		limit = epoch.Max
	}
	return limit
}

// Validate checks the epochs are well formed.
func (p *Params) Validate() error {
	if len(p.SoftNonceEpochs) == 0 {
		return errors.New("at least one soft nonce epoch is required")
	}
	if p.SoftNonceEpochs[0].FromHeight != 0 {
		return errors.Errorf("first soft nonce epoch must start at height 0, not %d",
			p.SoftNonceEpochs[0].FromHeight)
	}
	for i, epoch := range p.SoftNonceEpochs {
		if epoch.Max > 0xffffff {
			return errors.Errorf("soft nonce epoch %d: max %#x does not fit in 24 bits", i, epoch.Max)
		}
		if i > 0 && epoch.FromHeight <= p.SoftNonceEpochs[i-1].FromHeight {
			return errors.Errorf("soft nonce epoch %d: heights must strictly increase", i)
		}
	}
	return nil
}
