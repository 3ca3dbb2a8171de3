// Package node runs announcement and share validation on behalf of the RPC
// and gossip layers and keeps the accepted announcements.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/internal/merkle"
	"github.com/nganji523/packetcrypt-rs/internal/metrics"
	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/internal/storage"
	"github.com/nganji523/packetcrypt-rs/pkg/packetcrypt"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// ErrUnknownParent is returned for announcements built on a parent block
// the node has not been told about
var ErrUnknownParent = errors.New("unknown parent block")

// Relay distributes accepted announcements to other nodes
type Relay interface {
	BroadcastAnnouncement(ann []byte) error
}

// Options tune a Node
type Options struct {
	// Workers bounds concurrent validations
	Workers int

	// RetainHeights keeps announcements this many heights below the newest
	// parent block. Zero disables pruning.
	RetainHeights int32
}

// Result is the outcome of one announcement in a batch
type Result struct {
	Hash types.Hash
	Err  error
}

// Node validates and stores announcements and shares
type Node struct {
	rt      *packetcrypt.Runtime
	pool    *packetcrypt.Pool
	store   *storage.Storage
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options

	relayMu sync.RWMutex
	relay   Relay

	// saveMu makes the stored check and the save one step
	saveMu sync.Mutex

	tipMu sync.Mutex
	tip   int32
}

// New creates a node. m and logger may be nil.
func New(rt *packetcrypt.Runtime, store *storage.Storage, m *metrics.Metrics,
	logger *zap.Logger, opts Options) *Node {

	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		rt:      rt,
		pool:    rt.NewPool(opts.Workers),
		store:   store,
		metrics: m,
		logger:  logger,
		opts:    opts,
		tip:     -1,
	}
}

// Close waits for in-flight validations and releases the context pool
func (n *Node) Close() {
	n.pool.Close()
}

// SetRelay sets where newly accepted announcements are sent
func (n *Node) SetRelay(r Relay) {
	n.relayMu.Lock()
	defer n.relayMu.Unlock()
	n.relay = r
}

// CheckAnnouncement validates ann against parentBlockHash without storing it
func (n *Node) CheckAnnouncement(ctx context.Context, ann []byte, parentBlockHash types.Hash) (types.Hash, error) {
	vctx, err := n.pool.Acquire(ctx)
	if err != nil {
		return types.Hash{}, err
	}
	defer n.pool.Release(vctx)

	started := time.Now()
	hash, err := n.rt.CheckAnn(ann, &parentBlockHash, vctx)
	n.metrics.ObserveValidation(metrics.CheckAnnouncement, started, err)
	return hash, err
}

// CheckAnnouncements validates a batch built on the same parent block. The
// results are in input order.
func (n *Node) CheckAnnouncements(ctx context.Context, parentBlockHash types.Hash, anns [][]byte) ([]Result, error) {
	results := make([]Result, len(anns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.opts.Workers)
	for i := range anns {
		i := i
		g.Go(func() error {
			hash, err := n.CheckAnnouncement(gctx, anns[i], parentBlockHash)
			if err != nil {
				if _, ok := ruleerrors.KindOf(err); !ok {
					// Cancellation or a closed pool ends the whole batch
					return err
				}
			}
			results[i] = Result{Hash: hash, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// accept validates ann against the stored parent hash for its height and
// stores it. isNew is false when the announcement was already stored.
func (n *Node) accept(ctx context.Context, ann []byte) (hash types.Hash, isNew bool, err error) {
	if len(ann) != types.AnnouncementSize {
		return types.Hash{}, false, ruleerrors.New(ruleerrors.KindInvalid,
			"announcement is %d bytes, want %d", len(ann), types.AnnouncementSize)
	}

	height := types.ParentBlockHeight(ann)
	parent, err := n.store.GetParentBlockHash(height)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, false, errors.Wrapf(ErrUnknownParent, "height %d", height)
	}
	if err != nil {
		return types.Hash{}, false, err
	}

	hash, err = n.CheckAnnouncement(ctx, ann, parent)
	if err != nil {
		return types.Hash{}, false, err
	}

	n.saveMu.Lock()
	if n.store.HasAnnouncement(hash) {
		n.saveMu.Unlock()
		return hash, false, nil
	}
	err = n.store.SaveAnnouncement(hash, ann)
	n.saveMu.Unlock()
	if err != nil {
		return types.Hash{}, false, err
	}
	n.metrics.AnnouncementStored()
	n.logger.Debug("announcement accepted",
		zap.Stringer("hash", hash),
		zap.Int32("parent_height", height),
		zap.String("announcer", crypto.AnnouncerAddress(signingKey(ann))))
	return hash, true, nil
}

func signingKey(ann []byte) crypto.SigningKey {
	var key crypto.SigningKey
	copy(key[:], types.SigningKey(ann))
	return key
}

// SubmitAnnouncement validates and stores an announcement received from a
// client and relays it when it is new
func (n *Node) SubmitAnnouncement(ctx context.Context, ann []byte) (types.Hash, error) {
	hash, isNew, err := n.accept(ctx, ann)
	if err != nil {
		return types.Hash{}, err
	}
	if isNew {
		n.relayMu.RLock()
		relay := n.relay
		n.relayMu.RUnlock()
		if relay != nil {
			if err := relay.BroadcastAnnouncement(ann); err != nil {
				n.logger.Warn("relay failed", zap.Stringer("hash", hash), zap.Error(err))
			}
		}
	}
	return hash, nil
}

// HandleAnnouncement accepts an announcement from a peer and asks for it to
// be relayed when it is new
func (n *Node) HandleAnnouncement(ctx context.Context, ann []byte) (bool, error) {
	_, isNew, err := n.accept(ctx, ann)
	if err != nil {
		return false, err
	}
	return isNew, nil
}

// CheckShare validates a block share and records it when accepted
func (n *Node) CheckShare(ctx context.Context, header []byte, lowNonce, shareTarget uint32,
	anns [][]byte, coinbase []byte) (types.Hash, error) {

	if err := ctx.Err(); err != nil {
		return types.Hash{}, err
	}

	started := time.Now()
	hash, err := n.rt.CheckBlockWork(header, lowNonce, shareTarget, anns, coinbase)
	n.metrics.ObserveValidation(metrics.CheckBlockWork, started, err)
	if err != nil {
		return types.Hash{}, err
	}

	digests := make([]types.Hash, len(anns))
	for i, ann := range anns {
		digests[i] = crypto.HashBytes(ann)
	}
	share := &storage.ShareRecord{
		Hash:                hash,
		Header:              append([]byte(nil), header...),
		LowNonce:            lowNonce,
		ShareTarget:         shareTarget,
		AnnouncementDigests: digests,
		Coinbase:            append([]byte(nil), coinbase...),
		AcceptedAt:          time.Now().UTC(),
	}
	if err := n.store.SaveShare(share); err != nil {
		return types.Hash{}, err
	}
	n.logger.Info("share accepted", zap.Stringer("hash", hash), zap.Uint32("low_nonce", lowNonce))
	return hash, nil
}

// SetParentBlock records the hash of the parent-chain block at height and
// prunes announcements that fell out of the retention window
func (n *Node) SetParentBlock(height int32, hash types.Hash) error {
	if height < 0 {
		return errors.Errorf("negative parent height %d", height)
	}
	if err := n.store.SetParentBlockHash(height, hash); err != nil {
		return err
	}

	n.tipMu.Lock()
	defer n.tipMu.Unlock()
	if height <= n.tip {
		return nil
	}
	n.tip = height

	if n.opts.RetainHeights > 0 && height > n.opts.RetainHeights {
		removed, err := n.store.PruneBelow(height - n.opts.RetainHeights)
		if err != nil {
			return err
		}
		if removed > 0 {
			n.logger.Info("pruned announcements", zap.Int("count", removed), zap.Int32("below", height-n.opts.RetainHeights))
		}
	}
	return nil
}

// AnnouncementRoot returns the merkle root of the announcements stored for
// a parent height and how many there are
func (n *Node) AnnouncementRoot(height int32) (types.Hash, int, error) {
	hashes, err := n.store.AnnouncementHashesAtHeight(height)
	if err != nil {
		return types.Hash{}, 0, err
	}
	return merkle.BuildMerkleRoot(hashes), len(hashes), nil
}

// AnnouncementProof returns the root of a parent height and the merkle path
// of one of its announcements
func (n *Node) AnnouncementProof(height int32, hash types.Hash) (types.Hash, []merkle.ProofStep, error) {
	hashes, err := n.store.AnnouncementHashesAtHeight(height)
	if err != nil {
		return types.Hash{}, nil, err
	}
	for i := range hashes {
		if hashes[i] == hash {
			proof, err := merkle.BuildProof(hashes, i)
			if err != nil {
				return types.Hash{}, nil, err
			}
			return merkle.BuildMerkleRoot(hashes), proof, nil
		}
	}
	return types.Hash{}, nil, errors.Wrapf(storage.ErrNotFound, "announcement %s at height %d", hash, height)
}
