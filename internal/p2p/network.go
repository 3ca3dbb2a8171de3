package p2p

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/internal/metrics"
	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

const (
	// Protocol IDs
	AnnProtocol  = "/packetcrypt/ann/1.0.0"
	PingProtocol = "/packetcrypt/ping/1.0.0"

	StreamTimeout = 10 * time.Second

	// seenCacheSize is how many announcement digests are remembered for
	// duplicate suppression
	seenCacheSize = 1 << 16
)

// Handler decides what happens to announcements received from peers
type Handler interface {
	// HandleAnnouncement processes ann and reports whether it should be
	// relayed to the other peers.
	HandleAnnouncement(ctx context.Context, ann []byte) (bool, error)
}

// Network gossips announcements between nodes
type Network struct {
	host    host.Host
	handler Handler
	logger  *zap.Logger
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc

	// Peer management
	peers     map[peer.ID]bool
	peerMutex sync.RWMutex

	seen *lru.Cache[types.Hash, struct{}]
	wg   sync.WaitGroup
}

// NewNetwork creates a libp2p host listening on listenAddr. m may be nil.
func NewNetwork(ctx context.Context, listenAddr string, handler Handler,
	logger *zap.Logger, m *metrics.Metrics) (*Network, error) {

	// Parse listen address
	addr, err := multiaddr.NewMultiaddr(listenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid listen address")
	}

	// Create libp2p host
	h, err := libp2p.New(
		libp2p.ListenAddrs(addr),
		libp2p.NATPortMap(), // Enable NAT traversal
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create libp2p host")
	}

	seen, err := lru.New[types.Hash, struct{}](seenCacheSize)
	if err != nil {
		h.Close()
		return nil, errors.Wrap(err, "failed to create seen cache")
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}

	netCtx, cancel := context.WithCancel(ctx)

	n := &Network{
		host:    h,
		handler: handler,
		logger:  logger,
		metrics: m,
		ctx:     netCtx,
		cancel:  cancel,
		peers:   make(map[peer.ID]bool),
		seen:    seen,
	}

	// Set up stream handlers
	h.SetStreamHandler(protocol.ID(AnnProtocol), n.handleAnnStream)
	h.SetStreamHandler(protocol.ID(PingProtocol), n.handlePingStream)

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			n.addPeer(conn.RemotePeer())
		},
		DisconnectedF: func(net network.Network, conn network.Conn) {
			if net.Connectedness(conn.RemotePeer()) != network.Connected {
				n.removePeer(conn.RemotePeer())
			}
		},
	})

	return n, nil
}

// Start logs the addresses the node is reachable at
func (n *Network) Start() error {
	n.logger.Info("p2p network started",
		zap.String("id", n.host.ID().String()),
		zap.Strings("addrs", n.Addrs()))
	return nil
}

// Stop gracefully shuts down the network
func (n *Network) Stop() error {
	n.cancel()
	err := n.host.Close()
	n.wg.Wait()
	return err
}

// ID returns the node's peer ID
func (n *Network) ID() peer.ID {
	return n.host.ID()
}

// Addrs returns the full multiaddrs, including the peer ID, the node
// listens on
func (n *Network) Addrs() []string {
	addrs := make([]string, 0, len(n.host.Addrs()))
	for _, addr := range n.host.Addrs() {
		addrs = append(addrs, addr.String()+"/p2p/"+n.host.ID().String())
	}
	return addrs
}

// ConnectToPeer connects to a peer using its multiaddr
func (n *Network) ConnectToPeer(peerAddr string) error {
	addr, err := multiaddr.NewMultiaddr(peerAddr)
	if err != nil {
		return errors.Wrap(err, "invalid peer address")
	}

	peerInfo, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return errors.Wrap(err, "failed to parse peer info")
	}

	if err := n.host.Connect(n.ctx, *peerInfo); err != nil {
		return errors.Wrapf(err, "failed to connect to peer %s", peerInfo.ID)
	}

	n.addPeer(peerInfo.ID)
	n.logger.Info("connected to peer", zap.Stringer("peer", peerInfo.ID))
	return nil
}

func (n *Network) addPeer(id peer.ID) {
	n.peerMutex.Lock()
	n.peers[id] = true
	count := len(n.peers)
	n.peerMutex.Unlock()
	n.metrics.SetPeers(count)
}

func (n *Network) removePeer(id peer.ID) {
	n.peerMutex.Lock()
	delete(n.peers, id)
	count := len(n.peers)
	n.peerMutex.Unlock()
	n.metrics.SetPeers(count)
	n.logger.Debug("peer disconnected", zap.Stringer("peer", id))
}

// markSeen records the announcement digest and reports whether it was new
func (n *Network) markSeen(ann []byte) bool {
	seen, _ := n.seen.ContainsOrAdd(crypto.HashBytes(ann), struct{}{})
	return !seen
}

// BroadcastAnnouncement sends an announcement to all peers. Announcements
// already seen are not sent again.
func (n *Network) BroadcastAnnouncement(ann []byte) error {
	if len(ann) != types.AnnouncementSize {
		return errors.Wrapf(types.ErrBadLength, "broadcast of %d bytes", len(ann))
	}
	if !n.markSeen(ann) {
		return nil
	}
	n.relay("", ann)
	return nil
}

// relay sends ann to every peer except from
func (n *Network) relay(from peer.ID, ann []byte) {
	for _, peerID := range n.peerIDs() {
		if peerID == from {
			continue
		}
		n.wg.Add(1)
		go func(peerID peer.ID) {
			defer n.wg.Done()
			if err := n.sendMessage(peerID, AnnProtocol, MsgTypeAnnouncement, ann); err != nil {
				n.logger.Debug("announcement send failed", zap.Stringer("peer", peerID), zap.Error(err))
			}
		}(peerID)
	}
}

// sendMessage sends a message to a specific peer
func (n *Network) sendMessage(peerID peer.ID, proto string, t MessageType, payload []byte) error {
	ctx, cancel := context.WithTimeout(n.ctx, StreamTimeout)
	defer cancel()

	stream, err := n.host.NewStream(ctx, peerID, protocol.ID(proto))
	if err != nil {
		return errors.Wrap(err, "failed to open stream")
	}
	defer stream.Close()

	_ = stream.SetWriteDeadline(time.Now().Add(StreamTimeout))
	if err := writeMessage(stream, t, payload); err != nil {
		stream.Reset()
		return errors.Wrap(err, "failed to send message")
	}
	n.metrics.P2PMessage("out", t.String())
	return nil
}

// handleAnnStream handles incoming announcements
func (n *Network) handleAnnStream(stream network.Stream) {
	defer stream.Close()
	from := stream.Conn().RemotePeer()

	_ = stream.SetReadDeadline(time.Now().Add(StreamTimeout))
	reader := newFrameReader(stream)
	frame, err := reader.ReadMsg()
	if err != nil {
		n.logger.Debug("failed to read announcement frame", zap.Stringer("peer", from), zap.Error(err))
		stream.Reset()
		return
	}
	defer reader.ReleaseMsg(frame)

	t, payload, err := decodeFrame(frame)
	if err != nil || t != MsgTypeAnnouncement {
		n.logger.Debug("unexpected frame on announcement stream", zap.Stringer("peer", from), zap.Error(err))
		stream.Reset()
		return
	}
	n.metrics.P2PMessage("in", t.String())

	digest := crypto.HashBytes(payload)
	if n.seen.Contains(digest) {
		return
	}

	// The frame buffer returns to the reader's pool
	ann := append([]byte(nil), payload...)
	relay, err := n.handler.HandleAnnouncement(n.ctx, ann)
	if err != nil {
		// Only rule violations are final. Anything else, such as an unknown
		// parent block, may pass once the node catches up.
		if _, ok := ruleerrors.KindOf(err); ok {
			n.seen.Add(digest, struct{}{})
		}
		n.logger.Debug("announcement rejected", zap.Stringer("peer", from), zap.Error(err))
		return
	}
	n.seen.Add(digest, struct{}{})
	if relay {
		n.relay(from, ann)
	}
}

// Ping measures the round trip to a peer
func (n *Network) Ping(ctx context.Context, peerID peer.ID) (time.Duration, error) {
	nonce := make([]byte, pingNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return 0, errors.Wrap(err, "failed to generate ping nonce")
	}

	stream, err := n.host.NewStream(ctx, peerID, protocol.ID(PingProtocol))
	if err != nil {
		return 0, errors.Wrap(err, "failed to open ping stream")
	}
	defer stream.Close()

	deadline := time.Now().Add(StreamTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = stream.SetDeadline(deadline)

	start := time.Now()
	if err := writeMessage(stream, MsgTypePing, nonce); err != nil {
		stream.Reset()
		return 0, errors.Wrap(err, "failed to send ping")
	}

	reader := newFrameReader(stream)
	frame, err := reader.ReadMsg()
	if err != nil {
		stream.Reset()
		return 0, errors.Wrap(err, "failed to read pong")
	}
	defer reader.ReleaseMsg(frame)

	t, payload, err := decodeFrame(frame)
	if err != nil {
		return 0, err
	}
	if t != MsgTypePong || string(payload) != string(nonce) {
		return 0, errors.Wrap(errBadFrame, "pong does not answer the ping")
	}
	return time.Since(start), nil
}

// handlePingStream answers pings for peer liveness
func (n *Network) handlePingStream(stream network.Stream) {
	defer stream.Close()

	_ = stream.SetDeadline(time.Now().Add(StreamTimeout))
	reader := newFrameReader(stream)
	frame, err := reader.ReadMsg()
	if err != nil {
		stream.Reset()
		return
	}
	defer reader.ReleaseMsg(frame)

	t, payload, err := decodeFrame(frame)
	if err != nil || t != MsgTypePing {
		stream.Reset()
		return
	}
	if err := writeMessage(stream, MsgTypePong, payload); err != nil {
		stream.Reset()
	}
}

func (n *Network) peerIDs() []peer.ID {
	n.peerMutex.RLock()
	defer n.peerMutex.RUnlock()

	peers := make([]peer.ID, 0, len(n.peers))
	for p := range n.peers {
		peers = append(peers, p)
	}
	return peers
}

// GetPeerCount returns the number of connected peers
func (n *Network) GetPeerCount() int {
	n.peerMutex.RLock()
	defer n.peerMutex.RUnlock()
	return len(n.peers)
}

// GetPeers returns a list of connected peer IDs
func (n *Network) GetPeers() []string {
	peers := n.peerIDs()
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.String())
	}
	return ids
}
