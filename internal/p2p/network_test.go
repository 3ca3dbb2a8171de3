package p2p

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// recordingHandler accepts announcements whose first byte is 1 and rejects
// the rest as invalid. The first unavailable calls fail with a non-rule error.
type recordingHandler struct {
	mu          sync.Mutex
	anns        [][]byte
	unavailable int
}

func (h *recordingHandler) HandleAnnouncement(_ context.Context, ann []byte) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.anns = append(h.anns, ann)
	if h.unavailable > 0 {
		h.unavailable--
		return false, errors.New("parent block not known yet")
	}
	if ann[0] != 1 {
		return false, ruleerrors.ErrInvalid
	}
	return true, nil
}

func (h *recordingHandler) setUnavailable(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unavailable = n
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.anns)
}

func testAnn(version, fill byte) []byte {
	ann := bytes.Repeat([]byte{fill}, types.AnnouncementSize)
	ann[0] = version
	return ann
}

func newTestNetwork(t *testing.T) (*Network, *recordingHandler) {
	t.Helper()
	handler := &recordingHandler{}
	n, err := NewNetwork(context.Background(), "/ip4/127.0.0.1/tcp/0", handler, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { n.Stop() })
	require.NoError(t, n.Start())
	return n, handler
}

func connect(t *testing.T, from, to *Network) {
	t.Helper()
	require.NotEmpty(t, to.Addrs())
	require.NoError(t, from.ConnectToPeer(to.Addrs()[0]))
	require.Eventually(t, func() bool {
		return from.GetPeerCount() > 0 && to.GetPeerCount() > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewNetwork(t *testing.T) {
	n, _ := newTestNetwork(t)

	if n.ID() == "" {
		t.Fatal("Node has no ID")
	}
	if len(n.Addrs()) == 0 {
		t.Error("No listen addresses")
	}
	if n.GetPeerCount() != 0 {
		t.Error("New node should have no peers")
	}
}

func TestNewNetworkBadAddress(t *testing.T) {
	_, err := NewNetwork(context.Background(), "not-a-multiaddr", &recordingHandler{}, nil, nil)
	require.Error(t, err)
}

func TestPeerConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping peer connection test in short mode")
	}

	n1, _ := newTestNetwork(t)
	n2, _ := newTestNetwork(t)
	connect(t, n2, n1)

	require.Contains(t, n2.GetPeers(), n1.ID().String())
	require.Contains(t, n1.GetPeers(), n2.ID().String())

	rtt, err := n2.Ping(context.Background(), n1.ID())
	require.NoError(t, err)
	require.Greater(t, rtt, time.Duration(0))

	require.Error(t, n2.ConnectToPeer("/ip4/127.0.0.1/tcp/1"))
}

func TestRelayOnlyAcceptedAnnouncements(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping relay test in short mode")
	}

	// a -> b -> c
	a, _ := newTestNetwork(t)
	b, bh := newTestNetwork(t)
	c, ch := newTestNetwork(t)
	connect(t, a, b)
	connect(t, b, c)

	valid := testAnn(1, 0x10)
	require.NoError(t, a.BroadcastAnnouncement(valid))
	require.Eventually(t, func() bool { return ch.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, bh.count())

	invalid := testAnn(2, 0x20)
	require.NoError(t, a.BroadcastAnnouncement(invalid))
	require.Eventually(t, func() bool { return bh.count() == 2 }, 5*time.Second, 20*time.Millisecond)

	// Give a wrongful relay time to arrive
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 1, ch.count(), "rejected announcement was relayed")

	// Duplicates are suppressed at the sender
	require.NoError(t, a.BroadcastAnnouncement(valid))
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 2, bh.count())
}

func TestRetryAfterTransientRejection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping relay test in short mode")
	}

	// a -> b <- c
	a, _ := newTestNetwork(t)
	b, bh := newTestNetwork(t)
	c, _ := newTestNetwork(t)
	connect(t, a, b)
	connect(t, c, b)

	bh.setUnavailable(1)
	ann := testAnn(1, 0x30)
	require.NoError(t, a.BroadcastAnnouncement(ann))
	require.Eventually(t, func() bool { return bh.count() == 1 }, 5*time.Second, 20*time.Millisecond)

	// A second copy is handled once the first failure has passed
	require.NoError(t, c.BroadcastAnnouncement(ann))
	require.Eventually(t, func() bool { return bh.count() == 2 }, 5*time.Second, 20*time.Millisecond)

	// Rule violations are remembered and not handled again
	invalid := testAnn(2, 0x40)
	require.NoError(t, a.BroadcastAnnouncement(invalid))
	require.Eventually(t, func() bool { return bh.count() == 3 }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, c.BroadcastAnnouncement(invalid))
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 3, bh.count())
}

func TestBroadcastRejectsBadLength(t *testing.T) {
	n, _ := newTestNetwork(t)
	require.ErrorIs(t, n.BroadcastAnnouncement(make([]byte, 10)), types.ErrBadLength)
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		want    MessageType
		wantErr bool
	}{
		{"announcement", append([]byte{byte(MsgTypeAnnouncement)}, make([]byte, types.AnnouncementSize)...), MsgTypeAnnouncement, false},
		{"ping", append([]byte{byte(MsgTypePing)}, make([]byte, pingNonceSize)...), MsgTypePing, false},
		{"empty", nil, 0, true},
		{"unknown type", []byte{9, 1, 2}, 0, true},
		{"short announcement", append([]byte{byte(MsgTypeAnnouncement)}, make([]byte, 100)...), 0, true},
		{"long pong", append([]byte{byte(MsgTypePong)}, make([]byte, 9)...), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := decodeFrame(tt.frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("decodeFrame() type = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ann := testAnn(1, 7)
	require.NoError(t, writeMessage(&buf, MsgTypeAnnouncement, ann))

	reader := newFrameReader(&buf)
	frame, err := reader.ReadMsg()
	require.NoError(t, err)

	msgType, payload, err := decodeFrame(frame)
	require.NoError(t, err)
	require.Equal(t, MsgTypeAnnouncement, msgType)
	require.Equal(t, ann, payload)
}

func TestFrameReaderRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, MsgTypeAnnouncement, make([]byte, 2*types.AnnouncementSize)))

	_, err := newFrameReader(&buf).ReadMsg()
	require.Error(t, err)
}
