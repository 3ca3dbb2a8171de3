package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nganji523/packetcrypt-rs/internal/ruleerrors"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

const dialTimeout = 5 * time.Second

// Client calls a remote ValidationService. Rule errors returned by the
// server come back as ruleerrors values of the same kind.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the validation service at address
func Dial(address string, opts ...grpc.DialOption) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock()}, opts...)
	conn, err := grpc.DialContext(ctx, address, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", address)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, body []byte, out proto.Message) error {
	err := c.conn.Invoke(ctx, fullMethod(method), wrapperspb.Bytes(body), out)
	return fromStatus(err)
}

func (c *Client) invokeHash(ctx context.Context, method string, body []byte) (types.Hash, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, method, body, out); err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBytes(out.GetValue())
}

// CheckAnn validates ann against parentBlockHash remotely
func (c *Client) CheckAnn(ctx context.Context, ann []byte, parentBlockHash types.Hash) (types.Hash, error) {
	return c.invokeHash(ctx, "CheckAnn", encodeCheckAnn(parentBlockHash, ann))
}

// CheckBlockWork validates a block share remotely
func (c *Client) CheckBlockWork(ctx context.Context, header []byte, lowNonce, shareTarget uint32,
	anns [][]byte, coinbase []byte) (types.Hash, error) {

	if len(anns) > 255 {
		return types.Hash{}, ruleerrors.New(ruleerrors.KindInvalid, "%d announcements", len(anns))
	}
	body := encodeBlockWork(&blockWorkRequest{
		header:      header,
		lowNonce:    lowNonce,
		shareTarget: shareTarget,
		anns:        anns,
		coinbase:    coinbase,
	})
	return c.invokeHash(ctx, "CheckBlockWork", body)
}

// SubmitAnnouncement hands an announcement to the remote node for storage
// and relay
func (c *Client) SubmitAnnouncement(ctx context.Context, ann []byte) (types.Hash, error) {
	return c.invokeHash(ctx, "SubmitAnnouncement", ann)
}

// SetParentBlock tells the remote node the hash of a parent-chain block
func (c *Client) SetParentBlock(ctx context.Context, height int32, hash types.Hash) error {
	return c.invoke(ctx, "SetParentBlock", encodeParentBlock(height, hash), new(emptypb.Empty))
}

// AnnouncementRoot fetches the merkle root and count of the announcements
// the remote node holds for a parent height
func (c *Client) AnnouncementRoot(ctx context.Context, height int32) (types.Hash, int, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, "AnnouncementRoot", encodeHeight(height), out); err != nil {
		return types.Hash{}, 0, err
	}
	return decodeRoot(out.GetValue())
}

// fromStatus restores rule errors from the status detail written by toStatus
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, detail := range st.Details() {
		code, ok := detail.(*wrapperspb.UInt32Value)
		if !ok {
			continue
		}
		kind, ok := ruleerrors.KindOf(ruleerrors.FromCode(int(int32(code.GetValue()))))
		if !ok {
			break
		}
		return ruleerrors.New(kind, "%s", strings.TrimPrefix(st.Message(), kind.String()+": "))
	}
	return err
}
