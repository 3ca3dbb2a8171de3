package announce

import (
	"encoding/binary"

	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

// Item derivation
const (
	NumItems = 4
	ItemSize = 64

	itemInputSize = types.HashSize + 1 + 4
)

// Context is reusable scratch state for announcement checks. A Context must
// only be used by one goroutine at a time and must be destroyed exactly once.
type Context struct {
	writer    *crypto.HashWriter
	header    [types.AnnouncementHeaderSize]byte
	items     [NumItems * ItemSize]byte
	itemInput [itemInputSize]byte
	destroyed bool
}

// NewContext allocates a validation context.
func NewContext() *Context {
	return &Context{writer: crypto.NewHashWriter()}
}

// Destroy releases the context. Calling it twice, or using the context
// afterwards, panics.
func (c *Context) Destroy() {
	c.mustBeLive()
	c.wipe()
	c.writer = nil
	c.destroyed = true
}

func (c *Context) mustBeLive() {
	if c == nil || c.destroyed {
		panic("announce: use of destroyed validation context")
	}
}

func (c *Context) wipe() {
	c.header = [types.AnnouncementHeaderSize]byte{}
	c.items = [NumItems * ItemSize]byte{}
	c.itemInput = [itemInputSize]byte{}
}

// deriveItems computes the announcement seed and its four items into the
// context scratch. ann must be a full announcement.
//
// The seed commits to the parent block hash, the header with the soft nonce
// zeroed and the item payload. Items are cheap to recompute for a new soft
// nonce because only the seed feeds them.
func (c *Context) deriveItems(ann []byte, parentBlockHash *types.Hash) types.Hash {
	copy(c.header[:], ann[:types.AnnouncementHeaderSize])
	c.header[1], c.header[2], c.header[3] = 0, 0, 0

	c.writer.Reset()
	c.writer.InfallibleWrite(parentBlockHash[:])
	c.writer.InfallibleWrite(c.header[:])
	c.writer.InfallibleWrite(ann[types.AnnouncementHeaderSize:types.Item4PrefixOffset])
	seed := c.writer.Finalize()

	copy(c.itemInput[:types.HashSize], seed[:])
	binary.LittleEndian.PutUint32(c.itemInput[types.HashSize+1:], types.SoftNonceField(ann))
	for k := 0; k < NumItems; k++ {
		c.itemInput[types.HashSize] = byte(k)
		item := crypto.HashBytes512(c.itemInput[:])
		copy(c.items[k*ItemSize:(k+1)*ItemSize], item[:])
	}
	return seed
}

// item4Prefix returns a view of the committed prefix of the last derived item.
func (c *Context) item4Prefix() []byte {
	start := (NumItems - 1) * ItemSize
	return c.items[start : start+types.Item4PrefixSize]
}

// announcementHash folds the derived items and the seed into the final hash.
func (c *Context) announcementHash(seed *types.Hash) types.Hash {
	c.writer.Reset()
	c.writer.InfallibleWrite(c.items[:])
	c.writer.InfallibleWrite(seed[:])
	return c.writer.Finalize()
}
