package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nganji523/packetcrypt-rs/internal/crypto"
	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewMemStorage()
	if err != nil {
		t.Fatalf("NewMemStorage failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAnnouncement(height int32, fill byte) []byte {
	ann := make([]byte, types.AnnouncementSize)
	for i := range ann {
		ann[i] = fill
	}
	h := types.AnnouncementHeader{Version: 1, ParentBlockHeight: height}
	h.SerializeInto(ann)
	return ann
}

func TestAnnouncementRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ann := testAnnouncement(10, 0x5a)
	hash := crypto.HashBytes(ann)

	if s.HasAnnouncement(hash) {
		t.Fatal("announcement present before save")
	}
	if err := s.SaveAnnouncement(hash, ann); err != nil {
		t.Fatalf("SaveAnnouncement failed: %v", err)
	}
	if !s.HasAnnouncement(hash) {
		t.Fatal("announcement missing after save")
	}

	got, err := s.GetAnnouncement(hash)
	if err != nil {
		t.Fatalf("GetAnnouncement failed: %v", err)
	}
	if string(got) != string(ann) {
		t.Error("stored announcement differs")
	}

	_, err = s.GetAnnouncement(types.Hash{1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing announcement: got %v, want ErrNotFound", err)
	}
}

func TestSaveAnnouncementRejectsBadLength(t *testing.T) {
	s := newTestStorage(t)
	if err := s.SaveAnnouncement(types.Hash{1}, make([]byte, 10)); !errors.Is(err, types.ErrBadLength) {
		t.Errorf("got %v, want ErrBadLength", err)
	}
}

func TestHeightIndexAndPrune(t *testing.T) {
	s := newTestStorage(t)

	saved := map[int32][]types.Hash{}
	for height := int32(0); height < 4; height++ {
		for fill := byte(0); fill < 3; fill++ {
			ann := testAnnouncement(height, fill+byte(height)*10)
			hash := crypto.HashBytes(ann)
			if err := s.SaveAnnouncement(hash, ann); err != nil {
				t.Fatalf("SaveAnnouncement failed: %v", err)
			}
			saved[height] = append(saved[height], hash)
		}
		if err := s.SetParentBlockHash(height, types.Hash{byte(height + 1)}); err != nil {
			t.Fatalf("SetParentBlockHash failed: %v", err)
		}
	}

	hashes, err := s.AnnouncementHashesAtHeight(2)
	if err != nil {
		t.Fatalf("AnnouncementHashesAtHeight failed: %v", err)
	}
	if len(hashes) != 3 {
		t.Fatalf("expected 3 hashes at height 2, got %d", len(hashes))
	}

	removed, err := s.PruneBelow(2)
	if err != nil {
		t.Fatalf("PruneBelow failed: %v", err)
	}
	if removed != 6 {
		t.Errorf("expected 6 announcements pruned, got %d", removed)
	}

	for _, hash := range saved[1] {
		if s.HasAnnouncement(hash) {
			t.Errorf("announcement %s survived pruning", hash)
		}
	}
	for _, hash := range saved[2] {
		if !s.HasAnnouncement(hash) {
			t.Errorf("announcement %s pruned too early", hash)
		}
	}

	if _, err := s.GetParentBlockHash(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("parent 1: got %v, want ErrNotFound", err)
	}
	parent, err := s.GetParentBlockHash(3)
	if err != nil {
		t.Fatalf("GetParentBlockHash failed: %v", err)
	}
	if parent != (types.Hash{4}) {
		t.Errorf("unexpected parent hash %s", parent)
	}

	hashes, _ = s.AnnouncementHashesAtHeight(0)
	if len(hashes) != 0 {
		t.Errorf("height 0 still indexes %d announcements", len(hashes))
	}
}

func TestShareRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	share := &ShareRecord{
		Hash:                types.Hash{9, 9},
		Header:              make([]byte, types.BlockHeaderSize),
		LowNonce:            42,
		ShareTarget:         0x2100ffff,
		AnnouncementDigests: []types.Hash{{1}, {2}, {3}, {4}},
		Coinbase:            []byte("cb"),
		AcceptedAt:          time.Unix(1700000000, 0).UTC(),
	}
	if err := s.SaveShare(share); err != nil {
		t.Fatalf("SaveShare failed: %v", err)
	}

	got, err := s.GetShare(share.Hash)
	if err != nil {
		t.Fatalf("GetShare failed: %v", err)
	}
	if got.LowNonce != 42 || got.ShareTarget != 0x2100ffff || len(got.AnnouncementDigests) != 4 {
		t.Errorf("share fields not preserved: %+v", got)
	}
	if !got.AcceptedAt.Equal(share.AcceptedAt) {
		t.Errorf("timestamp mismatch: %v", got.AcceptedAt)
	}

	if _, err := s.GetShare(types.Hash{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing share: got %v, want ErrNotFound", err)
	}
}

func TestClear(t *testing.T) {
	s := newTestStorage(t)
	ann := testAnnouncement(1, 1)
	hash := crypto.HashBytes(ann)
	if err := s.SaveAnnouncement(hash, ann); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if s.HasAnnouncement(hash) {
		t.Error("announcement survived Clear")
	}
}

func TestOnDiskStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	if err := s.SetParentBlockHash(7, types.Hash{7}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewStorage(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	if got, err := s.GetParentBlockHash(7); err != nil || got != (types.Hash{7}) {
		t.Errorf("parent not persisted: %s, %v", got, err)
	}
}

func TestKeyStore(t *testing.T) {
	ks, err := NewKeyStore(filepath.Join(t.TempDir(), "keys"))
	if err != nil {
		t.Fatalf("NewKeyStore failed: %v", err)
	}
	defer ks.Close()

	id, err := crypto.NewIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if err := ks.SaveIdentity(id); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}
	if !ks.HasIdentity(id.Address()) {
		t.Fatal("identity missing after save")
	}

	restored, err := ks.GetIdentity(id.Address())
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if restored.SigningKey() != id.SigningKey() {
		t.Error("restored identity has a different signing key")
	}

	addresses, err := ks.Addresses()
	if err != nil || len(addresses) != 1 || addresses[0] != id.Address() {
		t.Errorf("Addresses() = %v, %v", addresses, err)
	}

	if err := ks.DeleteIdentity(id.Address()); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.GetIdentity(id.Address()); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted identity: got %v, want ErrNotFound", err)
	}
}
