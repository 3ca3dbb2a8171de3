package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/nganji523/packetcrypt-rs/pkg/types"
)

const (
	// Database prefixes
	annPrefix    = "ann_"
	heightPrefix = "height_"
	parentPrefix = "parent_"
	sharePrefix  = "share_"
)

// ErrNotFound is returned when a record is missing
var ErrNotFound = errors.New("not found")

// ShareRecord is an accepted block share
type ShareRecord struct {
	Hash                types.Hash
	Header              []byte
	LowNonce            uint32
	ShareTarget         uint32
	AnnouncementDigests []types.Hash
	Coinbase            []byte
	AcceptedAt          time.Time
}

// Storage is the LevelDB store of accepted announcements, parent blocks
// and shares
type Storage struct {
	db *leveldb.DB
}

// NewStorage opens or creates a database at path
func NewStorage(path string) (*Storage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	return &Storage{db: db}, nil
}

// NewMemStorage creates a database that lives only in memory
func NewMemStorage() (*Storage, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), &opt.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in-memory database")
	}
	return &Storage{db: db}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func annKey(hash *types.Hash) []byte {
	return append([]byte(annPrefix), hash[:]...)
}

func heightKeyPrefix(height int32) []byte {
	key := append([]byte(heightPrefix), 0, 0, 0, 0)
	binary.BigEndian.PutUint32(key[len(heightPrefix):], uint32(height))
	return key
}

func heightKey(height int32, hash *types.Hash) []byte {
	return append(heightKeyPrefix(height), hash[:]...)
}

func parentKey(height int32) []byte {
	key := append([]byte(parentPrefix), 0, 0, 0, 0)
	binary.BigEndian.PutUint32(key[len(parentPrefix):], uint32(height))
	return key
}

func shareKey(hash *types.Hash) []byte {
	return append([]byte(sharePrefix), hash[:]...)
}

func (s *Storage) get(key []byte) ([]byte, error) {
	data, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "database read failed")
	}
	return data, nil
}

// SaveAnnouncement stores an accepted announcement under its hash and
// indexes it by its parent block height
func (s *Storage) SaveAnnouncement(hash types.Hash, ann []byte) error {
	if len(ann) != types.AnnouncementSize {
		return errors.Wrapf(types.ErrBadLength, "refusing to store %d bytes", len(ann))
	}

	batch := new(leveldb.Batch)
	batch.Put(annKey(&hash), ann)
	batch.Put(heightKey(types.ParentBlockHeight(ann), &hash), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, "failed to save announcement %s", hash)
	}
	return nil
}

// GetAnnouncement retrieves an announcement by hash
func (s *Storage) GetAnnouncement(hash types.Hash) ([]byte, error) {
	ann, err := s.get(annKey(&hash))
	if err != nil {
		return nil, errors.Wrapf(err, "announcement %s", hash)
	}
	return ann, nil
}

// HasAnnouncement checks if an announcement is stored
func (s *Storage) HasAnnouncement(hash types.Hash) bool {
	exists, _ := s.db.Has(annKey(&hash), nil)
	return exists
}

// AnnouncementHashesAtHeight lists the hashes of stored announcements built
// on the block at height, in key order
func (s *Storage) AnnouncementHashesAtHeight(height int32) ([]types.Hash, error) {
	var hashes []types.Hash

	prefix := heightKeyPrefix(height)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		var hash types.Hash
		copy(hash[:], iter.Key()[len(prefix):])
		hashes = append(hashes, hash)
	}

	return hashes, errors.Wrap(iter.Error(), "height index scan failed")
}

// PruneBelow deletes announcements and parent hashes for heights below
// height and returns the number of announcements removed
func (s *Storage) PruneBelow(height int32) (int, error) {
	if height <= 0 {
		return 0, nil
	}

	batch := new(leveldb.Batch)
	removed := 0

	// Negative heights never pass validation, so the index starts at zero
	iter := s.db.NewIterator(&util.Range{
		Start: heightKeyPrefix(0),
		Limit: heightKeyPrefix(height),
	}, nil)
	for iter.Next() {
		key := iter.Key()
		hash := key[len(heightPrefix)+4:]
		batch.Delete(key)
		batch.Delete(append([]byte(annPrefix), hash...))
		removed++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, errors.Wrap(err, "height index scan failed")
	}

	parents := s.db.NewIterator(&util.Range{Start: parentKey(0), Limit: parentKey(height)}, nil)
	for parents.Next() {
		batch.Delete(parents.Key())
	}
	parents.Release()
	if err := parents.Error(); err != nil {
		return 0, errors.Wrap(err, "parent scan failed")
	}

	if err := s.db.Write(batch, nil); err != nil {
		return 0, errors.Wrap(err, "failed to prune")
	}
	return removed, nil
}

// SetParentBlockHash records the hash of the parent-chain block at height
func (s *Storage) SetParentBlockHash(height int32, hash types.Hash) error {
	if err := s.db.Put(parentKey(height), hash[:], nil); err != nil {
		return errors.Wrapf(err, "failed to save parent block %d", height)
	}
	return nil
}

// GetParentBlockHash retrieves the hash of the parent-chain block at height
func (s *Storage) GetParentBlockHash(height int32) (types.Hash, error) {
	data, err := s.get(parentKey(height))
	if err != nil {
		return types.Hash{}, errors.Wrapf(err, "parent block %d", height)
	}
	return types.HashFromBytes(data)
}

// SaveShare saves an accepted share
func (s *Storage) SaveShare(share *ShareRecord) error {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := encoder.Encode(share); err != nil {
		return errors.Wrap(err, "failed to encode share")
	}

	if err := s.db.Put(shareKey(&share.Hash), buf.Bytes(), nil); err != nil {
		return errors.Wrapf(err, "failed to save share %s", share.Hash)
	}
	return nil
}

// GetShare retrieves a share by hash
func (s *Storage) GetShare(hash types.Hash) (*ShareRecord, error) {
	data, err := s.get(shareKey(&hash))
	if err != nil {
		return nil, errors.Wrapf(err, "share %s", hash)
	}

	var share ShareRecord
	decoder := gob.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&share); err != nil {
		return nil, errors.Wrap(err, "failed to decode share")
	}
	return &share, nil
}

// Clear removes all data from the database
func (s *Storage) Clear() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(iter.Key())
	}

	return s.db.Write(batch, nil)
}
