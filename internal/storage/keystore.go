package storage

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/nganji523/packetcrypt-rs/internal/crypto"
)

const identityPrefix = "identity_"

// KeyStore persists announcer identities
type KeyStore struct {
	db *leveldb.DB
}

// IdentityRecord is the serialized form of an announcer identity
type IdentityRecord struct {
	Address       string
	PrivateKeyHex string
	SigningKey    crypto.SigningKey
}

// NewKeyStore opens or creates a keystore at path
func NewKeyStore(path string) (*KeyStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open keystore at %s", path)
	}

	return &KeyStore{db: db}, nil
}

// Close closes the keystore
func (ks *KeyStore) Close() error {
	return ks.db.Close()
}

// SaveIdentity stores id under its announcer address
func (ks *KeyStore) SaveIdentity(id *crypto.Identity) error {
	record := IdentityRecord{
		Address:       id.Address(),
		PrivateKeyHex: id.PrivateKeyHex(),
		SigningKey:    id.SigningKey(),
	}

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := encoder.Encode(record); err != nil {
		return errors.Wrap(err, "failed to encode identity")
	}

	key := []byte(identityPrefix + record.Address)
	if err := ks.db.Put(key, buf.Bytes(), nil); err != nil {
		return errors.Wrapf(err, "failed to save identity %s", record.Address)
	}
	return nil
}

// GetIdentity restores the identity stored under address
func (ks *KeyStore) GetIdentity(address string) (*crypto.Identity, error) {
	data, err := ks.db.Get([]byte(identityPrefix+address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "identity %s", address)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read identity %s", address)
	}

	var record IdentityRecord
	decoder := gob.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&record); err != nil {
		return nil, errors.Wrap(err, "failed to decode identity")
	}

	id, err := crypto.IdentityFromHex(record.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	if id.SigningKey() != record.SigningKey {
		return nil, errors.Errorf("identity %s: stored signing key does not match private key", address)
	}
	return id, nil
}

// Addresses returns the addresses of all stored identities, sorted
func (ks *KeyStore) Addresses() ([]string, error) {
	var addresses []string

	iter := ks.db.NewIterator(util.BytesPrefix([]byte(identityPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		addresses = append(addresses, string(iter.Key()[len(identityPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "keystore scan failed")
	}

	sort.Strings(addresses)
	return addresses, nil
}

// DeleteIdentity removes an identity
func (ks *KeyStore) DeleteIdentity(address string) error {
	return ks.db.Delete([]byte(identityPrefix+address), nil)
}

// HasIdentity checks if an identity exists
func (ks *KeyStore) HasIdentity(address string) bool {
	exists, _ := ks.db.Has([]byte(identityPrefix+address), nil)
	return exists
}

// DefaultKeyStorePath returns the default keystore location
func DefaultKeyStorePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./packetcrypt-keys"
	}
	return filepath.Join(homeDir, ".packetcrypt", "keys")
}
