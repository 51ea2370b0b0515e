// Package crypto derives the at-rest encryption key for the SQLite store.
//
// Operators configure one high-entropy master key. The key handed to
// SQLCipher is derived from it with HKDF-SHA256 so that the master key is
// never used directly and can back more than one purpose by version.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the size of the configured master key in bytes.
	MasterKeySize = 32

	// DatabaseKeySize is the size of a derived SQLCipher raw key in bytes.
	DatabaseKeySize = 32

	// DatabaseKeyVersion is bumped to rotate every derived database key.
	DatabaseKeyVersion = 1
)

// ParseMasterKey decodes a hex master key and checks its length.
func ParseMasterKey(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("master key must be hex: %w", err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(key))
	}
	return key, nil
}

// DeriveDatabaseKey derives the SQLCipher key for a given key version.
// info = "database:v" + version
func DeriveDatabaseKey(masterKey []byte, version int) []byte {
	info := fmt.Sprintf("database:v%d", version)
	// Salt is nil; the master key is already uniformly random.
	hkdfReader := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, DatabaseKeySize)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		// HKDF-SHA256 can emit up to 255*32 bytes.
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return key
}

// DatabaseKeyHex parses keyHex as a master key and returns the derived
// database key, hex encoded, as db.Options expects.
func DatabaseKeyHex(keyHex string) (string, error) {
	master, err := ParseMasterKey(keyHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(DeriveDatabaseKey(master, DatabaseKeyVersion)), nil
}
