package tables

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const checksumPrefix = "sha256:"

// ErrChecksumMismatch means archived bytes no longer hash to the digest
// recorded in their manifest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Checksum returns the "sha256:<hex>" digest stored in snapshot manifests.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(sum[:])
}

// VerifyChecksum checks data against a manifest digest.
func VerifyChecksum(data []byte, expected string) error {
	if !strings.HasPrefix(expected, checksumPrefix) {
		return fmt.Errorf("unsupported checksum %q", expected)
	}
	if got := Checksum(data); got != expected {
		return fmt.Errorf("%w: manifest %s, data %s", ErrChecksumMismatch, expected, got)
	}
	return nil
}
