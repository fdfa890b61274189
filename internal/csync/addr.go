package csync

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Address computes the content id for a byte stream without storing it.
// The id is the lowercase hex SHA-256 of the bytes: identical bytes always
// produce identical ids, which is the basis on which the diff engine decides
// modified vs unchanged.
func Address(r io.Reader) (string, int64, error) {
	h := sha256.New()
	size, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// AddressBytes computes the content id for an in-memory blob.
func AddressBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
