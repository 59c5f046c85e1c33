// Package imagecodec turns captured frames into text that is safe in URLs,
// JSON and database keys: unpadded URL-safe base64.
package imagecodec

import (
	"encoding/base64"
	"fmt"
)

var enc = base64.RawURLEncoding

// Encode returns the unpadded URL-safe base64 form of b.
func Encode(b []byte) string {
	return enc.EncodeToString(b)
}

// Decode is the exact inverse of Encode.
func Decode(s string) ([]byte, error) {
	b, err := enc.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return b, nil
}

// EncodedLen returns the length of Encode(b) for a len(b) == n.
func EncodedLen(n int) int {
	return enc.EncodedLen(n)
}
