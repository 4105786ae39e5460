// Package fingerprint computes stable content hashes for change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// ErrUnreadableFile marks files excluded from the change set: oversized or
// unreadable content. Such files are reported, never silently dropped.
var ErrUnreadableFile = errors.New("unreadable file")

// Sum returns the hex-encoded SHA-256 digest of the given bytes.
func Sum(data []byte) string {
	digest := sha256.Sum256(data)

	return hex.EncodeToString(digest[:])
}

// ReadFile reads the raw bytes of the file at path, enforcing maxSize.
// Oversized files return an error wrapping [ErrUnreadableFile].
// A maxSize of zero or less disables the limit.
func ReadFile(path string, maxSize int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrUnreadableFile, path, err)
	}

	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %s is %s, limit is %s",
			ErrUnreadableFile, path, humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(maxSize)))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnreadableFile, path, err)
	}

	return data, nil
}

// DecodeText converts raw file bytes to a string suitable for transport.
// Valid UTF-8 passes through unchanged; invalid sequences are replaced so
// no file is ever skipped for decoding reasons. The second return reports
// whether the permissive fallback was applied.
func DecodeText(data []byte) (string, bool) {
	if utf8.Valid(data) {
		return string(data), false
	}

	return strings.ToValidUTF8(string(data), string(utf8.RuneError)), true
}
