package fsys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// invalidFilenameChars covers the union of characters rejected by the
// supported platforms, so cached artifact names stay portable across
// operating systems.
const invalidFilenameChars = `<>:"/\|?*`

// ConvertToValidFilename strips characters that cannot appear in a
// filename. When anything was stripped the SHA-256 hex digest of the
// original name is appended, so distinct invalid inputs map to
// distinct valid names and the mapping is stable across runs.
func ConvertToValidFilename(name string) string {
	var b strings.Builder
	stripped := false
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(invalidFilenameChars, r) {
			stripped = true
			continue
		}
		b.WriteRune(r)
	}
	if !stripped {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	return b.String() + hex.EncodeToString(sum[:])
}
