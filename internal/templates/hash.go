package templates

import (
	"crypto/sha256"
	"encoding/hex"
)

// SourceFile is one file contributing to a template's source hash.
type SourceFile struct {
	Name string
	Data []byte
}

// SourceHash fingerprints a template. Each file contributes its base name
// followed by its bytes, so renames change the hash as well as edits. Nil
// entries are skipped.
func SourceHash(files ...*SourceFile) string {
	h := sha256.New()
	for _, f := range files {
		if f == nil {
			continue
		}
		h.Write([]byte(f.Name))
		h.Write(f.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
