// Package fileid provides deterministic identifiers for source documents and nodes.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	docPrefix  = "doc:"
	nodePrefix = "node:"
)

// DocumentID returns a stable id for the document at path.
// Same path always yields the same ID.
func DocumentID(path string) string {
	normalized := filepath.Clean(path)
	hash := sha256.Sum256([]byte(normalized))
	return docPrefix + hex.EncodeToString(hash[:])
}

// NodeID returns a stable id for the node at position ordinal of kind ("chunk", "parent")
// within the source identified by ref.
func NodeID(ref, kind string, ordinal int) string {
	key := strings.Join([]string{ref, kind, fmt.Sprint(ordinal)}, "\x00")
	hash := sha256.Sum256([]byte(key))
	return nodePrefix + hex.EncodeToString(hash[:12])
}
