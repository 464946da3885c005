// Package index builds, persists, loads, and verifies the corpus indices.
// A fingerprint over source bytes and config decides reuse versus rebuild.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// Config is the chunking and embedding configuration that participates in
// the fingerprint. Changing any field invalidates persisted indices.
type Config struct {
	MaxChars   int    `json:"max_chars"`
	MinChars   int    `json:"min_chars"`
	EmbedModel string `json:"embedding_model"`
}

// Fingerprint hashes the byte content of all sources plus the config.
// Paths are sorted first, so the result is invariant to source ordering;
// it changes iff source bytes or config values change.
func Fingerprint(sources []string, cfg Config) (string, error) {
	sorted := make([]string, len(sources))
	copy(sorted, sources)
	sort.Strings(sorted)

	hasher := sha256.New()
	for _, path := range sorted {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("index: fingerprint %s: %w", path, err)
		}
		_, err = io.Copy(hasher, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("index: fingerprint %s: %w", path, err)
		}
	}

	fmt.Fprintf(hasher, "%d-%d-%s", cfg.MaxChars, cfg.MinChars, cfg.EmbedModel)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
