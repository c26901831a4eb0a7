package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/renameio/v2"
)

// Fingerprint returns a stable SHA-256 hex digest of the effective Config,
// independent of field ordering in the source YAML. cmd/harmonyd logs it
// once at startup, so operators can tell whether two instances loaded the
// same effective configuration; the Holder's reload path does not compute it.
func Fingerprint(c Config) (string, error) {
	// encoding/json marshals struct fields in declaration order regardless
	// of map key order, so two equivalent Configs always hash identically.
	canonical, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("config: fingerprint: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// WriteSnapshot atomically persists the effective Config (as JSON) to path,
// for operators diffing what a running instance actually loaded against
// what's on disk. Uses renameio so a crash mid-write never leaves a
// truncated or partially-written snapshot behind.
func WriteSnapshot(path string, c Config) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal snapshot: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("config: create pending snapshot: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("config: write snapshot: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("config: replace snapshot: %w", err)
	}
	return nil
}
