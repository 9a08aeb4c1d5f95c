package keystore

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// KeySize is the symmetric key length in bytes (XChaCha20-Poly1305).
const KeySize = 32

// Keystore supplies the current encryption key and the rotation history.
// Keys are loaded once at startup and held in memory only; they are never
// written to logs or the catalog.
type Keystore struct {
	current []byte
	history [][]byte
}

// Load reads the current key from BACKUP_ENCRYPTION_KEY (hex, 32 bytes)
// and the rotation history from BACKUP_ENCRYPTION_KEY_HISTORY
// (comma-separated hex, newest first). A missing or malformed current key
// is a configuration error and fails before any side effect.
func Load() (*Keystore, error) {
	raw := os.Getenv("BACKUP_ENCRYPTION_KEY")
	if raw == "" {
		return nil, fmt.Errorf("BACKUP_ENCRYPTION_KEY is required")
	}
	current, err := parseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("BACKUP_ENCRYPTION_KEY: %w", err)
	}

	ks := &Keystore{current: current}

	if hist := os.Getenv("BACKUP_ENCRYPTION_KEY_HISTORY"); hist != "" {
		for _, part := range strings.Split(hist, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			k, err := parseKey(part)
			if err != nil {
				return nil, fmt.Errorf("BACKUP_ENCRYPTION_KEY_HISTORY: %w", err)
			}
			ks.history = append(ks.history, k)
		}
	}

	return ks, nil
}

// CurrentKey returns the key used for all new artifacts.
func (k *Keystore) CurrentKey() []byte {
	return k.current
}

// Keys returns all known keys, current first, then rotation history
// newest-first. Decoders try them in order so artifacts written before a
// rotation remain restorable.
func (k *Keystore) Keys() [][]byte {
	keys := make([][]byte, 0, 1+len(k.history))
	keys = append(keys, k.current)
	keys = append(keys, k.history...)
	return keys
}

func parseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not valid hex")
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
