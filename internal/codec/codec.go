// Package codec implements the artifact pipeline: maximum-level gzip
// compression, XChaCha20-Poly1305 authenticated encryption and a SHA-256
// content digest over the final artifact. Decode is the strict inverse
// and fails closed: no partially-decoded data is ever returned.
package codec

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/edvin/drvault/internal/keystore"
)

// Decode failure classes. All three are fatal and non-retryable: retrying
// a checksum mismatch or a failed decrypt cannot succeed.
var (
	ErrDigestMismatch = errors.New("artifact digest mismatch")
	ErrDecryptFailed  = errors.New("artifact decryption failed")
	ErrCorruptArtifact = errors.New("artifact corrupt or truncated")
)

// Codec encodes and decodes backup artifacts with keys from the keystore.
type Codec struct {
	keys *keystore.Keystore
}

func New(keys *keystore.Keystore) *Codec {
	return &Codec{keys: keys}
}

// Compress gzips data at maximum level and returns the output with the
// savings ratio (0..1). The gzip header carries no name or mtime, so
// compressing the same input always yields the same bytes.
func Compress(data []byte) ([]byte, float64, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, 0, fmt.Errorf("init gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, 0, fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, fmt.Errorf("flush gzip writer: %w", err)
	}

	ratio := 0.0
	if len(data) > 0 {
		ratio = 1 - float64(buf.Len())/float64(len(data))
		if ratio < 0 {
			ratio = 0
		}
	}
	return buf.Bytes(), ratio, nil
}

// Decompress gunzips data. Any gzip error maps to ErrCorruptArtifact.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	return out, nil
}

// Encrypt seals data with XChaCha20-Poly1305. The random nonce is
// prepended to the ciphertext.
func Encrypt(data, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens a sealed artifact. A short input or failed authentication
// maps to ErrDecryptFailed.
func Decrypt(data, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return nil, ErrDecryptFailed
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Encode runs compress -> encrypt -> checksum over data with the current
// key and returns the final artifact, its digest and the compression ratio.
func (c *Codec) Encode(data []byte) (artifact []byte, digest string, ratio float64, err error) {
	compressed, ratio, err := Compress(data)
	if err != nil {
		return nil, "", 0, err
	}

	artifact, err = Encrypt(compressed, c.keys.CurrentKey())
	if err != nil {
		return nil, "", 0, err
	}

	return artifact, Checksum(artifact), ratio, nil
}

// Decode verifies the digest, decrypts and decompresses, in that order.
// Decryption is attempted with every known key (current first, then the
// rotation history) so pre-rotation artifacts remain restorable. Each
// failure mode returns its distinct error; nothing is returned on any
// failure.
func (c *Codec) Decode(artifact []byte, digest string) ([]byte, error) {
	if Checksum(artifact) != digest {
		return nil, ErrDigestMismatch
	}

	var compressed []byte
	var lastErr error
	for _, key := range c.keys.Keys() {
		plain, err := Decrypt(artifact, key)
		if err == nil {
			compressed = plain
			break
		}
		lastErr = err
	}
	if compressed == nil {
		return nil, lastErr
	}

	return Decompress(compressed)
}
