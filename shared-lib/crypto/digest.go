package crypto

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// ErrDigestMismatch is returned when content does not match its verifier.
var ErrDigestMismatch = errors.New("digest mismatch")

// GetDigestOfFile calculates the SHA256 digest of a file
func GetDigestOfFile(filepath string) (digest string, err error) {
	if filepath == "" {
		return "", fmt.Errorf("filepath cannot be empty")
	}

	file, err := os.Open(filepath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filepath, err)
	}
	defer file.Close()

	return GetDigestOfReader(file)
}

// GetDigestOfContent calculates the SHA256 digest of byte content
func GetDigestOfContent(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// GetDigestOfReader calculates the SHA256 digest from an io.Reader
func GetDigestOfReader(reader io.Reader) (digest string, err error) {
	if reader == nil {
		return "", fmt.Errorf("reader cannot be nil")
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to read from reader: %w", err)
	}
	return "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyFirmwareDigest checks a firmware image against the verifier sent by
// the platform. Accepted forms are "sha256:<hex>", a bare 64 character
// sha256 hex string and a bare 32 character md5 hex string. An empty
// verifier always passes.
func VerifyFirmwareDigest(filepath, verifier string) error {
	verifier = strings.ToLower(strings.TrimSpace(verifier))
	if verifier == "" {
		return nil
	}

	var hasher hash.Hash
	expected := strings.TrimPrefix(verifier, "sha256:")
	switch len(expected) {
	case sha256.Size * 2:
		hasher = sha256.New()
	case md5.Size * 2:
		if strings.HasPrefix(verifier, "sha256:") {
			return fmt.Errorf("invalid sha256 verifier %q", verifier)
		}
		hasher = md5.New()
	default:
		return fmt.Errorf("unsupported verifier %q", verifier)
	}
	if _, err := hex.DecodeString(expected); err != nil {
		return fmt.Errorf("verifier %q is not hex: %w", verifier, err)
	}

	file, err := os.Open(filepath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filepath, err)
	}
	defer file.Close()

	if _, err := io.Copy(hasher, file); err != nil {
		return fmt.Errorf("failed to read file %s: %w", filepath, err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, expected, actual)
	}
	return nil
}
