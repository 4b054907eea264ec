// Package assets implements the portal asset bucket: uploaded files laid
// out on disk as portal-assets/{portalID}/{assetID}, retrieved through
// expiring signed URLs.
package assets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	bucketDirectoryName      = "portal-assets"
	signedURLPathPattern     = "/api/portal/%s/assets/%s?exp=%d&sig=%s"
	minSigningSecretBytes    = 32
	DefaultSignedURLLifetime = 15 * time.Minute
)

var (
	// ErrMissingRootDirectory indicates the store was configured without a root path.
	ErrMissingRootDirectory = errors.New("assets: missing root directory")
	// ErrSigningSecretTooShort indicates the URL signing secret is too weak.
	ErrSigningSecretTooShort = errors.New("assets: signing secret too short")
	// ErrInvalidObjectKey indicates a portal or asset identifier that cannot form a safe path.
	ErrInvalidObjectKey = errors.New("assets: invalid object key")
	// ErrObjectNotFound indicates the requested object does not exist in the bucket.
	ErrObjectNotFound = errors.New("assets: object not found")
	// ErrSignatureExpired indicates the signed URL's expiry has passed.
	ErrSignatureExpired = errors.New("assets: signature expired")
	// ErrSignatureInvalid indicates the signed URL's signature does not verify.
	ErrSignatureInvalid = errors.New("assets: signature invalid")
)

// Store persists portal assets under a root directory and signs
// short-lived retrieval URLs.
type Store struct {
	rootDirectory string
	signingSecret []byte
}

// NewStore validates configuration and ensures the bucket directory exists.
func NewStore(rootDirectory string, signingSecret string) (*Store, error) {
	trimmedRoot := strings.TrimSpace(rootDirectory)
	if trimmedRoot == "" {
		return nil, ErrMissingRootDirectory
	}
	trimmedSecret := strings.TrimSpace(signingSecret)
	if len(trimmedSecret) < minSigningSecretBytes {
		return nil, ErrSigningSecretTooShort
	}
	bucketRoot := filepath.Join(trimmedRoot, bucketDirectoryName)
	if mkdirErr := os.MkdirAll(bucketRoot, 0o755); mkdirErr != nil {
		return nil, fmt.Errorf("assets: create bucket root: %w", mkdirErr)
	}
	return &Store{rootDirectory: bucketRoot, signingSecret: []byte(trimmedSecret)}, nil
}

// Put streams object content into the bucket, returning the byte count and
// the hex SHA-256 of the content.
func (store *Store) Put(portalID string, assetID string, content io.Reader) (int64, string, error) {
	objectPath, pathErr := store.objectPath(portalID, assetID)
	if pathErr != nil {
		return 0, "", pathErr
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(objectPath), 0o755); mkdirErr != nil {
		return 0, "", fmt.Errorf("assets: create portal directory: %w", mkdirErr)
	}
	file, createErr := os.Create(objectPath)
	if createErr != nil {
		return 0, "", fmt.Errorf("assets: create object: %w", createErr)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(file, hasher), content)
	if copyErr != nil {
		_ = os.Remove(objectPath)
		return 0, "", fmt.Errorf("assets: write object: %w", copyErr)
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open returns a reader over the stored object.
func (store *Store) Open(portalID string, assetID string) (io.ReadCloser, error) {
	objectPath, pathErr := store.objectPath(portalID, assetID)
	if pathErr != nil {
		return nil, pathErr
	}
	file, openErr := os.Open(objectPath)
	if openErr != nil {
		if errors.Is(openErr, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("assets: open object: %w", openErr)
	}
	return file, nil
}

// Delete removes the stored object. Deleting a missing object is not an error.
func (store *Store) Delete(portalID string, assetID string) error {
	objectPath, pathErr := store.objectPath(portalID, assetID)
	if pathErr != nil {
		return pathErr
	}
	if removeErr := os.Remove(objectPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("assets: delete object: %w", removeErr)
	}
	return nil
}

// DeletePortal removes every stored object for a portal along with the
// portal's directory. Removing an absent directory is not an error.
func (store *Store) DeletePortal(portalID string) error {
	trimmedPortalID := strings.TrimSpace(portalID)
	if !safePathSegment(trimmedPortalID) {
		return ErrInvalidObjectKey
	}
	portalDirectory := filepath.Join(store.rootDirectory, trimmedPortalID)
	if removeErr := os.RemoveAll(portalDirectory); removeErr != nil {
		return fmt.Errorf("assets: delete portal objects: %w", removeErr)
	}
	return nil
}

// SignedURL returns a relative retrieval URL carrying an expiry and an
// HMAC-SHA256 signature over the object key and expiry.
func (store *Store) SignedURL(portalSlug string, portalID string, assetID string, lifetime time.Duration, now time.Time) (string, error) {
	if _, pathErr := store.objectPath(portalID, assetID); pathErr != nil {
		return "", pathErr
	}
	if lifetime <= 0 {
		lifetime = DefaultSignedURLLifetime
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresAt := now.Add(lifetime).Unix()
	signature := store.sign(portalID, assetID, expiresAt)
	return fmt.Sprintf(signedURLPathPattern, portalSlug, assetID, expiresAt, signature), nil
}

// VerifySignature checks an expiry and signature pair presented on a
// retrieval request.
func (store *Store) VerifySignature(portalID string, assetID string, expiresAtUnix string, signature string, now time.Time) error {
	expiresAt, parseErr := strconv.ParseInt(strings.TrimSpace(expiresAtUnix), 10, 64)
	if parseErr != nil {
		return fmt.Errorf("%w: bad expiry", ErrSignatureInvalid)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if now.Unix() > expiresAt {
		return ErrSignatureExpired
	}
	expected := store.sign(portalID, assetID, expiresAt)
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return ErrSignatureInvalid
	}
	return nil
}

func (store *Store) sign(portalID string, assetID string, expiresAtUnix int64) string {
	mac := hmac.New(sha256.New, store.signingSecret)
	fmt.Fprintf(mac, "%s/%s:%d", portalID, assetID, expiresAtUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

func (store *Store) objectPath(portalID string, assetID string) (string, error) {
	trimmedPortalID := strings.TrimSpace(portalID)
	trimmedAssetID := strings.TrimSpace(assetID)
	if !safePathSegment(trimmedPortalID) || !safePathSegment(trimmedAssetID) {
		return "", ErrInvalidObjectKey
	}
	return filepath.Join(store.rootDirectory, trimmedPortalID, trimmedAssetID), nil
}

func safePathSegment(segment string) bool {
	if segment == "" || segment == "." || segment == ".." {
		return false
	}
	return !strings.ContainsAny(segment, "/\\")
}
