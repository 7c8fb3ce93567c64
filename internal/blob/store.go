// Package blob provides sandboxed filesystem storage for video payloads.
// All operations are confined to the store's root directory; references are
// relative slash paths that can never escape it.
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Errors returned by the store.
var (
	ErrNotFound   = errors.New("blob not found")
	ErrTooLarge   = errors.New("blob exceeds size limit")
	ErrInvalidRef = errors.New("invalid blob reference")
)

// Store holds video payloads under a single root directory, one
// subdirectory per tenant.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given directory, creating it if
// needed.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute path of the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Save streams r into the store as <tenant>/<id>.<ext>, enforcing limit
// bytes. The write is atomic: data lands in a hidden temp file in the final
// directory and is renamed into place, so readers never observe partial
// blobs. Returns the blob reference and the byte count.
func (s *Store) Save(ctx context.Context, tenantID, id, ext string, r io.Reader, limit int64) (string, int64, error) {
	name := sanitizeSegment(id)
	if ext != "" {
		name += "." + sanitizeSegment(ext)
	}
	ref := path.Join(sanitizeSegment(tenantID), name)

	target, err := s.resolve(ref)
	if err != nil {
		return "", 0, err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("creating tenant directory: %w", err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(target), randomHex(8)))
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("creating temporary file: %w", err)
	}

	written, err := io.Copy(tmp, io.LimitReader(&ctxReader{ctx: ctx, r: r}, limit+1))
	closeErr := tmp.Close()

	switch {
	case err != nil:
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("writing blob: %w", err)
	case closeErr != nil:
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("closing temporary file: %w", closeErr)
	case written > limit:
		os.Remove(tmpPath)
		return "", 0, ErrTooLarge
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("publishing blob: %w", err)
	}

	return ref, written, nil
}

// Open returns a random-access handle for the blob. The caller owns the
// returned file and must close it.
func (s *Store) Open(ref string) (*os.File, error) {
	p, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// Path returns the absolute filesystem path of a blob, for handing to
// external tools. The blob must exist.
func (s *Store) Path(ref string) (string, error) {
	p, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("checking blob: %w", err)
	}
	return p, nil
}

// Stat returns file metadata for a blob.
func (s *Store) Stat(ref string) (fs.FileInfo, error) {
	p, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checking blob: %w", err)
	}
	return info, nil
}

// Remove deletes a blob.
func (s *Store) Remove(ref string) error {
	p, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("removing blob: %w", err)
	}
	return nil
}

// Refs walks the store and returns every blob reference. Temp files from
// in-flight writes are skipped.
func (s *Store) Refs() ([]string, error) {
	var refs []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		refs = append(refs, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking blob root: %w", err)
	}
	return refs, nil
}

// resolve maps a blob reference to an absolute path, refusing anything that
// would escape the root.
func (s *Store) resolve(ref string) (string, error) {
	if ref == "" || path.IsAbs(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	full := filepath.Join(s.root, clean)
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return full, nil
}

// sanitizeSegment makes a string safe to use as a single path element.
func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "-") == "" {
		return "x"
	}
	return out
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	bytes := make([]byte, n/2+1)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(bytes)[:n]
}

// ctxReader aborts reads once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
