package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// PublicPrefix is prepended to stored file names to form image references.
const PublicPrefix = "images/"

var (
	// ErrOutsideRoot is returned for references that resolve outside the store.
	ErrOutsideRoot = errors.New("storage: path outside image root")
	// ErrUnsupportedType is returned by Save for files that are not images.
	ErrUnsupportedType = errors.New("storage: unsupported image type")
	// ErrInvalidOwner is returned by Save when owner cannot name a directory.
	ErrInvalidOwner = errors.New("storage: invalid owner")

	allowedExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}
)

// Local stores uploaded images on the local filesystem.
type Local struct {
	root string
}

// NewLocal prepares root for image storage.
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute directory images are written to.
func (l *Local) Root() string {
	return l.root
}

// Save writes r under owner's directory with a generated name and returns
// its public reference, images/<owner>/<uuid><ext>.
func (l *Local) Save(ctx context.Context, owner, filename string, r io.Reader) (string, error) {
	if !validOwner(owner) {
		return "", ErrInvalidOwner
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", fmt.Errorf("%w %q", ErrUnsupportedType, ext)
	}
	dir := filepath.Join(l.root, owner)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create owner dir: %w", err)
	}
	name := owner + "/" + uuid.NewString() + ext
	f, err := os.OpenFile(filepath.Join(l.root, filepath.FromSlash(name)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return PublicPrefix + name, nil
}

// Attachable reports whether userID may attach ref to a post: remote URLs
// are always allowed, local references only inside userID's directory.
func (l *Local) Attachable(ref, userID string) bool {
	if isRemote(ref) {
		return true
	}
	if !validOwner(userID) {
		return false
	}
	name := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(ref)), "/")
	if !strings.HasPrefix(name, PublicPrefix) {
		return false
	}
	owner, file, ok := strings.Cut(strings.TrimPrefix(name, PublicPrefix), "/")
	return ok && owner == userID && file != "" && !strings.Contains(file, "/")
}

// Remove deletes the file behind ref. References that are remote URLs are ignored.
func (l *Local) Remove(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref == "" || isRemote(ref) {
		return nil
	}
	target, err := l.resolve(ref)
	if err != nil {
		return err
	}
	return os.Remove(target)
}

func (l *Local) resolve(ref string) (string, error) {
	name := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(ref)), "/")
	name = strings.TrimPrefix(name, PublicPrefix)
	if name == "" || name == "." || name == strings.TrimSuffix(PublicPrefix, "/") {
		return "", ErrOutsideRoot
	}
	target := filepath.Join(l.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(l.root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ErrOutsideRoot
	}
	return target, nil
}

func isRemote(ref string) bool {
	return strings.Contains(ref, "://")
}

func validOwner(owner string) bool {
	return owner != "" && owner != "." && owner != ".." && !strings.ContainsAny(owner, `/\`)
}

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
