// Package media resizes and stores profile pictures.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

const (
	MaxUploadSize = 5 * 1024 * 1024
	AvatarSize    = 512
	jpegQuality   = 85
	contentType   = "image/jpeg"
)

var (
	ErrInvalidImage = errors.New("invalid image")
	ErrNotFound     = errors.New("object not found")
)

// Object describes a stored picture.
type Object struct {
	Name        string
	Size        int64
	ContentType string
	ETag        string
}

// Store keeps processed avatars by object name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Open(ctx context.Context, name string) (io.ReadCloser, Object, error)
}

// CheckUpload rejects files that are too large or not JPG/PNG.
func CheckUpload(filename string, size int64) error {
	if size > MaxUploadSize {
		return fmt.Errorf("file size exceeds maximum limit of %d MB", MaxUploadSize/(1024*1024))
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		return errors.New("only JPG and PNG files are allowed")
	}
	return nil
}

// ProcessAvatar decodes a JPG or PNG, scales it to AvatarSize square and
// re-encodes it as JPEG.
func ProcessAvatar(r io.Reader) ([]byte, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidImage, err.Error())
	}
	resized := resize.Resize(AvatarSize, AvatarSize, img, resize.Lanczos3)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.Wrap(err, "failed to encode avatar")
	}
	return buf.Bytes(), nil
}

// ObjectName returns a fresh object name for the user's avatar.
func ObjectName(userID string) string {
	return fmt.Sprintf("%s-%s.jpg", userID, uuid.New().String())
}

// ValidName rejects names that could escape the bucket.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

// MemoryStore keeps avatars in process for the in-memory mode.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

func (s *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Open(_ context.Context, name string) (io.ReadCloser, Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[name]
	if !ok {
		return nil, Object{}, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), Object{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}
