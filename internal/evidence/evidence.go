// Package evidence stores the photos and audio attached to reports and
// returns opaque references to them.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	// DefaultMaxBytes caps a single upload.
	DefaultMaxBytes = 10 << 20
	// DefaultMaxDimension bounds the longest side of stored images.
	DefaultMaxDimension = 2048
	jpegQuality         = 85
)

// Kind is what the evidence documents.
type Kind string

const (
	KindOriginalImage   Kind = "original_image"
	KindCompletionImage Kind = "completion_image"
	KindAudio           Kind = "audio"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindOriginalImage || k == KindCompletionImage || k == KindAudio
}

func (k Kind) isImage() bool {
	return k == KindOriginalImage || k == KindCompletionImage
}

// Ref is an opaque reference to stored evidence.
type Ref string

var (
	ErrInvalidKind     = errors.New("unknown evidence kind")
	ErrTooLarge        = errors.New("evidence exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported evidence content type")
	ErrEmpty           = errors.New("evidence is empty")
)

// Store accepts evidence blobs.
type Store interface {
	Put(ctx context.Context, kind Kind, contentType string, r io.Reader) (Ref, error)
}

// Backend persists a prepared blob under key.
type Backend interface {
	Write(ctx context.Context, key, contentType string, data []byte) (Ref, error)
}

// Options configures a Service.
type Options struct {
	MaxBytes     int64
	MaxDimension int
	Logger       *slog.Logger
}

// Service validates and normalises evidence before handing it to a
// backend. Images are decoded with EXIF orientation applied, bounded in
// size and re-encoded as JPEG.
type Service struct {
	backend  Backend
	maxBytes int64
	maxDim   int
	logger   *slog.Logger
}

var _ Store = (*Service)(nil)

// NewService creates an evidence service over backend.
func NewService(backend Backend, opts Options) *Service {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		backend:  backend,
		maxBytes: opts.MaxBytes,
		maxDim:   opts.MaxDimension,
		logger:   opts.Logger,
	}
}

// Put stores one blob and returns its reference.
func (s *Service) Put(ctx context.Context, kind Kind, contentType string, r io.Reader) (Ref, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading evidence: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.maxBytes)
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	var ext string
	switch {
	case kind.isImage():
		if !strings.HasPrefix(mediaType, "image/") {
			return "", fmt.Errorf("%w: %s for %s", ErrUnsupportedType, mediaType, kind)
		}
		data, err = s.normalizeImage(data)
		if err != nil {
			return "", err
		}
		mediaType, ext = "image/jpeg", ".jpg"
	default:
		if !strings.HasPrefix(mediaType, "audio/") {
			return "", fmt.Errorf("%w: %s for %s", ErrUnsupportedType, mediaType, kind)
		}
		ext = audioExtension(mediaType)
	}

	key := path.Join(string(kind), uuid.NewString()+ext)
	ref, err := s.backend.Write(ctx, key, mediaType, data)
	if err != nil {
		return "", fmt.Errorf("storing evidence: %w", err)
	}
	s.logger.Info("evidence stored", "kind", kind, "ref", ref, "bytes", len(data))
	return ref, nil
}

func (s *Service) normalizeImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", ErrUnsupportedType, err)
	}
	b := img.Bounds()
	if b.Dx() > s.maxDim || b.Dy() > s.maxDim {
		img = imaging.Fit(img, s.maxDim, s.maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), nil
}

var audioExtensions = map[string]string{
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/mpeg":  ".mp3",
	"audio/mp4":   ".m4a",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
}

func audioExtension(mediaType string) string {
	if ext, ok := audioExtensions[mediaType]; ok {
		return ext
	}
	return ".bin"
}
