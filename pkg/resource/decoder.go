package resource

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/ElishaAz/VR-Navigation/pkg/graph"
)

// Payload is a decoded location image. Payloads are shared between every
// holder of the same key and must be treated as read-only.
type Payload struct {
	Key    graph.Key
	Data   []byte
	Format string
	Bounds image.Rectangle
	Image  image.Image
}

// Decoder turns a location into its image payload.
type Decoder interface {
	Decode(ctx context.Context, root string, loc graph.Location) (*Payload, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, root string, loc graph.Location) (*Payload, error)

func (f DecoderFunc) Decode(ctx context.Context, root string, loc graph.Location) (*Payload, error) {
	return f(ctx, root, loc)
}

// FileDecoder reads images from disk relative to the map's resource root.
// JPEG and PNG are supported.
type FileDecoder struct{}

func (FileDecoder) Decode(ctx context.Context, root string, loc graph.Location) (*Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel := filepath.FromSlash(loc.Path)
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: %s escapes the map directory", ErrResourceUnavailable, loc.Path)
	}

	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrResourceUnavailable, loc.Path, err)
	}

	return &Payload{
		Key:    loc.Key(),
		Data:   data,
		Format: format,
		Bounds: img.Bounds(),
		Image:  img,
	}, nil
}
