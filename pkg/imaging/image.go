package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // GIF decoder registration
	"image/jpeg"
	_ "image/png" // PNG decoder registration

	_ "golang.org/x/image/bmp" // BMP decoder registration
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // TIFF decoder registration
	_ "golang.org/x/image/webp" // WebP decoder registration
)

// ErrUnsupportedFormat is returned when bytes are not an image in a registered format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Image is a downloaded image: the raw bytes as received plus what the decoder found in them.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Decode validates data as an image and reads its header. The pixels are decoded too so
// truncated payloads are rejected rather than handed to the caller.
func Decode(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty body", ErrUnsupportedFormat)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return Image{}, fmt.Errorf("decode %s image: %w", format, err)
	}

	return Image{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Thumbnail scales img to fit within maxWidth x maxHeight, keeping the aspect ratio,
// and returns it JPEG-encoded. Images already inside the box are re-encoded at their size.
//
// Example:
//
//	// A 1500x1000 image becomes 300x200
//	thumb, err := imaging.Thumbnail(img, 300, 300)
func Thumbnail(img Image, maxWidth, maxHeight int) ([]byte, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, fmt.Errorf("invalid thumbnail bounds %dx%d", maxWidth, maxHeight)
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}
	ratio := float64(width) / float64(height)
	if float64(maxWidth)/float64(maxHeight) > ratio {
		// height bound
		width = int(float64(maxHeight) * ratio)
		height = maxHeight
	} else {
		height = int(float64(maxWidth) / ratio)
		width = maxWidth
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return width, height
}
