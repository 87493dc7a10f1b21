package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/fingerprint"
	"golang.org/x/image/draw"
)

// ErrUnsupportedImage is returned when the original bytes cannot be decoded.
var ErrUnsupportedImage = errors.New("unsupported image")

// Renditions are the generated images of one asset.
type Renditions struct {
	Preview         []byte
	Thumbnail       []byte
	Thumbhash       []byte
	PreviewWidth    int
	PreviewHeight   int
	ThumbnailWidth  int
	ThumbnailHeight int
}

// Render decodes the original, applies the EXIF orientation and encodes the
// preview and thumbnail as JPEG. Images are never upscaled.
func Render(data []byte, orientation int, cfg config.ImageConfig) (*Renditions, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	upright := Orient(src, orientation)

	preview := fit(upright, cfg.PreviewSize)
	thumb := fit(preview, cfg.ThumbnailSize)

	previewData, err := encodeJPEG(preview, cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	thumbData, err := encodeJPEG(thumb, cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	return &Renditions{
		Preview:         previewData,
		Thumbnail:       thumbData,
		Thumbhash:       fingerprint.Thumbhash(thumb),
		PreviewWidth:    preview.Bounds().Dx(),
		PreviewHeight:   preview.Bounds().Dy(),
		ThumbnailWidth:  thumb.Bounds().Dx(),
		ThumbnailHeight: thumb.Bounds().Dy(),
	}, nil
}

// FitSize returns the dimensions of a width x height image scaled so its
// longest edge is at most maxSize, keeping the aspect ratio.
func FitSize(width, height, maxSize int) (int, int) {
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return width, height
	}
	if width >= height {
		return maxSize, max(1, height*maxSize/width)
	}
	return max(1, width*maxSize/height), maxSize
}

func fit(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), maxSize)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
