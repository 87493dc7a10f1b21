package media

import (
	"image"
	"image/draw"
)

// Orient returns img transformed so it displays upright for the given EXIF
// orientation (1-8). Orientations 5-8 swap width and height.
func Orient(img image.Image, orientation int) image.Image {
	if orientation < 2 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for dy := range dh {
		for dx := range dw {
			sx, sy := sourcePixel(orientation, dx, dy, w, h)
			dst.SetRGBA(dx, dy, src.RGBAAt(sx, sy))
		}
	}
	return dst
}

// sourcePixel maps a destination pixel back to the stored image of size w x h.
func sourcePixel(orientation, dx, dy, w, h int) (int, int) {
	switch orientation {
	case 2: // mirrored horizontally
		return w - 1 - dx, dy
	case 3: // rotated 180
		return w - 1 - dx, h - 1 - dy
	case 4: // mirrored vertically
		return dx, h - 1 - dy
	case 5: // transposed
		return dy, dx
	case 6: // needs 90 clockwise
		return dy, h - 1 - dx
	case 7: // transversed
		return w - 1 - dy, h - 1 - dx
	case 8: // needs 90 counter-clockwise
		return w - 1 - dy, dx
	}
	return dx, dy
}
