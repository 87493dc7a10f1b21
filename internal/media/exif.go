// Package media reads embedded metadata and renders preview and thumbnail images.
package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strconv"
	"strings"

	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ExtractExif reads the metadata embedded in an original file. Missing tags stay nil.
// Files without EXIF still get their size and, when decodable, their pixel dimensions.
func ExtractExif(data []byte) database.ExifInfo {
	size := int64(len(data))
	info := database.ExifInfo{FileSizeInByte: &size}

	x, err := exif.Decode(bytes.NewReader(data))
	switch {
	case x == nil:
		log.WithError(err).Debug("no exif data")
	case err != nil && exif.IsCriticalError(err):
		log.WithError(err).Debug("unreadable exif data")
		x = nil
	case err != nil:
		// Sub-IFD failures leave the main directory usable.
		log.WithError(err).Debug("partial exif data")
	}

	if x != nil {
		info.Make = stringTag(x, exif.Make)
		info.Model = stringTag(x, exif.Model)
		info.LensModel = stringTag(x, exif.LensModel)
		info.Orientation = intTag(x, exif.Orientation)
		info.ISO = intTag(x, exif.ISOSpeedRatings)
		info.ExifImageWidth = intTag(x, exif.PixelXDimension)
		info.ExifImageHeight = intTag(x, exif.PixelYDimension)
		info.FNumber = ratTag(x, exif.FNumber)
		info.FocalLength = ratTag(x, exif.FocalLength)
		info.ExposureTime = exposureTag(x)

		if dt, err := x.DateTime(); err == nil {
			info.DateTimeOriginal = &dt
		}
		if lat, lng, err := x.LatLong(); err == nil && validCoordinates(lat, lng) {
			info.Latitude = &lat
			info.Longitude = &lng
		}
	}

	if info.ExifImageWidth == nil || info.ExifImageHeight == nil {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			info.ExifImageWidth = &cfg.Width
			info.ExifImageHeight = &cfg.Height
		}
	}
	return info
}

func getTag(x *exif.Exif, name exif.FieldName) *tiff.Tag {
	tag, err := x.Get(name)
	if err != nil || tag.Count == 0 {
		return nil
	}
	return tag
}

func stringTag(x *exif.Exif, name exif.FieldName) *string {
	tag := getTag(x, name)
	if tag == nil {
		return nil
	}
	s, err := tag.StringVal()
	if err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func intTag(x *exif.Exif, name exif.FieldName) *int {
	tag := getTag(x, name)
	if tag == nil {
		return nil
	}
	n, err := tag.Int(0)
	if err != nil {
		return nil
	}
	return &n
}

func ratTag(x *exif.Exif, name exif.FieldName) *float64 {
	tag := getTag(x, name)
	if tag == nil {
		return nil
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return nil
	}
	f := float64(num) / float64(den)
	return &f
}

// exposureTag formats the exposure time the way cameras display it, e.g. "1/250".
func exposureTag(x *exif.Exif) *string {
	tag := getTag(x, exif.ExposureTime)
	if tag == nil {
		return nil
	}
	num, den, err := tag.Rat2(0)
	if err != nil || num <= 0 || den <= 0 {
		return nil
	}
	var s string
	switch {
	case num >= den:
		s = strconv.FormatFloat(float64(num)/float64(den), 'f', -1, 64)
	case den%num == 0:
		s = "1/" + strconv.FormatInt(den/num, 10)
	default:
		s = strconv.FormatInt(num, 10) + "/" + strconv.FormatInt(den, 10)
	}
	return &s
}

func validCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
