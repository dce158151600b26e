package raster

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

// ErrNoDrawableRegion is returned when a rendered image contains no ink.
var ErrNoDrawableRegion = errors.New("rendered image has no drawable region")

// CheckDrawable returns ErrNoDrawableRegion for empty or ink-free images.
func CheckDrawable(img image.Image, threshold uint8) error {
	if img == nil || img.Bounds().Empty() {
		return ErrNoDrawableRegion
	}
	if _, ok := NewInkMask(img, threshold).InkBounds(); !ok {
		return ErrNoDrawableRegion
	}
	return nil
}

// CropToContent trims img to its ink bounds grown by pad pixels on every side
// (clipped to the image).
func CropToContent(img image.Image, threshold uint8, pad int) (*image.NRGBA, error) {
	ink, ok := NewInkMask(img, threshold).InkBounds()
	if !ok {
		return nil, ErrNoDrawableRegion
	}
	b := img.Bounds()
	r := image.Rect(ink.Min.X-pad, ink.Min.Y-pad, ink.Max.X+pad, ink.Max.Y+pad).
		Add(b.Min).
		Intersect(b)
	return imaging.Crop(img, r), nil
}

// EncodedImage is a PNG encoded for transport in JSON.
type EncodedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// EncodePNG encodes img as base64 PNG.
func EncodePNG(img image.Image) (*EncodedImage, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return &EncodedImage{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}
