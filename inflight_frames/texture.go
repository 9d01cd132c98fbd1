package main

import (
	"bytes"
	"image"
	_ "image/png"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// decodeTexture decodes a BMP or PNG file into tightly packed RGBA pixels with
// its origin at (0, 0).
func decodeTexture(name string, data []byte) (*image.RGBA, error) {
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}

	bounds := decoded.Bounds()
	if bounds.Empty() {
		return nil, errors.Newf("decode %s: %s image is empty", name, format)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), decoded, bounds.Min, draw.Src)
	return rgba, nil
}

func loadTexture(name string) (*image.RGBA, error) {
	data, err := fileSystem.ReadFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return decodeTexture(name, data)
}
