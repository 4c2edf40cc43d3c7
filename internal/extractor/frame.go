package extractor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

// DefaultFrameMaxSide bounds the longest frame edge handed to the model.
const DefaultFrameMaxSide = 800

// NormalizeFrame decodes a JPEG, PNG, GIF or WebP frame, shrinks it so that
// neither side exceeds maxSide and re-encodes it as JPEG, the only format
// the dlib runtime reads.
func NormalizeFrame(frame []byte, maxSide uint) ([]byte, error) {
	if maxSide == 0 {
		maxSide = DefaultFrameMaxSide
	}
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	img = resize.Thumbnail(maxSide, maxSide, img, resize.Lanczos3)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return out.Bytes(), nil
}
