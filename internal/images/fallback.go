package images

import (
	"bytes"
	"sync"

	"github.com/fogleman/gg"
)

const fallbackSize = 256

var (
	fallbackOnce sync.Once
	fallbackPNG  []byte
	fallbackErr  error
)

// Fallback returns the built-in placeholder picture: a grey tile with a
// crossed frame, encoded as PNG. The bytes are identical on every call.
func Fallback() ([]byte, error) {
	fallbackOnce.Do(func() {
		fallbackPNG, fallbackErr = drawFallback()
	})
	return fallbackPNG, fallbackErr
}

func drawFallback() ([]byte, error) {
	const s = float64(fallbackSize)
	dc := gg.NewContext(fallbackSize, fallbackSize)

	dc.SetRGB255(0xE5, 0xE7, 0xEB)
	dc.DrawRectangle(0, 0, s, s)
	dc.Fill()

	dc.SetRGB255(0x9C, 0xA3, 0xAF)
	dc.SetLineWidth(6)
	dc.DrawRectangle(12, 12, s-24, s-24)
	dc.Stroke()
	dc.DrawLine(12, 12, s-12, s-12)
	dc.DrawLine(s-12, 12, 12, s-12)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
