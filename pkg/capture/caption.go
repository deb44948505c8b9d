package capture

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomedium"
)

var (
	captionFont     *truetype.Font
	captionFontErr  error
	captionFontOnce sync.Once
)

// Caption adds a white strip with text beneath a PNG image.
// scale is the device pixel ratio the image was captured at.
func Caption(img []byte, text string, scale float64) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if scale <= 0 {
		scale = 1
	}

	face, err := loadFont(14 * scale)
	if err != nil {
		return nil, err
	}

	padding := int(20 * scale)
	borderSize := scale

	w := src.Bounds().Dx()
	h := src.Bounds().Dy() + padding*2
	dc := gg.NewContext(w, h)

	dc.DrawImage(src, 0, 0)

	yLine := float64(src.Bounds().Dy())
	dc.SetColor(color.White)
	dc.DrawRectangle(0, yLine, float64(w), float64(padding*2))
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetLineWidth(borderSize)
	dc.DrawLine(0, yLine, float64(w), yLine)
	dc.Stroke()
	dc.SetFontFace(face)
	dc.DrawStringAnchored(text, float64(w)/2, yLine+float64(padding), 0.5, 0.35)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}

func loadFont(size float64) (font.Face, error) {
	captionFontOnce.Do(func() {
		captionFont, captionFontErr = truetype.Parse(gomedium.TTF)
	})
	if captionFontErr != nil {
		return nil, fmt.Errorf("failed to parse caption font: %w", captionFontErr)
	}

	return truetype.NewFace(captionFont, &truetype.Options{Size: size}), nil
}
