// Package encoder turns payload strings into PNG QR images.
//
// Module layout comes from github.com/skip2/go-qrcode; this package only
// rasterises the matrix with a configurable quiet zone, size and palette.
package encoder

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrEncode is returned for payloads that cannot be encoded.
var ErrEncode = errors.New("qr encode failed")

// Recovery levels accepted in Options.Recovery.
const (
	RecoveryLow      = "low"
	RecoveryMedium   = "medium"
	RecoveryQuartile = "quartile"
	RecoveryHighest  = "highest"
)

// Options controls rendering.
type Options struct {
	Width      int    // output width and height in pixels
	Margin     int    // quiet zone in modules
	DarkColor  string // #rgb, #rrggbb or #rrggbbaa
	LightColor string
	Recovery   string
}

// DefaultOptions mirrors the values the web front end used.
func DefaultOptions() Options {
	return Options{
		Width:      300,
		Margin:     2,
		DarkColor:  "#000000",
		LightColor: "#ffffff",
		Recovery:   RecoveryMedium,
	}
}

// Image is an encoded QR code.
type Image struct {
	PNG     []byte
	DataURL string
}

// Encoder renders QR images with fixed options.
type Encoder struct {
	opts  Options
	dark  color.NRGBA
	light color.NRGBA
	level qrcode.RecoveryLevel
}

// New validates opts and returns an Encoder.
func New(opts Options) (*Encoder, error) {
	dark, err := ParseHexColor(opts.DarkColor)
	if err != nil {
		return nil, fmt.Errorf("encoder: dark color: %w", err)
	}
	light, err := ParseHexColor(opts.LightColor)
	if err != nil {
		return nil, fmt.Errorf("encoder: light color: %w", err)
	}
	level, err := recoveryLevel(opts.Recovery)
	if err != nil {
		return nil, err
	}
	if opts.Width <= 0 {
		return nil, fmt.Errorf("encoder: width must be positive, got %d", opts.Width)
	}
	if opts.Margin < 0 {
		return nil, fmt.Errorf("encoder: margin must not be negative, got %d", opts.Margin)
	}
	return &Encoder{opts: opts, dark: dark, light: light, level: level}, nil
}

// Encode renders payload. Empty or oversized payloads fail with ErrEncode.
func (e *Encoder) Encode(ctx context.Context, payload string) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrEncode)
	}
	q, err := qrcode.New(payload, e.level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	q.DisableBorder = true

	img := e.rasterise(q.Bitmap())

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
	}
	data := buf.Bytes()
	return &Image{
		PNG:     data,
		DataURL: DataURL(data),
	}, nil
}

// rasterise scales the module matrix to the configured width, surrounded by
// Margin light modules on every side.
func (e *Encoder) rasterise(bitmap [][]bool) image.Image {
	modules := len(bitmap)
	total := modules + 2*e.opts.Margin
	size := e.opts.Width
	if size < total {
		size = total
	}

	img := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{e.light, e.dark})
	for y := 0; y < size; y++ {
		my := y*total/size - e.opts.Margin
		for x := 0; x < size; x++ {
			mx := x*total/size - e.opts.Margin
			if my >= 0 && my < modules && mx >= 0 && mx < modules && bitmap[my][mx] {
				img.SetColorIndex(x, y, 1)
			}
		}
	}
	return img
}

// DataURLPrefix starts every data URI produced by DataURL.
const DataURLPrefix = "data:image/png;base64,"

// DataURL wraps PNG bytes in a data: URI.
func DataURL(pngData []byte) string {
	return DataURLPrefix + base64.StdEncoding.EncodeToString(pngData)
}

// DecodeDataURL extracts PNG bytes from a data URI produced by DataURL.
func DecodeDataURL(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, DataURLPrefix) {
		return nil, fmt.Errorf("encoder: not a png data url")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, DataURLPrefix))
}

// Filename returns the download name for an image of kind generated at millis.
func Filename(kind string, millis int64) string {
	return "qr-" + kind + "-" + strconv.FormatInt(millis, 10) + ".png"
}

// ParseHexColor parses #rgb, #rrggbb or #rrggbbaa.
func ParseHexColor(s string) (color.NRGBA, error) {
	c := color.NRGBA{A: 0xff}
	hex := strings.TrimPrefix(s, "#")
	if hex == s {
		return c, fmt.Errorf("color %q must start with #", s)
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 && len(hex) != 8 {
		return c, fmt.Errorf("color %q has invalid length", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return c, fmt.Errorf("color %q is not hex", s)
	}
	if len(hex) == 8 {
		c.A = uint8(v)
		v >>= 8
	}
	c.R, c.G, c.B = uint8(v>>16), uint8(v>>8), uint8(v)
	return c, nil
}

func recoveryLevel(s string) (qrcode.RecoveryLevel, error) {
	switch s {
	case RecoveryLow:
		return qrcode.Low, nil
	case RecoveryMedium, "":
		return qrcode.Medium, nil
	case RecoveryQuartile:
		return qrcode.High, nil
	case RecoveryHighest:
		return qrcode.Highest, nil
	}
	return 0, fmt.Errorf("encoder: unknown recovery level %q", s)
}
