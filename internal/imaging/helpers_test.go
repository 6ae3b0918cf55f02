package imaging_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/kubev2v/cutout/internal/worker"
)

type chanEndpoint struct {
	msgs chan worker.Message
	errs chan error
}

func newChanEndpoint() *chanEndpoint {
	return &chanEndpoint{msgs: make(chan worker.Message, 16), errs: make(chan error, 4)}
}

func (e *chanEndpoint) Send(msg worker.Message) {
	e.msgs <- msg
}

func (e *chanEndpoint) Fail(err error) {
	e.errs <- err
}

// subject draws a filled rectangle on a uniform background.
func subject(w, h int, bg, fg color.NRGBA, box image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (image.Point{X: x, Y: y}).In(box) {
				img.SetNRGBA(x, y, fg)
			} else {
				img.SetNRGBA(x, y, bg)
			}
		}
	}
	return img
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.NRGBA{R: 200, G: 20, B: 20, A: 255}
)
