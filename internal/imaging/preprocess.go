package imaging

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kubev2v/cutout/internal/worker"
)

const (
	DefaultMaxImageDimension = 4096
	DefaultModelInputSize    = 320
)

// Preprocessor decodes uploads into bounded NRGBA images and derives the
// smaller copy the segmentation model runs on.
type Preprocessor struct {
	MaxDimension   int
	ModelInputSize int
}

func NewPreprocessor(maxDimension, modelInputSize int) *Preprocessor {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxImageDimension
	}
	if modelInputSize <= 0 {
		modelInputSize = DefaultModelInputSize
	}
	return &Preprocessor{MaxDimension: maxDimension, ModelInputSize: modelInputSize}
}

func (p *Preprocessor) Init(context.Context, worker.InitPayload) error {
	return nil
}

func (p *Preprocessor) Process(ctx context.Context, in worker.StageInput) (worker.StageOutput, error) {
	src, _, err := image.Decode(bytes.NewReader(in.Original))
	if err != nil {
		return worker.StageOutput{}, NewErrUnsupportedImage(in.Name, err)
	}
	if src.Bounds().Empty() {
		return worker.StageOutput{}, errors.Wrapf(ErrEmptyImage, "decode %s", in.Name)
	}
	if err := ctx.Err(); err != nil {
		return worker.StageOutput{}, err
	}

	img := Resize(src, p.MaxDimension, xdraw.CatmullRom)
	return worker.StageOutput{
		Preprocessed: img,
		ModelInput:   Resize(img, p.ModelInputSize, xdraw.ApproxBiLinear),
	}, nil
}

// Resize returns an NRGBA copy of src whose longer side is at most limit,
// preserving the aspect ratio.
func Resize(src image.Image, limit int, scaler xdraw.Scaler) *image.NRGBA {
	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), limit)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}
	scaler.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

// Fit scales w x h down so that neither side exceeds limit.
func Fit(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, atLeastOne(h * limit / w)
	}
	return atLeastOne(w * limit / h), limit
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
