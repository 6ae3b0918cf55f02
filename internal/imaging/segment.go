package imaging

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"

	"github.com/kubev2v/cutout/internal/worker"
)

// Segmenter estimates the foreground of an image. The background colour is
// the average of the image border and pixels close to it become transparent.
type Segmenter struct {
	repo   *ModelRepository
	params *ModelParams
}

func NewSegmenter(repo *ModelRepository) *Segmenter {
	return &Segmenter{repo: repo}
}

func (s *Segmenter) Init(context.Context, worker.InitPayload) error {
	if s.repo == nil {
		return errors.New("segmenter has no model repository")
	}
	return nil
}

func (s *Segmenter) LoadModel(ctx context.Context, authoritative bool) error {
	params, err := s.repo.Load(ctx, authoritative)
	if err != nil {
		return err
	}
	s.params = &params
	return nil
}

func (s *Segmenter) Process(ctx context.Context, in worker.StageInput) (worker.StageOutput, error) {
	if s.params == nil {
		return worker.StageOutput{}, ErrModelNotLoaded
	}
	if in.ModelInput == nil || in.ModelInput.Bounds().Empty() {
		return worker.StageOutput{}, ErrEmptyImage
	}
	mask, err := Segment(ctx, in.ModelInput, *s.params)
	if err != nil {
		return worker.StageOutput{}, err
	}
	return worker.StageOutput{Mask: mask}, nil
}

// Segment computes a soft foreground mask for img.
func Segment(ctx context.Context, img *image.NRGBA, params ModelParams) (*image.Alpha, error) {
	b := img.Bounds()
	bg := borderColor(img, params.BorderWidth)
	mask := image.NewAlpha(b)
	maxDist := math.Sqrt(3) * 255

	for y := b.Min.Y; y < b.Max.Y; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			if c.A == 0 {
				continue
			}
			dr := float64(c.R) - bg[0]
			dg := float64(c.G) - bg[1]
			db := float64(c.B) - bg[2]
			d := math.Sqrt(dr*dr+dg*dg+db*db) / maxDist
			mask.Pix[mask.PixOffset(x, y)] = ramp(d, params.Threshold, params.Softness)
		}
	}
	return mask, nil
}

func ramp(d, threshold, softness float64) uint8 {
	switch {
	case d <= threshold:
		return 0
	case softness <= 0 || d >= threshold+softness:
		return 255
	}
	return uint8(math.Round((d - threshold) / softness * 255))
}

func borderColor(img *image.NRGBA, width int) [3]float64 {
	b := img.Bounds()
	if width < 1 {
		width = 1
	}
	var sum [3]float64
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if x-b.Min.X >= width && b.Max.X-x > width && y-b.Min.Y >= width && b.Max.Y-y > width {
				continue
			}
			c := img.NRGBAAt(x, y)
			sum[0] += float64(c.R)
			sum[1] += float64(c.G)
			sum[2] += float64(c.B)
			n++
		}
	}
	if n == 0 {
		return sum
	}
	for i := range sum {
		sum[i] /= float64(n)
	}
	return sum
}
