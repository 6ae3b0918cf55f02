package imaging

import (
	"bytes"
	"context"
	"image"
	"image/png"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"

	"github.com/kubev2v/cutout/internal/worker"
)

// Compositor writes the mask into the alpha channel of the preprocessed image.
type Compositor struct {
	Feather int
}

func NewCompositor(feather int) *Compositor {
	return &Compositor{Feather: feather}
}

func (c *Compositor) Init(context.Context, worker.InitPayload) error {
	return nil
}

func (c *Compositor) Process(ctx context.Context, in worker.StageInput) (worker.StageOutput, error) {
	if in.Image == nil || in.Mask == nil {
		return worker.StageOutput{}, ErrEmptyImage
	}
	out, err := Composite(ctx, in.Image, in.Mask, c.Feather)
	if err != nil {
		return worker.StageOutput{}, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return worker.StageOutput{}, errors.Wrapf(err, "encode %s", in.Name)
	}
	return worker.StageOutput{Result: buf.Bytes()}, nil
}

// Composite returns a copy of img with its alpha multiplied by mask, scaled
// to the image size and optionally feathered.
func Composite(ctx context.Context, img *image.NRGBA, mask *image.Alpha, feather int) (*image.NRGBA, error) {
	b := img.Bounds()
	alpha := mask
	if mask.Bounds().Size() != b.Size() {
		alpha = image.NewAlpha(b)
		xdraw.BiLinear.Scale(alpha, b, mask, mask.Bounds(), xdraw.Src, nil)
	}
	if feather > 0 {
		alpha = blur(alpha, feather)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := image.NewNRGBA(b)
	ab := alpha.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := img.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			m := alpha.AlphaAt(ab.Min.X+x, ab.Min.Y+y).A
			c.A = uint8(uint16(c.A) * uint16(m) / 255)
			out.SetNRGBA(b.Min.X+x, b.Min.Y+y, c)
		}
	}
	return out, nil
}

// blur applies a separable box blur of the given radius.
func blur(src *image.Alpha, radius int) *image.Alpha {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]uint8, w*h)
	dst := image.NewAlpha(b)

	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		boxLine(row, tmp[y*w:(y+1)*w], radius)
	}
	col := make([]uint8, h)
	out := make([]uint8, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = tmp[y*w+x]
		}
		boxLine(col, out, radius)
		for y := 0; y < h; y++ {
			dst.Pix[y*dst.Stride+x] = out[y]
		}
	}
	return dst
}

func boxLine(in, out []uint8, radius int) {
	n := len(in)
	for i := 0; i < n; i++ {
		lo, hi := i-radius, i+radius
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		sum := 0
		for j := lo; j <= hi; j++ {
			sum += int(in[j])
		}
		out[i] = uint8(sum / (hi - lo + 1))
	}
}
