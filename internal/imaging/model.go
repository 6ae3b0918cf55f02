package imaging

import (
	"context"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

// ModelParams parameterizes the built-in background model.
type ModelParams struct {
	Name string `json:"name" validate:"required"`
	// BorderWidth is the width in pixels of the frame sampled for the background colour.
	BorderWidth int `json:"borderWidth" validate:"gte=1,lte=64"`
	// Threshold is the normalized colour distance under which a pixel is background.
	Threshold float64 `json:"threshold" validate:"gte=0,lt=1"`
	// Softness is the width of the ramp between background and foreground.
	Softness float64 `json:"softness" validate:"gte=0,lte=1"`
}

func DefaultModelParams() ModelParams {
	return ModelParams{
		Name:        "border-distance",
		BorderWidth: 2,
		Threshold:   0.12,
		Softness:    0.08,
	}
}

// ModelRepository fetches the model parameters from their origin once and
// shares them between the segmentation workers.
type ModelRepository struct {
	path     string
	validate *validator.Validate

	mu      sync.Mutex
	cached  *ModelParams
	fetches int
}

// NewModelRepository reads parameters from the YAML document at path, or
// uses the built-in defaults when path is empty.
func NewModelRepository(path string) *ModelRepository {
	return &ModelRepository{path: path, validate: validator.New()}
}

// Load returns the model parameters. An authoritative load fetches from the
// origin and refreshes the cache; other loads read the cache and only fetch
// on a miss.
func (r *ModelRepository) Load(ctx context.Context, authoritative bool) (ModelParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !authoritative && r.cached != nil {
		return *r.cached, nil
	}
	if err := ctx.Err(); err != nil {
		return ModelParams{}, err
	}

	params, err := r.fetch()
	if err != nil {
		return ModelParams{}, err
	}
	r.cached = &params
	return params, nil
}

func (r *ModelRepository) fetch() (ModelParams, error) {
	r.fetches++
	if r.path == "" {
		return DefaultModelParams(), nil
	}

	zap.S().Named("model").Infow("fetching model parameters", "path", r.path)
	data, err := os.ReadFile(r.path)
	if err != nil {
		return ModelParams{}, errors.Wrap(err, "failed to read model parameters")
	}
	params := DefaultModelParams()
	if err := yaml.Unmarshal(data, &params); err != nil {
		return ModelParams{}, NewErrInvalidModel(r.path, err)
	}
	if err := r.validate.Struct(params); err != nil {
		return ModelParams{}, NewErrInvalidModel(r.path, err)
	}
	return params, nil
}

// Fetches returns how many times the origin was read.
func (r *ModelRepository) Fetches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}
