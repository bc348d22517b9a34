package nerfstudio

import (
	"fmt"
	"strconv"
	"strings"
)

// Profile is the fixed toolkit configuration a training run uses
type Profile struct {
	Image         string      `yaml:"image" koanf:"image"`
	ViewerPort    int         `yaml:"viewer_port" koanf:"viewer_port"`
	ShmSize       string      `yaml:"shm_size" koanf:"shm_size"`
	Method        string      `yaml:"method" koanf:"method"`
	TrainArgs     []string    `yaml:"train_args" koanf:"train_args"`
	NumDownscales int         `yaml:"num_downscales" koanf:"num_downscales"`
	BoundingBox   BoundingBox `yaml:"obb" koanf:"obb"`
}

// BoundingBox is the export geometry normalization
type BoundingBox struct {
	Center   []float64 `yaml:"center" koanf:"center"`
	Rotation []float64 `yaml:"rotation" koanf:"rotation"`
	Scale    []float64 `yaml:"scale" koanf:"scale"`
}

// DefaultProfile returns the splatfacto-big profile
func DefaultProfile() Profile {
	return Profile{
		Image:      "ghcr.io/nerfstudio-project/nerfstudio:latest",
		ViewerPort: 7007,
		ShmSize:    "40gb",
		Method:     "splatfacto-big",
		TrainArgs: []string{
			"--viewer.quit-on-train-completion", "True",
			"--pipeline.model.cull_alpha_thresh=0.005",
			"--pipeline.model.use_scale_regularization=True",
		},
		BoundingBox: IdentityBoundingBox(),
	}
}

// IdentityBoundingBox is the identity center/rotation/scale
func IdentityBoundingBox() BoundingBox {
	return BoundingBox{
		Center:   []float64{0, 0, 0},
		Rotation: []float64{0, 0, 0},
		Scale:    []float64{1, 1, 1},
	}
}

// Validate checks the profile is usable
func (p Profile) Validate() error {
	if p.Image == "" {
		return fmt.Errorf("toolkit image is required")
	}
	if p.ViewerPort <= 0 || p.ViewerPort > 65535 {
		return fmt.Errorf("invalid viewer port %d", p.ViewerPort)
	}
	if p.Method == "" {
		return fmt.Errorf("training method is required")
	}
	if p.NumDownscales < 0 {
		return fmt.Errorf("num_downscales must not be negative")
	}
	for name, v := range map[string][]float64{
		"center":   p.BoundingBox.Center,
		"rotation": p.BoundingBox.Rotation,
		"scale":    p.BoundingBox.Scale,
	} {
		if len(v) != 3 {
			return fmt.Errorf("obb %s needs 3 values, got %d", name, len(v))
		}
	}
	return nil
}

// formatVector renders values with the fixed 10-decimal precision the exporter is given
func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'f', 10, 64)
	}
	return strings.Join(parts, " ")
}
