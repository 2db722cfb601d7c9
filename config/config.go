// Package config holds the tunable parameters of an eddy detection and
// tracking run: physical acceptance bounds for the characterizer, the
// threshold ladder specification and the matching weights of the linker.
package config

import (
	"math"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Weights are the relative contributions of each similarity term to the
// linker's matching cost.
type Weights struct {
	Distance  float64 `json:"distance" mapstructure:"distance"`
	Amplitude float64 `json:"amplitude" mapstructure:"amplitude"`
	Radius    float64 `json:"radius" mapstructure:"radius"`
}

// Ladder describes the ordered set of threshold levels the contour extractor
// walks through. Step sign gives the direction.
type Ladder struct {
	Start float64 `json:"start" mapstructure:"start"`
	Stop  float64 `json:"stop" mapstructure:"stop"`
	Step  float64 `json:"step" mapstructure:"step"`
}

// Levels expands the ladder into the explicit list of threshold levels,
// ascending or descending with Step. Both endpoints are included when the
// step lands on them.
func (l Ladder) Levels() ([]float64, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	n := int(math.Floor((l.Stop-l.Start)/l.Step)) + 1
	levels := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		levels = append(levels, l.Start+float64(i)*l.Step)
	}
	return levels, nil
}

func (l Ladder) validate() error {
	if l.Step == 0 {
		return errors.New("ladder step must be non-zero")
	}
	if (l.Stop-l.Start)/l.Step <= 0 {
		return errors.Errorf("ladder is not monotonic: start=%f stop=%f step=%f", l.Start, l.Stop, l.Step)
	}
	return nil
}

// Parameters is the configuration bundle consumed by the characterizer, the
// frame builder and the linker. Areas are in square meters, distances in
// meters, amplitudes in the field's units.
type Parameters struct {
	// Characterizer acceptance bounds
	MinArea       float64 `json:"minArea" mapstructure:"minArea"`
	MaxArea       float64 `json:"maxArea" mapstructure:"maxArea"`
	MaxShapeError float64 `json:"maxShapeError" mapstructure:"maxShapeError"`
	MinAmplitude  float64 `json:"minAmplitude" mapstructure:"minAmplitude"`
	// Contour handling
	MinVertices       int     `json:"minVertices" mapstructure:"minVertices"`
	SimplifyTolerance float64 `json:"simplifyTolerance" mapstructure:"simplifyTolerance"`
	ResampleSize      int     `json:"resampleSize" mapstructure:"resampleSize"`
	// Threshold ladder
	Ladder Ladder `json:"ladder" mapstructure:"ladder"`
	// Linker
	Weights        Weights `json:"weights" mapstructure:"weights"`
	DistanceRef    float64 `json:"distanceRef" mapstructure:"distanceRef"`
	MaxSeparation  float64 `json:"maxSeparation" mapstructure:"maxSeparation"`
	MaxMatchCost   float64 `json:"maxMatchCost" mapstructure:"maxMatchCost"`
	MaxTemporalGap int     `json:"maxTemporalGap" mapstructure:"maxTemporalGap"`
}

// Default returns the parameter set used when no configuration file is
// provided. Values follow common mesoscale altimetry practice: eddies between
// roughly 12 and 250 km radius, 55% shape error, 1 cm minimum amplitude.
func Default() Parameters {
	return Parameters{
		MinArea:           5e8,
		MaxArea:           2e11,
		MaxShapeError:     55.0,
		MinAmplitude:      0.01,
		MinVertices:       4,
		SimplifyTolerance: 1e-3,
		ResampleSize:      50,
		Ladder:            Ladder{Start: -1.0, Stop: 1.0, Step: 0.01},
		Weights:           Weights{Distance: 1.0, Amplitude: 1.0, Radius: 1.0},
		DistanceRef:       125e3,
		MaxSeparation:     150e3,
		MaxMatchCost:      2.0,
		MaxTemporalGap:    5,
	}
}

// Load reads parameters from "eddytracker.yaml" in configDir, falling back to
// defaults for any key the file does not set.
func Load(configDir string) (Parameters, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("minArea", def.MinArea)
	v.SetDefault("maxArea", def.MaxArea)
	v.SetDefault("maxShapeError", def.MaxShapeError)
	v.SetDefault("minAmplitude", def.MinAmplitude)
	v.SetDefault("minVertices", def.MinVertices)
	v.SetDefault("simplifyTolerance", def.SimplifyTolerance)
	v.SetDefault("resampleSize", def.ResampleSize)
	v.SetDefault("ladder.start", def.Ladder.Start)
	v.SetDefault("ladder.stop", def.Ladder.Stop)
	v.SetDefault("ladder.step", def.Ladder.Step)
	v.SetDefault("weights.distance", def.Weights.Distance)
	v.SetDefault("weights.amplitude", def.Weights.Amplitude)
	v.SetDefault("weights.radius", def.Weights.Radius)
	v.SetDefault("distanceRef", def.DistanceRef)
	v.SetDefault("maxSeparation", def.MaxSeparation)
	v.SetDefault("maxMatchCost", def.MaxMatchCost)
	v.SetDefault("maxTemporalGap", def.MaxTemporalGap)

	v.SetConfigName("eddytracker")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		return Parameters{}, errors.Wrap(err, "error reading config file")
	}
	var p Parameters
	if err := v.Unmarshal(&p); err != nil {
		return Parameters{}, errors.Wrap(err, "error unmarshaling config")
	}
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Validate rejects parameter bundles that would make a run meaningless before
// any processing starts.
func (p Parameters) Validate() error {
	if p.MinArea <= 0 || p.MaxArea <= p.MinArea {
		return errors.Errorf("invalid area bounds: min=%f max=%f", p.MinArea, p.MaxArea)
	}
	if p.MaxShapeError <= 0 {
		return errors.Errorf("maxShapeError must be positive, got %f", p.MaxShapeError)
	}
	if p.MinAmplitude < 0 {
		return errors.Errorf("minAmplitude must be non-negative, got %f", p.MinAmplitude)
	}
	if p.MinVertices < 3 {
		return errors.Errorf("minVertices must be at least 3, got %d", p.MinVertices)
	}
	if p.SimplifyTolerance < 0 {
		return errors.Errorf("simplifyTolerance must be non-negative, got %f", p.SimplifyTolerance)
	}
	if p.ResampleSize < 8 {
		return errors.Errorf("resampleSize must be at least 8, got %d", p.ResampleSize)
	}
	if err := p.Ladder.validate(); err != nil {
		return err
	}
	if p.Weights.Distance < 0 || p.Weights.Amplitude < 0 || p.Weights.Radius < 0 {
		return errors.New("matching weights must be non-negative")
	}
	if p.DistanceRef <= 0 {
		return errors.Errorf("distanceRef must be positive, got %f", p.DistanceRef)
	}
	if p.MaxSeparation <= 0 {
		return errors.Errorf("maxSeparation must be positive, got %f", p.MaxSeparation)
	}
	if p.MaxMatchCost <= 0 {
		return errors.Errorf("maxMatchCost must be positive, got %f", p.MaxMatchCost)
	}
	if p.MaxTemporalGap < 0 {
		return errors.Errorf("maxTemporalGap must be non-negative, got %d", p.MaxTemporalGap)
	}
	return nil
}
