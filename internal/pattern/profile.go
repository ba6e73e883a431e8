package pattern

import "strings"

// Profile holds per-instrument detection thresholds. Percentages are
// fractions (0.003 = 0.3%).
type Profile struct {
	Symbol string `yaml:"symbol" json:"symbol"`

	HeadShoulderDiffMin          float64 `yaml:"headShoulderDiffMin" json:"headShoulderDiffMin" validate:"gt=0"`
	HeadShoulderDiffMax          float64 `yaml:"headShoulderDiffMax" json:"headShoulderDiffMax" validate:"gtfield=HeadShoulderDiffMin"`
	HeadShoulderVolumeMultiplier float64 `yaml:"headShoulderVolumeMultiplier" json:"headShoulderVolumeMultiplier" validate:"gte=0"`

	DoubleTopTolerance    float64 `yaml:"doubleTopTolerance" json:"doubleTopTolerance" validate:"gt=0"`
	DoubleBottomTolerance float64 `yaml:"doubleBottomTolerance" json:"doubleBottomTolerance" validate:"gt=0"`

	TriangleFlatTolerance    float64 `yaml:"triangleFlatTolerance" json:"triangleFlatTolerance" validate:"gt=0"`
	TriangleRisingThreshold  float64 `yaml:"triangleRisingThreshold" json:"triangleRisingThreshold" validate:"gt=0"`
	TriangleFallingThreshold float64 `yaml:"triangleFallingThreshold" json:"triangleFallingThreshold" validate:"gt=0"`

	FlagImpulseATRMultiple float64 `yaml:"flagImpulseAtrMultiple" json:"flagImpulseAtrMultiple" validate:"gt=0"`
	FlagImpulseWindow      int     `yaml:"flagImpulseWindow" json:"flagImpulseWindow" validate:"gte=2"`
	FlagPullbackDepthMin   float64 `yaml:"flagPullbackDepthMin" json:"flagPullbackDepthMin" validate:"gte=0"`
	FlagPullbackDepthMax   float64 `yaml:"flagPullbackDepthMax" json:"flagPullbackDepthMax" validate:"gtfield=FlagPullbackDepthMin"`

	CupMinBars          int     `yaml:"cupMinBars" json:"cupMinBars" validate:"gte=5"`
	CupHandleRetraceMax float64 `yaml:"cupHandleRetraceMax" json:"cupHandleRetraceMax" validate:"gt=0"`

	VolumeSpikeMultiplier float64 `yaml:"volumeSpikeMultiplier" json:"volumeSpikeMultiplier" validate:"gte=0"`
}

// DefaultProfile applies to any instrument without a dedicated profile.
var DefaultProfile = Profile{
	Symbol:                       "DEFAULT",
	HeadShoulderDiffMin:          0.003,
	HeadShoulderDiffMax:          0.007,
	HeadShoulderVolumeMultiplier: 1.1,
	DoubleTopTolerance:           0.003,
	DoubleBottomTolerance:        0.003,
	TriangleFlatTolerance:        0.002,
	TriangleRisingThreshold:      0.0005,
	TriangleFallingThreshold:     0.0005,
	FlagImpulseATRMultiple:       2,
	FlagImpulseWindow:            5,
	FlagPullbackDepthMin:         0.3,
	FlagPullbackDepthMax:         0.55,
	CupMinBars:                   20,
	CupHandleRetraceMax:          0.3,
	VolumeSpikeMultiplier:        1.5,
}

// NQProfile is tuned for Nasdaq futures (NQ, MNQ).
var NQProfile = func() Profile {
	p := DefaultProfile
	p.Symbol = "NQ"
	p.HeadShoulderDiffMax = 0.005
	p.DoubleTopTolerance = 0.0025
	p.DoubleBottomTolerance = 0.0025
	p.TriangleFlatTolerance = 0.0015
	p.TriangleRisingThreshold = 0.0007
	p.TriangleFallingThreshold = 0.0007
	p.FlagImpulseATRMultiple = 2.1
	p.VolumeSpikeMultiplier = 1.6
	return p
}()

// GCProfile is tuned for gold futures (GC, MGC).
var GCProfile = func() Profile {
	p := DefaultProfile
	p.Symbol = "GC"
	p.HeadShoulderDiffMin = 0.002
	p.HeadShoulderDiffMax = 0.004
	p.DoubleTopTolerance = 0.0015
	p.DoubleBottomTolerance = 0.0015
	p.TriangleFlatTolerance = 0.001
	p.FlagImpulseATRMultiple = 1.9
	return p
}()

// Profiles is the set of profiles a Detector chooses from.
type Profiles struct {
	Default Profile `yaml:"default" validate:"required"`
	NQ      Profile `yaml:"nq" validate:"required"`
	GC      Profile `yaml:"gc" validate:"required"`
}

// DefaultProfiles returns the built-in profile set.
func DefaultProfiles() Profiles {
	return Profiles{Default: DefaultProfile, NQ: NQProfile, GC: GCProfile}
}

// Resolve picks a profile by contract code prefix.
func (p Profiles) Resolve(code string) Profile {
	c := strings.ToUpper(code)
	switch {
	case strings.HasPrefix(c, "MNQ"), strings.HasPrefix(c, "NQ"):
		return p.NQ
	case strings.HasPrefix(c, "MGC"), strings.HasPrefix(c, "GC"):
		return p.GC
	default:
		return p.Default
	}
}
