package behavior

import (
	"fmt"
	"strings"

	"github.com/dj-oyu/class-monitor/pkg/types"
)

// SleepMethod selects how closed eyes are detected.
type SleepMethod string

const (
	// SleepEyelid compares the left upper/lower eyelid gap.
	SleepEyelid SleepMethod = "eyelid"
	// SleepEAR requires both eye aspect ratios below the threshold.
	SleepEAR SleepMethod = "ear"
)

// HandMethod selects how a hand near the face is detected.
type HandMethod string

const (
	// HandMouth compares the index fingertip height with the upper lip.
	HandMouth HandMethod = "mouth"
	// HandPalm measures palm center to nose tip distance.
	HandPalm HandMethod = "palm"
)

// Thresholds holds every tunable of the classifier. Distances are in
// normalized image units.
type Thresholds struct {
	SleepMethod         SleepMethod `yaml:"sleep_method"`
	HandMethod          HandMethod  `yaml:"hand_method"`
	EyelidGap           float64     `yaml:"eyelid_gap"`
	EyeAspectRatio      float64     `yaml:"eye_aspect_ratio"`
	MouthDistance       float64     `yaml:"mouth_distance"`
	PalmNoseDistance    float64     `yaml:"palm_nose_distance"`
	MinObjectConfidence float64     `yaml:"min_object_confidence"`
	PhoneClasses        []string    `yaml:"phone_classes"`
	FoodClasses         []string    `yaml:"food_classes"`
}

// LivePreset matches the live monitoring loop: eyelid gap for sleep and
// fingertip-to-mouth for eating.
func LivePreset() Thresholds {
	return Thresholds{
		SleepMethod:      SleepEyelid,
		HandMethod:       HandMouth,
		EyelidGap:        0.004,
		EyeAspectRatio:   0.2,
		MouthDistance:    0.05,
		PalmNoseDistance: 0.1,
		PhoneClasses:     []string{"cell phone"},
		FoodClasses:      []string{"banana", "apple", "orange", "sandwich"},
	}
}

// StandalonePreset matches the single-image detector: eye aspect ratio for
// sleep and palm-to-nose for hand-at-face. It uses landmarks only, so
// object detections never change the label.
func StandalonePreset() Thresholds {
	t := LivePreset()
	t.SleepMethod = SleepEAR
	t.HandMethod = HandPalm
	t.PhoneClasses = nil
	t.FoodClasses = nil
	return t
}

// Validate rejects unknown methods and non-positive thresholds.
func (t Thresholds) Validate() error {
	switch t.SleepMethod {
	case SleepEyelid, SleepEAR:
	default:
		return fmt.Errorf("unknown sleep method %q", t.SleepMethod)
	}
	switch t.HandMethod {
	case HandMouth, HandPalm:
	default:
		return fmt.Errorf("unknown hand method %q", t.HandMethod)
	}
	if t.EyelidGap <= 0 || t.EyeAspectRatio <= 0 || t.MouthDistance <= 0 || t.PalmNoseDistance <= 0 {
		return fmt.Errorf("classifier thresholds must be positive")
	}
	if t.MinObjectConfidence < 0 || t.MinObjectConfidence > 1 {
		return fmt.Errorf("min_object_confidence must be within [0, 1]")
	}
	return nil
}

// Classifier assigns one Label per observation. It holds no state, so the
// same input always yields the same label.
type Classifier struct {
	t      Thresholds
	phones map[string]struct{}
	foods  map[string]struct{}
}

// NewClassifier builds a classifier from validated thresholds.
func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		t:      t,
		phones: classSet(t.PhoneClasses),
		foods:  classSet(t.FoodClasses),
	}, nil
}

func classSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return set
}

// Thresholds returns the classifier configuration.
func (c *Classifier) Thresholds() Thresholds {
	return c.t
}

// Classify evaluates, in order: sleeping faces, detected objects, hands at
// the face. The first rule that fires wins.
func (c *Classifier) Classify(obs *types.Observation) Label {
	if obs == nil {
		return Normal
	}

	for _, face := range obs.Faces {
		if c.isSleeping(face) {
			return Sleeping
		}
	}

	if label, ok := c.objectLabel(obs.Objects); ok {
		return label
	}

	for _, hand := range obs.Hands {
		for _, face := range obs.Faces {
			if c.handAtFace(hand, face) {
				return Eating
			}
		}
	}

	return Normal
}

func (c *Classifier) isSleeping(face []types.Landmark) bool {
	switch c.t.SleepMethod {
	case SleepEAR:
		left, okL := EyeAspectRatio(face, LeftEyeIndices)
		right, okR := EyeAspectRatio(face, RightEyeIndices)
		return okL && okR && left < c.t.EyeAspectRatio && right < c.t.EyeAspectRatio
	default:
		gap, ok := EyelidGap(face)
		return ok && gap < c.t.EyelidGap
	}
}

func (c *Classifier) objectLabel(objects []types.Detection) (Label, bool) {
	for _, det := range objects {
		if det.Confidence < c.t.MinObjectConfidence {
			continue
		}
		name := strings.ToLower(det.ClassName)
		if _, ok := c.phones[name]; ok {
			return UsingPhone, true
		}
		if _, ok := c.foods[name]; ok {
			return Eating, true
		}
	}
	return "", false
}

func (c *Classifier) handAtFace(hand, face []types.Landmark) bool {
	switch c.t.HandMethod {
	case HandPalm:
		d, ok := PalmNoseDistance(hand, face)
		return ok && d < c.t.PalmNoseDistance
	default:
		d, ok := FingerMouthGap(hand, face)
		return ok && d < c.t.MouthDistance
	}
}
