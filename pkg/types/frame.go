package types

import "time"

// Frame represents a single encoded camera frame with metadata
type Frame struct {
	Data      []byte    // JPEG encoded image
	Timestamp time.Time // Frame capture timestamp
	FrameNum  uint64    // Sequential frame number
	Width     int       // Frame width
	Height    int       // Frame height
}

// Landmark is a model landmark in normalized image coordinates (0..1)
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// BoundingBox is a pixel-space box
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is a single object-detector hit
type Detection struct {
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// Observation bundles everything the perception models saw in one frame.
// Faces are face-mesh landmark lists (468/478 points), Hands are
// hand landmark lists (21 points).
type Observation struct {
	FrameNum  uint64       `json:"frame_number"`
	Timestamp time.Time    `json:"timestamp"`
	Faces     [][]Landmark `json:"faces"`
	Hands     [][]Landmark `json:"hands"`
	Objects   []Detection  `json:"objects"`
}

// HasFace reports whether at least one face mesh was found
func (o *Observation) HasFace() bool {
	return o != nil && len(o.Faces) > 0
}

// Face landmark indices used by the classifier
const (
	FaceNoseTip        = 1
	FaceUpperLip       = 13
	FaceLeftEyeTop     = 159
	FaceLeftEyeBottom  = 145
	HandIndexFingerTip = 8
	HandMiddleMCP      = 9
)
