package behavior

import (
	"math"

	"github.com/dj-oyu/class-monitor/pkg/types"
)

// Eye landmark quadruples for the aspect ratio: outer corner, two lid
// points, inner corner.
var (
	LeftEyeIndices  = [4]int{33, 160, 158, 133}
	RightEyeIndices = [4]int{362, 385, 387, 263}
)

// Distance2D is the euclidean distance in the image plane.
func Distance2D(a, b types.Landmark) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func at(points []types.Landmark, idx int) (types.Landmark, bool) {
	if idx < 0 || idx >= len(points) {
		return types.Landmark{}, false
	}
	return points[idx], true
}

// EyeAspectRatio returns |p1-p2| / |p0-p3| for the given eye indices.
// A degenerate (zero width) eye yields +Inf so it never reads as closed.
func EyeAspectRatio(face []types.Landmark, eye [4]int) (float64, bool) {
	var pts [4]types.Landmark
	for i, idx := range eye {
		p, ok := at(face, idx)
		if !ok {
			return 0, false
		}
		pts[i] = p
	}

	width := Distance2D(pts[0], pts[3])
	if width == 0 {
		return math.Inf(1), true
	}
	return Distance2D(pts[1], pts[2]) / width, true
}

// EyelidGap is the vertical gap between the upper and lower left eyelid.
func EyelidGap(face []types.Landmark) (float64, bool) {
	top, ok := at(face, types.FaceLeftEyeTop)
	if !ok {
		return 0, false
	}
	bottom, ok := at(face, types.FaceLeftEyeBottom)
	if !ok {
		return 0, false
	}
	return math.Abs(top.Y - bottom.Y), true
}

// FingerMouthGap is the vertical gap between the index fingertip and the
// upper lip.
func FingerMouthGap(hand, face []types.Landmark) (float64, bool) {
	tip, ok := at(hand, types.HandIndexFingerTip)
	if !ok {
		return 0, false
	}
	mouth, ok := at(face, types.FaceUpperLip)
	if !ok {
		return 0, false
	}
	return math.Abs(tip.Y - mouth.Y), true
}

// PalmNoseDistance is the distance from the middle-finger knuckle (palm
// center) to the nose tip.
func PalmNoseDistance(hand, face []types.Landmark) (float64, bool) {
	palm, ok := at(hand, types.HandMiddleMCP)
	if !ok {
		return 0, false
	}
	nose, ok := at(face, types.FaceNoseTip)
	if !ok {
		return 0, false
	}
	return Distance2D(palm, nose), true
}
