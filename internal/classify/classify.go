// Package classify turns face landmarks into per-frame drowsiness and yawning decisions.
package classify

import (
	"fmt"

	"github.com/dj-oyu/driver-monitor/internal/geometry"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// Face-mesh landmark indices (468-point mesh)
var (
	LeftEye  = [6]int{362, 385, 387, 263, 373, 380}
	RightEye = [6]int{33, 160, 158, 133, 153, 144}
	// Mouth holds the upper-lip pair followed by the lower-lip pair
	Mouth = [4]int{13, 14, 17, 18}
)

// Thresholds are calibration constants, not derived values. They are
// sensitive to lighting, camera angle and individual eye shape.
type Thresholds struct {
	EAR              float64 // drowsy when mean EAR is below this
	MouthDistance    float64 // yawning when mouth distance (pixels) exceeds this
	NormalizeMouth   bool    // compare mouth/interocular ratio instead of pixels
	MouthRatio       float64 // ratio threshold used when NormalizeMouth is set
	MinEyeWidthPixel float64 // eyes narrower than this are treated as degenerate
}

// DefaultThresholds returns the stock calibration
func DefaultThresholds() Thresholds {
	return Thresholds{
		EAR:           0.25,
		MouthDistance: 25,
		MouthRatio:    0.35,
	}
}

// Validate checks that thresholds are usable
func (t Thresholds) Validate() error {
	if t.EAR <= 0 {
		return fmt.Errorf("ear threshold must be positive, got %v", t.EAR)
	}
	if t.MouthDistance <= 0 {
		return fmt.Errorf("mouth distance threshold must be positive, got %v", t.MouthDistance)
	}
	if t.NormalizeMouth && t.MouthRatio <= 0 {
		return fmt.Errorf("mouth ratio threshold must be positive, got %v", t.MouthRatio)
	}
	return nil
}

// FaceSignals are the signals derived from a single face
type FaceSignals struct {
	Valid         bool // landmark set covered every required index
	DegenerateEye bool // an eye had (near) zero width
	EAR           float64
	MouthDistance float64
	MouthRatio    float64
	Drowsy        bool
	Yawning       bool
}

// FrameSignals are the face signals unioned over every face in a frame
type FrameSignals struct {
	Faces         int
	EAR           float64
	MouthDistance float64
	Drowsy        bool
	Yawning       bool
}

// Classifier applies thresholds to landmark sets
type Classifier struct {
	th       Thresholds
	maxIndex int
}

// New creates a classifier with the given thresholds
func New(th Thresholds) *Classifier {
	maxIndex := 0
	for _, idx := range LeftEye {
		maxIndex = max(maxIndex, idx)
	}
	for _, idx := range RightEye {
		maxIndex = max(maxIndex, idx)
	}
	for _, idx := range Mouth {
		maxIndex = max(maxIndex, idx)
	}
	return &Classifier{th: th, maxIndex: maxIndex}
}

// Thresholds returns the active thresholds
func (c *Classifier) Thresholds() Thresholds {
	return c.th
}

// Face classifies one landmark set. It never panics: short sets are
// reported as invalid with both decisions false.
func (c *Classifier) Face(lm types.LandmarkSet) FaceSignals {
	if len(lm) <= c.maxIndex {
		return FaceSignals{}
	}

	left := pick6(lm, LeftEye)
	right := pick6(lm, RightEye)
	mouth := [4]types.Point{lm[Mouth[0]], lm[Mouth[1]], lm[Mouth[2]], lm[Mouth[3]]}

	s := FaceSignals{Valid: true}

	minWidth := c.th.MinEyeWidthPixel
	if geometry.EyeWidth(left) <= minWidth || geometry.EyeWidth(right) <= minWidth {
		s.DegenerateEye = true
	}

	s.EAR = (geometry.EyeAspectRatio(left) + geometry.EyeAspectRatio(right)) / 2
	// A collapsed eye yields EAR 0; that sentinel must not read as closed eyes.
	s.Drowsy = !s.DegenerateEye && s.EAR < c.th.EAR

	s.MouthDistance = geometry.MouthOpenDistance(mouth)
	if c.th.NormalizeMouth {
		if iod := geometry.InterocularDistance(left, right); iod > 0 {
			s.MouthRatio = s.MouthDistance / iod
		}
		s.Yawning = s.MouthRatio > c.th.MouthRatio
	} else {
		s.Yawning = s.MouthDistance > c.th.MouthDistance
	}

	return s
}

// Frame classifies every face and unions the decisions. The reported EAR
// and mouth distance come from the first face that raised the respective
// flag, falling back to the first valid face.
func (c *Classifier) Frame(faces []types.LandmarkSet) FrameSignals {
	out := FrameSignals{Faces: len(faces)}
	haveReading := false

	for _, lm := range faces {
		s := c.Face(lm)
		if !s.Valid {
			continue
		}
		if !haveReading {
			out.EAR = s.EAR
			out.MouthDistance = s.MouthDistance
			haveReading = true
		}
		if s.Drowsy && !out.Drowsy {
			out.Drowsy = true
			out.EAR = s.EAR
		}
		if s.Yawning && !out.Yawning {
			out.Yawning = true
			out.MouthDistance = s.MouthDistance
		}
	}

	return out
}

func pick6(lm types.LandmarkSet, idx [6]int) [6]types.Point {
	var out [6]types.Point
	for i, j := range idx {
		out[i] = lm[j]
	}
	return out
}
