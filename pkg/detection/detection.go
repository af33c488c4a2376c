package detection

import (
	"context"
	"time"
)

// BoundingBox is an axis-aligned box in frame-pixel coordinates.
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Area returns the box area, or 0 for degenerate boxes.
func (b BoundingBox) Area() float64 {
	w := b.XMax - b.XMin
	h := b.YMax - b.YMin
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detection is one detected object in one processed frame.
type Detection struct {
	Box        BoundingBox   `json:"box"`
	Confidence float64       `json:"confidence"`
	Label      string        `json:"class"`
	TrackID    string        `json:"track_id,omitempty"` // empty when no tracker ran upstream
	FrameIndex int           `json:"frame"`
	Timestamp  time.Duration `json:"timestamp"`
}

// HasTrack reports whether the detection carries a cross-frame identifier.
func (d Detection) HasTrack() bool { return d.TrackID != "" }

// FrameContext describes the frame a batch of detections belongs to.
type FrameContext struct {
	Width       int
	Height      int
	FPS         float64
	Index       int
	TotalFrames int // -1 when unknown (live streams)
}

// Frame is one unit pulled from a FrameSource.
type Frame struct {
	FrameContext
	Timestamp time.Duration
	Image     []byte // encoded pixels; nil when the source carries its own detections
	Path      string
}

// FrameSource yields frames in non-decreasing index order.
// Next returns io.EOF once the source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Detector turns one frame into zero or more detections.
type Detector interface {
	Name() string
	// Authenticate verifies the detector is reachable and accepts our credentials.
	// Implementations that don't require auth should return nil.
	Authenticate(ctx context.Context) error
	Detect(ctx context.Context, f Frame) ([]Detection, error)
}
