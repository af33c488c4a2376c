package detection

import (
	"context"
	"io"
)

// Postprocessor defines a function that filters/modifies an incoming slice of Detections.
type Postprocessor func([]Detection) []Detection

// NewScoreFilter returns a function that filters out detections below a certain confidence.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Confidence >= conf {
				out = append(out, d)
			}
		}
		return out
	}
}

// NewAreaFilter returns a function that filters out detections below a certain pixel area.
func NewAreaFilter(area float64) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Box.Area() >= area {
				out = append(out, d)
			}
		}
		return out
	}
}

// WithPostprocessors wraps det so every successful result passes through ps in order.
func WithPostprocessors(det Detector, ps ...Postprocessor) Detector {
	if len(ps) == 0 {
		return det
	}
	return &filteredDetector{Detector: det, ps: ps}
}

type filteredDetector struct {
	Detector
	ps []Postprocessor
}

func (f *filteredDetector) Detect(ctx context.Context, fr Frame) ([]Detection, error) {
	dets, err := f.Detector.Detect(ctx, fr)
	if err != nil {
		return nil, err
	}
	for _, p := range f.ps {
		dets = p(dets)
	}
	return dets, nil
}

// Sample returns a FrameSource that yields only every stride-th frame of src
// (frames whose index is a multiple of stride). Skipped frames are not
// interpolated, so per-brand totals under-estimate proportionally to stride.
func Sample(src FrameSource, stride int) FrameSource {
	if stride <= 1 {
		return src
	}
	return &sampled{src: src, stride: stride}
}

type sampled struct {
	src    FrameSource
	stride int
}

func (s *sampled) Next(ctx context.Context) (Frame, error) {
	for {
		f, err := s.src.Next(ctx)
		if err != nil {
			return Frame{}, err
		}
		if f.Index%s.stride == 0 {
			return f, nil
		}
	}
}

// SliceSource serves frames from memory. Useful for tests and library callers
// that already hold decoded frames.
type SliceSource struct {
	Frames []Frame
	pos    int
}

func (s *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.Frames) {
		return Frame{}, io.EOF
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, nil
}
