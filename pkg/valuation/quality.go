// Package valuation scores detections for visual quality and converts quality into money.
package valuation

import "github.com/sw33tLie/emvscope/pkg/detection"

const (
	// SizeAmplification scales raw screen coverage before capping; logos rarely
	// cover more than a few percent of the frame.
	SizeAmplification = 50.0
	SizeWeight        = 0.7
	ConfidenceWeight  = 0.3
)

// Coverage returns the fraction of the frame covered by the detection's box.
func Coverage(d detection.Detection, fc detection.FrameContext) float64 {
	frameArea := float64(fc.Width) * float64(fc.Height)
	if frameArea <= 0 {
		return 0
	}
	return d.Box.Area() / frameArea
}

// SizeComponent is the amplified, capped coverage in [0,1].
func SizeComponent(d detection.Detection, fc detection.FrameContext) float64 {
	return clamp01(Coverage(d, fc) * SizeAmplification)
}

// Quality returns the composite visual quality of d in [0,1]:
// size component weighted 0.7 plus confidence weighted 0.3.
// Degenerate boxes contribute no size; confidence is clamped to [0,1].
func Quality(d detection.Detection, fc detection.FrameContext) float64 {
	return SizeComponent(d, fc)*SizeWeight + clamp01(d.Confidence)*ConfidenceWeight
}

func clamp01(v float64) float64 {
	// NaN fails both comparisons; treat it as zero.
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
