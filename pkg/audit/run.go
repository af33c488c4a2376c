package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sw33tLie/emvscope/pkg/detection"
	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
	"github.com/sw33tLie/emvscope/pkg/ledger"
	"github.com/sw33tLie/emvscope/pkg/valuation"
)

// Run pulls frames from src until it is exhausted, the context is cancelled,
// or an unrecoverable upstream failure occurs. The session must be RUNNING.
//
// Cancellation stops between frames: the session is marked COMPLETED and
// partial, with every frame applied so far intact.
func (s *Session) Run(ctx context.Context, src detection.FrameSource) (Summary, error) {
	if s.state != StateRunning {
		return s.Summary(), ErrNotRunning
	}

	for {
		if ctx.Err() != nil {
			s.stopEarly()
			return s.Summary(), nil
		}

		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.Finish()
			s.log.Infof("Session %s completed: %d frames applied, %d skipped", s.id, s.applied, s.skipped)
			return s.Summary(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				s.stopEarly()
				return s.Summary(), nil
			}
			if emverrors.IsTransient(err) {
				s.skipped++
				s.cfg.Metrics.FrameSkipped()
				s.log.Warnf("Skipping unreadable frame: %v", err)
				continue
			}
			err = fmt.Errorf("reading frames: %w", err)
			s.abort(err)
			return s.Summary(), err
		}

		err = s.ProcessFrame(ctx, f)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			s.stopEarly()
			return s.Summary(), nil
		case emverrors.IsTransient(err):
			s.cooldown(ctx)
		case emverrors.CategoryOf(err) == emverrors.CategoryInputContract:
		default:
			return s.Summary(), err
		}
	}
}

func (s *Session) stopEarly() {
	s.partial = true
	s.Finish()
	s.log.Infof("Session %s stopped early after %d frames", s.id, s.applied)
}

func (s *Session) cooldown(ctx context.Context) {
	if s.cfg.Cooldown <= 0 {
		return
	}
	t := time.NewTimer(s.cfg.Cooldown)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ProcessFrame detects, values and applies one frame.
//
// A transient detector failure skips the whole frame and returns the
// classified error; the session stays RUNNING. A fatal failure aborts the
// session. Frames that violate the input contract (regressing index,
// non-positive fps) are skipped. An index at or before the last applied
// frame is a replay of work already in the ledgers and is skipped too.
func (s *Session) ProcessFrame(ctx context.Context, f detection.Frame) error {
	if s.state != StateRunning {
		return ErrNotRunning
	}
	if f.Index <= s.lastIndex {
		return s.skip(f, emverrors.Wrap(fmt.Errorf("frame %d arrived after frame %d was applied", f.Index, s.lastIndex), emverrors.CategoryInputContract, "frame_order", ""))
	}
	if !(f.FPS > 0) {
		return s.skip(f, emverrors.Wrap(fmt.Errorf("frame %d has invalid fps %v", f.Index, f.FPS), emverrors.CategoryInputContract, "invalid_fps", ""))
	}

	began := time.Now()
	dets, err := s.cfg.Detector.Detect(ctx, f)
	s.cfg.Metrics.UpdateDetectLatency(time.Since(began))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch emverrors.CategoryOf(err) {
		case emverrors.CategoryUpstreamFatal:
			err = fmt.Errorf("frame %d: %w", f.Index, err)
			s.abort(err)
			return err
		case emverrors.CategoryUpstreamTransient:
		default:
			err = emverrors.Transient("detector_error", err)
		}
		return s.skip(f, err)
	}

	sightings := s.value(f, dets)
	if err := s.book.ApplyFrame(f.FPS, sightings); err != nil {
		return s.skip(f, emverrors.Wrap(fmt.Errorf("frame %d: %w", f.Index, err), emverrors.CategoryInputContract, "invalid_sighting", ""))
	}

	s.lastIndex = f.Index
	s.applied++
	s.cfg.Metrics.FrameApplied()
	s.publish(sightings)
	s.reportProgress(f)
	return nil
}

func (s *Session) skip(f detection.Frame, err error) error {
	s.skipped++
	s.cfg.Metrics.FrameSkipped()
	s.log.Warnf("Skipping frame %d: %v", f.Index, err)
	return err
}

// value resolves brands and prices every detection of f. Unknown labels are dropped.
func (s *Session) value(f detection.Frame, dets []detection.Detection) []ledger.Sighting {
	sightings := make([]ledger.Sighting, 0, len(dets))
	for ordinal, d := range dets {
		brand, ok := s.cfg.Vocabulary.Classify(d.Label)
		if !ok {
			s.cfg.Metrics.DetectionDropped()
			s.log.Debugf("Frame %d: dropping detection with unknown label %q", f.Index, d.Label)
			continue
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			s.log.Debugf("Frame %d: clamping confidence %v of %q", f.Index, d.Confidence, d.Label)
		}
		quality := valuation.Quality(d, f.FrameContext)
		sightings = append(sightings, ledger.Sighting{
			Brand:      brand,
			ExposureID: ExposureID(d, f.Index, ordinal),
			Quality:    quality,
			Value:      s.cfg.Pricing.Value(brand, quality, f.FPS),
			FrameIndex: f.Index,
			Timestamp:  f.Timestamp,
		})
	}
	return sightings
}

// ExposureID returns the unique-exposure key of a detection: its track id when
// present, otherwise a synthetic id for (frame, ordinal).
func ExposureID(d detection.Detection, frameIndex, ordinal int) string {
	if d.HasTrack() {
		return "track:" + d.TrackID
	}
	return fmt.Sprintf("frame:%d#%d", frameIndex, ordinal)
}

func (s *Session) publish(sightings []ledger.Sighting) {
	if s.cfg.Metrics == nil {
		return
	}
	valued := make(map[string]int)
	for _, st := range sightings {
		valued[st.Brand]++
	}
	for brand, n := range valued {
		l, _ := s.book.Ledger(brand)
		s.cfg.Metrics.BrandUpdated(brand, l.Money, l.Sightings, n)
	}
}

func (s *Session) reportProgress(f detection.Frame) {
	if s.cfg.OnProgress == nil {
		return
	}
	p := Progress{Frame: f.FrameContext, Fraction: -1}
	if f.TotalFrames > 0 {
		p.Fraction = float64(f.Index+1) / float64(f.TotalFrames)
		if p.Fraction > 1 {
			p.Fraction = 1
		}
	}
	if g, ok := s.GoalState(); ok {
		p.Goal = &g
	}
	s.cfg.OnProgress(p)
}
