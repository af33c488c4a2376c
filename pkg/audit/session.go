// Package audit runs an exposure valuation session over a stream of frames.
//
// A Session owns every brand ledger and the audit log. It moves through
// IDLE -> RUNNING -> COMPLETED|ABORTED and applies each frame atomically: all
// of a frame's detections reach the ledgers or none do.
//
// When the upstream detector provides no track identifiers, unique exposures
// fall back to one synthetic identifier per (frame, detection ordinal). This
// over-counts physical logos; no merging heuristic is applied.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sw33tLie/emvscope/pkg/brands"
	"github.com/sw33tLie/emvscope/pkg/detection"
	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
	"github.com/sw33tLie/emvscope/pkg/goal"
	"github.com/sw33tLie/emvscope/pkg/ledger"
	"github.com/sw33tLie/emvscope/pkg/metrics"
	"github.com/sw33tLie/emvscope/pkg/valuation"
)

var (
	ErrNotIdle    = errors.New("audit: session already started")
	ErrNotRunning = errors.New("audit: session is not running")
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Goal designates the ledger whose running total is tracked against Target.
type Goal struct {
	Brand  string
	Target float64
}

// Progress is reported after every applied frame.
type Progress struct {
	Frame    detection.FrameContext
	Fraction float64 // frame progress in [0,1], -1 when the total is unknown
	Goal     *goal.State
}

// Config holds everything a Session needs.
type Config struct {
	Asset      string
	Pricing    valuation.Config
	Vocabulary *brands.Vocabulary
	Detector   detection.Detector
	Goal       *Goal
	Cooldown   time.Duration // pause after a transient detector failure
	Metrics    *metrics.Metrics
	Log        Logger // optional; nil = no logging

	// OnProgress is called after each applied frame. Nil = no callback.
	OnProgress func(Progress)
}

// Summary describes a session's run so far.
type Summary struct {
	ID            string
	Asset         string
	State         State
	FramesApplied int
	FramesSkipped int
	StartedAt     time.Time
	FinishedAt    time.Time
	Partial       bool // stopped by the caller before the source was exhausted
	Cause         error
}

// Session is one audit session. It is not safe for concurrent use.
type Session struct {
	cfg  Config
	log  Logger
	book *ledger.Book

	id        string
	state     State
	lastIndex int
	applied   int
	skipped   int
	started   time.Time
	finished  time.Time
	partial   bool
	cause     error
}

// New validates cfg and returns an idle session.
func New(cfg Config) (*Session, error) {
	if cfg.Vocabulary == nil {
		return nil, emverrors.Configuration("missing_vocabulary", errors.New("no brand vocabulary configured"))
	}
	if cfg.Detector == nil {
		return nil, emverrors.Configuration("missing_detector", errors.New("no detector configured"))
	}
	if err := cfg.Pricing.Validate(cfg.Vocabulary.Brands()); err != nil {
		return nil, err
	}
	if cfg.Goal != nil {
		if !knownBrand(cfg.Vocabulary, cfg.Goal.Brand) {
			return nil, emverrors.Configuration("unknown_goal_brand", fmt.Errorf("goal brand %q is not in the brand vocabulary", cfg.Goal.Brand))
		}
		if !(cfg.Goal.Target > 0) {
			return nil, emverrors.Configuration("invalid_goal", fmt.Errorf("goal target must be positive, got %v", cfg.Goal.Target))
		}
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	return &Session{
		cfg:       cfg,
		log:       log,
		book:      ledger.NewBook(),
		id:        uuid.NewString(),
		lastIndex: -1,
	}, nil
}

func knownBrand(v *brands.Vocabulary, brand string) bool {
	for _, b := range v.Brands() {
		if b == brand {
			return true
		}
	}
	return false
}

func (s *Session) ID() string   { return s.id }
func (s *Session) State() State { return s.state }

// Start checks the detector and moves the session to RUNNING. If the
// detector is unreachable or rejects our credentials the session stays IDLE.
func (s *Session) Start(ctx context.Context) error {
	if s.state != StateIdle {
		return ErrNotIdle
	}
	if err := s.cfg.Detector.Authenticate(ctx); err != nil {
		if emverrors.CategoryOf(err) == "" {
			err = emverrors.Fatal("detector_unavailable", err)
		}
		s.log.Errorf("Detector %s unavailable: %v", s.cfg.Detector.Name(), err)
		return err
	}
	s.state = StateRunning
	s.started = time.Now().UTC()
	s.log.Infof("Session %s started (detector: %s, pricing: %s)", s.id, s.cfg.Detector.Name(), s.cfg.Pricing.Mode)
	return nil
}

// Finish moves a RUNNING session to COMPLETED.
func (s *Session) Finish() {
	if s.state == StateRunning {
		s.state = StateCompleted
		s.finished = time.Now().UTC()
	}
}

func (s *Session) abort(err error) {
	s.state = StateAborted
	s.finished = time.Now().UTC()
	s.cause = err
	s.log.Errorf("Session %s aborted: %v", s.id, err)
}

// Reset drops every ledger and the audit log and returns to IDLE under a new id.
func (s *Session) Reset() {
	s.book.Reset()
	s.cfg.Metrics.Reset()
	s.id = uuid.NewString()
	s.state = StateIdle
	s.lastIndex = -1
	s.applied, s.skipped = 0, 0
	s.started, s.finished = time.Time{}, time.Time{}
	s.partial = false
	s.cause = nil
}

func (s *Session) Ledgers() []ledger.BrandLedger    { return s.book.Ledgers() }
func (s *Session) AuditLog() []ledger.AuditLogEntry { return s.book.AuditLog() }

func (s *Session) Ledger(brand string) (ledger.BrandLedger, bool) {
	return s.book.Ledger(brand)
}

// GoalState returns the current goal state, if a goal is configured.
func (s *Session) GoalState() (goal.State, bool) {
	if s.cfg.Goal == nil {
		return goal.State{}, false
	}
	l, ok := s.book.Ledger(s.cfg.Goal.Brand)
	if !ok {
		l.Brand = s.cfg.Goal.Brand
	}
	return goal.Progress(l, s.cfg.Goal.Target), true
}

func (s *Session) Summary() Summary {
	return Summary{
		ID:            s.id,
		Asset:         s.cfg.Asset,
		State:         s.state,
		FramesApplied: s.applied,
		FramesSkipped: s.skipped,
		StartedAt:     s.started,
		FinishedAt:    s.finished,
		Partial:       s.partial,
		Cause:         s.cause,
	}
}
