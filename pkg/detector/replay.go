package detector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sw33tLie/emvscope/pkg/detection"
	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
	"github.com/tidwall/gjson"
)

// Replay reads pre-computed detections from a JSON-lines file, one frame per line:
//
//	{"frame":12,"timestamp":0.4,"width":1920,"height":1080,"fps":30,"total":900,
//	 "detections":[{"bbox":[10,20,110,70],"confidence":0.91,"class":"aramco","track_id":4}]}
//
// A line carrying "error" replays a transient upstream failure for that frame.
// Replay is both the FrameSource and the Detector of a session.
type Replay struct {
	scanner  *bufio.Scanner
	closer   io.Closer
	defaults detection.FrameContext
	line     int

	current    int
	currentSet bool
	dets       []detection.Detection
	failure    string
}

// OpenReplay opens path. Fields missing from a line fall back to defaults.
func OpenReplay(path string, defaults detection.FrameContext) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewReplay(f, defaults)
	r.closer = f
	return r, nil
}

func NewReplay(rd io.Reader, defaults detection.FrameContext) *Replay {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Replay{scanner: sc, defaults: defaults}
}

func (r *Replay) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Replay) Name() string { return "replay" }

func (r *Replay) Authenticate(ctx context.Context) error { return nil }

// Next parses the next line. Malformed lines are reported as transient errors
// so the session skips them and keeps reading.
func (r *Replay) Next(ctx context.Context) (detection.Frame, error) {
	if err := ctx.Err(); err != nil {
		return detection.Frame{}, err
	}
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}
		if !gjson.Valid(text) {
			r.currentSet = false
			return detection.Frame{}, emverrors.Transient("malformed_replay_line", fmt.Errorf("replay line %d is not valid JSON", r.line))
		}
		return r.parse(text), nil
	}
	if err := r.scanner.Err(); err != nil {
		return detection.Frame{}, err
	}
	return detection.Frame{}, io.EOF
}

func (r *Replay) parse(line string) detection.Frame {
	fc := r.defaults
	fc.Index = r.line - 1
	if v := gjson.Get(line, "frame"); v.Exists() {
		fc.Index = int(v.Int())
	}
	if v := gjson.Get(line, "width"); v.Exists() {
		fc.Width = int(v.Int())
	}
	if v := gjson.Get(line, "height"); v.Exists() {
		fc.Height = int(v.Int())
	}
	if v := gjson.Get(line, "fps"); v.Exists() {
		fc.FPS = v.Float()
	}
	if v := gjson.Get(line, "total"); v.Exists() {
		fc.TotalFrames = int(v.Int())
	}

	var ts time.Duration
	if v := gjson.Get(line, "timestamp"); v.Exists() {
		ts = time.Duration(v.Float() * float64(time.Second))
	} else if fc.FPS > 0 {
		ts = time.Duration(float64(fc.Index) / fc.FPS * float64(time.Second))
	}

	r.current = fc.Index
	r.currentSet = true
	r.failure = gjson.Get(line, "error").String()
	r.dets = nil
	for _, d := range gjson.Get(line, "detections").Array() {
		bbox := d.Get("bbox").Array()
		det := detection.Detection{
			Confidence: d.Get("confidence").Float(),
			Label:      d.Get("class").String(),
			FrameIndex: fc.Index,
			Timestamp:  ts,
		}
		if len(bbox) == 4 {
			det.Box = detection.BoundingBox{XMin: bbox[0].Float(), YMin: bbox[1].Float(), XMax: bbox[2].Float(), YMax: bbox[3].Float()}
		}
		if tid := d.Get("track_id"); tid.Exists() && tid.Type != gjson.Null {
			det.TrackID = tid.String()
		}
		r.dets = append(r.dets, det)
	}

	return detection.Frame{FrameContext: fc, Timestamp: ts}
}

// Detect returns the detections recorded for the frame last returned by Next.
func (r *Replay) Detect(ctx context.Context, f detection.Frame) ([]detection.Detection, error) {
	if !r.currentSet || r.current != f.Index {
		return nil, emverrors.Transient("replay_out_of_sync", fmt.Errorf("no replay data for frame %d", f.Index))
	}
	if r.failure != "" {
		return nil, emverrors.Transient("replayed_failure", errors.New(r.failure))
	}
	out := make([]detection.Detection, len(r.dets))
	copy(out, r.dets)
	return out, nil
}
