package detector

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sw33tLie/emvscope/pkg/detection"
	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
	"github.com/sw33tLie/emvscope/pkg/whttp"
)

func fastClient() *HostedConfig {
	c := whttp.NewClient(0)
	c.RetryWaitMin = time.Millisecond
	c.RetryWaitMax = time.Millisecond
	return &HostedConfig{ModelID: "driven-13-aramco-roi/9", APIKey: "key", Confidence: 0.4, Client: c}
}

func TestHostedDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/driven-13-aramco-roi/9" || r.URL.Query().Get("api_key") != "key" || r.URL.Query().Get("confidence") != "40" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if decoded, err := base64.StdEncoding.DecodeString(string(body)); err != nil || string(decoded) != "jpegbytes" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"predictions":[
			{"x":20,"y":15,"width":40,"height":30,"confidence":0.8,"class":"aramco"},
			{"x":100,"y":100,"width":10,"height":10,"confidence":0.5,"class":"car","tracker_id":12}
		],"image":{"width":800,"height":600}}`))
	}))
	defer srv.Close()

	cfg := fastClient()
	cfg.Endpoint = srv.URL + "/"
	h := NewHosted(*cfg)
	dets, err := h.Detect(context.Background(), detection.Frame{
		FrameContext: detection.FrameContext{Index: 3},
		Image:        []byte("jpegbytes"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("want 2 detections, got %d", len(dets))
	}
	want := detection.BoundingBox{XMin: 0, YMin: 0, XMax: 40, YMax: 30}
	if dets[0].Box != want || dets[0].Label != "aramco" || dets[0].Confidence != 0.8 || dets[0].HasTrack() {
		t.Fatalf("unexpected first detection: %#v", dets[0])
	}
	if dets[1].TrackID != "12" || dets[1].FrameIndex != 3 {
		t.Fatalf("unexpected second detection: %#v", dets[1])
	}
}

func TestHostedErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category emverrors.Category
	}{
		{"unauthorized", http.StatusUnauthorized, "", emverrors.CategoryUpstreamFatal},
		{"rate limited", http.StatusTooManyRequests, "", emverrors.CategoryUpstreamTransient},
		{"server error", http.StatusInternalServerError, "", emverrors.CategoryUpstreamTransient},
		{"malformed", http.StatusOK, "<html>", emverrors.CategoryUpstreamTransient},
		{"no predictions", http.StatusOK, `{"error":"x"}`, emverrors.CategoryUpstreamTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			cfg := fastClient()
			cfg.Endpoint = srv.URL
			_, err := NewHosted(*cfg).Detect(context.Background(), detection.Frame{Image: []byte("x")})
			if emverrors.CategoryOf(err) != tt.category {
				t.Fatalf("want %s, got %q (%v)", tt.category, emverrors.CategoryOf(err), err)
			}
		})
	}
}

func TestHostedAuthenticate(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	cfg := fastClient()
	cfg.Endpoint = srv.URL
	if err := NewHosted(*cfg).Authenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status = http.StatusForbidden
	if err := NewHosted(*cfg).Authenticate(context.Background()); emverrors.CodeOf(err) != "credentials_rejected" {
		t.Fatalf("expected credentials_rejected, got %v", err)
	}

	cfg.APIKey = ""
	if err := NewHosted(*cfg).Authenticate(context.Background()); emverrors.CategoryOf(err) != emverrors.CategoryUpstreamFatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestHostedUnreachableAtStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	cfg := fastClient()
	cfg.Endpoint = srv.URL
	if err := NewHosted(*cfg).Authenticate(context.Background()); emverrors.CodeOf(err) != "detector_unreachable" {
		t.Fatalf("expected detector_unreachable, got %v", err)
	}
}

const replayData = `{"frame":41,"width":800,"height":600,"fps":30,"total":44,"detections":[]}
{"frame":42,"width":800,"height":600,"fps":30,"total":44,"error":"timeout"}

not json
{"frame":43,"timestamp":1.5,"width":800,"height":600,"fps":30,"total":44,"detections":[{"bbox":[0,0,40,30],"confidence":0.8,"class":"aramco","track_id":4}]}
`

func TestReplay(t *testing.T) {
	r := NewReplay(strings.NewReader(replayData), detection.FrameContext{})
	ctx := context.Background()

	f, err := r.Next(ctx)
	if err != nil || f.Index != 41 || f.Width != 800 || f.TotalFrames != 44 {
		t.Fatalf("unexpected first frame %#v (%v)", f, err)
	}
	if dets, err := r.Detect(ctx, f); err != nil || len(dets) != 0 {
		t.Fatalf("unexpected detections %#v (%v)", dets, err)
	}

	f, _ = r.Next(ctx)
	if _, err := r.Detect(ctx, f); !emverrors.IsTransient(err) {
		t.Fatalf("expected replayed transient failure, got %v", err)
	}

	if _, err := r.Next(ctx); !emverrors.IsTransient(err) {
		t.Fatalf("expected transient error for malformed line, got %v", err)
	}

	f, err = r.Next(ctx)
	if err != nil || f.Index != 43 {
		t.Fatalf("unexpected frame %#v (%v)", f, err)
	}
	if f.Timestamp != 1500*time.Millisecond {
		t.Fatalf("unexpected timestamp %v", f.Timestamp)
	}
	dets, err := r.Detect(ctx, f)
	if err != nil || len(dets) != 1 {
		t.Fatalf("unexpected detections %#v (%v)", dets, err)
	}
	if dets[0].TrackID != "4" || dets[0].Box.XMax != 40 || dets[0].Label != "aramco" {
		t.Fatalf("unexpected detection %#v", dets[0])
	}
	if _, err := r.Detect(ctx, detection.Frame{FrameContext: detection.FrameContext{Index: 7}}); !emverrors.IsTransient(err) {
		t.Fatalf("expected out-of-sync error, got %v", err)
	}

	if _, err := r.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReplayDefaults(t *testing.T) {
	r := NewReplay(strings.NewReader(`{"detections":[]}`+"\n"+`{}`), detection.FrameContext{Width: 1280, Height: 720, FPS: 25, TotalFrames: -1})
	_, _ = r.Next(context.Background())
	f, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Index != 1 || f.Width != 1280 || f.FPS != 25 || f.TotalFrames != -1 || f.Timestamp != 40*time.Millisecond {
		t.Fatalf("unexpected frame %#v", f)
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer out.Close()
	if err := png.Encode(out, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestImageDir(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame_0002.png"), 64, 48)
	writePNG(t, filepath.Join(dir, "frame_0001.png"), 64, 48)
	if err := os.WriteFile(filepath.Join(dir, "frame_0003.png"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src, err := OpenImageDir(dir, 24)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("want 3 frames, got %d", src.Len())
	}
	ctx := context.Background()
	f, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if filepath.Base(f.Path) != "frame_0001.png" || f.Width != 64 || f.Height != 48 || f.Index != 0 || f.TotalFrames != 3 {
		t.Fatalf("unexpected frame %#v", f.FrameContext)
	}
	if f, _ = src.Next(ctx); f.Timestamp != time.Second/24 {
		t.Fatalf("unexpected timestamp %v", f.Timestamp)
	}
	if _, err := src.Next(ctx); !emverrors.IsTransient(err) {
		t.Fatalf("expected transient error for garbage frame, got %v", err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestOpenImageDirRejectsBadInput(t *testing.T) {
	if _, err := OpenImageDir(t.TempDir(), 30); err == nil {
		t.Fatal("expected error for empty directory")
	}
	if _, err := OpenImageDir(t.TempDir(), 0); emverrors.CategoryOf(err) != emverrors.CategoryConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
