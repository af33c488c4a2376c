package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sw33tLie/emvscope/pkg/detection"
	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
	_ "golang.org/x/image/webp"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// ImageDir serves frames previously extracted from a video into a directory,
// ordered by file name.
type ImageDir struct {
	files []string
	fps   float64
	pos   int
}

func OpenImageDir(dir string, fps float64) (*ImageDir, error) {
	if !(fps > 0) {
		return nil, emverrors.Configuration("invalid_fps", fmt.Errorf("frames-per-second must be positive, got %v", fps))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(files)
	return &ImageDir{files: files, fps: fps}, nil
}

func (d *ImageDir) Len() int { return len(d.files) }

// Next reads the next image. Images whose header cannot be decoded are
// reported as transient errors so the session skips them.
func (d *ImageDir) Next(ctx context.Context) (detection.Frame, error) {
	if err := ctx.Err(); err != nil {
		return detection.Frame{}, err
	}
	if d.pos >= len(d.files) {
		return detection.Frame{}, io.EOF
	}
	idx := d.pos
	path := d.files[idx]
	d.pos++

	data, err := os.ReadFile(path)
	if err != nil {
		return detection.Frame{}, emverrors.Transient("unreadable_frame", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return detection.Frame{}, emverrors.Transient("undecodable_frame", fmt.Errorf("%s: %w", filepath.Base(path), err))
	}

	return detection.Frame{
		FrameContext: detection.FrameContext{
			Width:       cfg.Width,
			Height:      cfg.Height,
			FPS:         d.fps,
			Index:       idx,
			TotalFrames: len(d.files),
		},
		Timestamp: time.Duration(float64(idx) / d.fps * float64(time.Second)),
		Image:     data,
		Path:      path,
	}, nil
}
