package detector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sw33tLie/emvscope/pkg/detection"
	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
	"github.com/sw33tLie/emvscope/pkg/whttp"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const DefaultEndpoint = "https://detect.roboflow.com"

// HostedConfig configures a hosted inference API.
type HostedConfig struct {
	Endpoint   string
	ModelID    string // e.g. "driven-13-aramco-roi/9"
	APIKey     string
	Confidence float64       // minimum confidence requested from the API, in [0,1]
	MinSpacing time.Duration // minimum time between two calls; 0 = unpaced
	Client     *retryablehttp.Client
}

// Hosted sends each frame to a hosted object-detection API.
// It performs no tracking, so detections carry no track id.
type Hosted struct {
	cfg     HostedConfig
	limiter *rate.Limiter
}

func NewHosted(cfg HostedConfig) *Hosted {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Client == nil {
		cfg.Client = whttp.NewClient(2)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinSpacing > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinSpacing), 1)
	}
	return &Hosted{cfg: cfg, limiter: limiter}
}

func (h *Hosted) Name() string { return "hosted:" + h.cfg.ModelID }

func (h *Hosted) inferURL() string {
	q := url.Values{}
	q.Set("api_key", h.cfg.APIKey)
	q.Set("confidence", strconv.Itoa(int(h.cfg.Confidence*100)))
	q.Set("format", "json")
	return h.cfg.Endpoint + "/" + h.cfg.ModelID + "?" + q.Encode()
}

// Authenticate checks that the model exists and the key is accepted.
func (h *Hosted) Authenticate(ctx context.Context) error {
	if h.cfg.APIKey == "" || h.cfg.ModelID == "" {
		return emverrors.Fatal("missing_credentials", errors.New("detector requires a model id and an api key"))
	}
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{Method: "GET", URL: h.inferURL()}, h.cfg.Client)
	if err != nil {
		return emverrors.Fatal("detector_unreachable", fmt.Errorf("reaching %s: %w", h.cfg.Endpoint, err))
	}
	switch res.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return emverrors.Fatal("credentials_rejected", fmt.Errorf("detector rejected api key (status %d)", res.StatusCode))
	case http.StatusNotFound:
		return emverrors.Fatal("unknown_model", fmt.Errorf("model %s not found", h.cfg.ModelID))
	}
	return nil
}

// Detect uploads the frame image and parses the predictions.
func (h *Hosted) Detect(ctx context.Context, f detection.Frame) ([]detection.Detection, error) {
	img := f.Image
	if img == nil {
		if f.Path == "" {
			return nil, emverrors.Transient("missing_image", fmt.Errorf("frame %d has no image", f.Index))
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, emverrors.Transient("unreadable_image", err)
		}
		img = data
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  "POST",
		URL:     h.inferURL(),
		Headers: []whttp.WHTTPHeader{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}},
		Body:    []byte(base64.StdEncoding.EncodeToString(img)),
	}, h.cfg.Client)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, emverrors.Transient("detector_request_failed", err)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, emverrors.Fatal("credentials_rejected", fmt.Errorf("detector rejected api key (status %d)", res.StatusCode))
	case res.StatusCode != http.StatusOK:
		return nil, emverrors.Transient("detector_status", fmt.Errorf("detector returned status %d", res.StatusCode))
	}

	return parsePredictions(res.BodyString, f)
}

// parsePredictions converts centre-based predictions into corner boxes.
func parsePredictions(body string, f detection.Frame) ([]detection.Detection, error) {
	if !gjson.Valid(body) {
		return nil, emverrors.Transient("malformed_response", errors.New("detector returned invalid JSON"))
	}
	preds := gjson.Get(body, "predictions")
	if !preds.IsArray() {
		return nil, emverrors.Transient("malformed_response", errors.New("detector response has no predictions array"))
	}

	var dets []detection.Detection
	for _, p := range preds.Array() {
		cx, cy := p.Get("x").Float(), p.Get("y").Float()
		w, h := p.Get("width").Float(), p.Get("height").Float()
		d := detection.Detection{
			Box: detection.BoundingBox{
				XMin: cx - w/2,
				YMin: cy - h/2,
				XMax: cx + w/2,
				YMax: cy + h/2,
			},
			Confidence: p.Get("confidence").Float(),
			Label:      p.Get("class").String(),
			FrameIndex: f.Index,
			Timestamp:  f.Timestamp,
		}
		if tid := p.Get("tracker_id"); tid.Exists() && tid.Type != gjson.Null {
			d.TrackID = tid.String()
		}
		dets = append(dets, d)
	}
	return dets, nil
}
