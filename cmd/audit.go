package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/emvscope/internal/utils"
	"github.com/sw33tLie/emvscope/pkg/audit"
	"github.com/sw33tLie/emvscope/pkg/brands"
	"github.com/sw33tLie/emvscope/pkg/detection"
	"github.com/sw33tLie/emvscope/pkg/detector"
	emverrors "github.com/sw33tLie/emvscope/pkg/errors"
	"github.com/sw33tLie/emvscope/pkg/goal"
	"github.com/sw33tLie/emvscope/pkg/metrics"
	"github.com/sw33tLie/emvscope/pkg/report"
	"github.com/sw33tLie/emvscope/pkg/storage"
	"github.com/sw33tLie/emvscope/pkg/valuation"
	"github.com/sw33tLie/emvscope/pkg/whttp"
)

// auditCmd implements: emvscope audit
//
//	--frames DIR       Directory of extracted frames, sent to the hosted detector
//	--replay FILE      JSON-lines file of recorded detections
//	--save             Archive the session in the SQLite database
//	--csv PREFIX       Write PREFIX-report.csv and PREFIX-audit.csv
//
// Pricing, brands, goal and sampling come from the config file; the flags
// below override them.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run an exposure audit over a video's frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'emvscope audit --help'", args[0])
		}

		framesDir, _ := cmd.Flags().GetString("frames")
		replayPath, _ := cmd.Flags().GetString("replay")
		if (framesDir == "") == (replayPath == "") {
			return errors.New("exactly one of --frames or --replay is required")
		}

		vocab, err := vocabularyFromConfig()
		if err != nil {
			return err
		}
		pricing, err := pricingFromConfig(vocab)
		if err != nil {
			return err
		}

		src, det, closeSrc, err := buildSource(cmd, framesDir, replayPath)
		if err != nil {
			return err
		}
		defer closeSrc()

		det = detection.WithPostprocessors(det, filtersFromConfig()...)
		src = detection.Sample(src, viper.GetInt("sampling.stride"))

		asset, _ := cmd.Flags().GetString("asset")
		if asset == "" {
			asset = filepath.Base(framesDir + replayPath)
		}

		m := metrics.New()
		if addr, _ := cmd.Flags().GetString("metrics"); addr != "" {
			go func() {
				if err := m.StartServer(addr); err != nil {
					utils.Log.Errorf("Metrics server stopped: %v", err)
				}
			}()
			utils.Log.Infof("Serving metrics on %s/metrics", addr)
		}

		cfg := audit.Config{
			Asset:      asset,
			Pricing:    pricing,
			Vocabulary: vocab,
			Detector:   det,
			Goal:       goalFromConfig(),
			Cooldown:   viper.GetDuration("sampling.cooldown"),
			Metrics:    m,
			Log:        utils.Log,
			OnProgress: progressLogger(),
		}
		sess, err := audit.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := sess.Start(ctx); err != nil {
			if hint := emverrors.HintOf(err); hint != "" {
				utils.Log.Info(hint)
			}
			return err
		}

		sum, runErr := sess.Run(ctx, src)
		if sum.Partial {
			utils.Log.Warn("Interrupted: the report covers only the frames processed so far.")
		}

		rep := report.Snapshot(sess.Ledgers())
		rep.Render(os.Stdout)
		if g, ok := sess.GoalState(); ok {
			fmt.Printf("Goal %s: %s (%d%%)\n", g.Brand, g, g.Percent())
		}

		if prefix, _ := cmd.Flags().GetString("csv"); prefix != "" {
			full, _ := cmd.Flags().GetBool("full-precision")
			if err := writeCSVs(prefix, rep, report.Audit(sess.AuditLog()), precisionOf(full)); err != nil {
				return err
			}
		}

		if save, _ := cmd.Flags().GetBool("save"); save {
			dbPath, _ := cmd.Flags().GetString("dbpath")
			rec := storage.NewRecord(sum, pricing)
			if err := saveSession(context.Background(), dbPath, rec, sess); err != nil {
				return err
			}
			utils.Log.Infof("Session archived as %s", rec.ID)
		}

		return runErr
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().String("frames", "", "Directory of extracted frames (JPEG/PNG/WebP, sorted by name)")
	auditCmd.Flags().String("replay", "", "JSON-lines file of recorded detections")
	auditCmd.Flags().Float64("fps", 30, "Frames per second of the source video (frames dir, or replay lines without fps)")
	auditCmd.Flags().Int("width", 1920, "Frame width for replay lines without dimensions")
	auditCmd.Flags().Int("height", 1080, "Frame height for replay lines without dimensions")
	auditCmd.Flags().String("asset", "", "Asset name recorded with the session (default: source file name)")

	auditCmd.Flags().String("benchmark", "tv", "Pricing benchmark: tv (30s slot), social (CPM) or flat")
	auditCmd.Flags().Float64("rate", 0, "Base rate in dollars (default: benchmark preset)")
	auditCmd.Flags().Float64("slot", 0, "Slot duration in seconds for the tv benchmark")
	auditCmd.Flags().Float64("impressions", 0, "Assumed impressions for the social benchmark")

	auditCmd.Flags().Float64("min-confidence", 0.40, "Discard detections below this confidence")
	auditCmd.Flags().Float64("min-area", 0, "Discard detections smaller than this many square pixels")
	auditCmd.Flags().Int("stride", 1, "Process every Nth frame")
	auditCmd.Flags().Duration("cooldown", 0, "Pause after a transient detector failure (default: config sampling.cooldown)")

	auditCmd.Flags().String("goal-brand", "", "Brand whose EMV is tracked against --goal")
	auditCmd.Flags().Float64("goal", 0, "EMV target in dollars")

	auditCmd.Flags().Bool("save", false, "Archive the session in the database")
	auditCmd.Flags().String("csv", "", "Write PREFIX-report.csv and PREFIX-audit.csv")
	auditCmd.Flags().Bool("full-precision", false, "Write CSV numbers at full precision instead of display rounding")
	auditCmd.Flags().String("metrics", "", "Serve Prometheus metrics on this address while the audit runs (e.g. :9100)")

	for key, flag := range map[string]string{
		"pricing.benchmark":    "benchmark",
		"pricing.base_rate":    "rate",
		"pricing.slot_seconds": "slot",
		"pricing.impressions":  "impressions",
		"detector.confidence":  "min-confidence",
		"detector.min_area":    "min-area",
		"sampling.stride":      "stride",
		"sampling.cooldown":    "cooldown",
		"goal.brand":           "goal-brand",
		"goal.target":          "goal",
	} {
		viper.BindPFlag(key, auditCmd.Flags().Lookup(flag))
	}
}

func vocabularyFromConfig() (*brands.Vocabulary, error) {
	var rules []brands.Rule
	if err := viper.UnmarshalKey("brands", &rules); err != nil {
		return nil, emverrors.Configuration("invalid_brands", fmt.Errorf("parsing brands: %w", err))
	}
	return brands.New(rules)
}

// pricingFromConfig starts from the benchmark preset and applies explicit
// overrides. A zero override keeps the preset value.
func pricingFromConfig(vocab *brands.Vocabulary) (valuation.Config, error) {
	cfg, err := valuation.Preset(viper.GetString("pricing.benchmark"))
	if err != nil {
		return cfg, err
	}
	if v := viper.GetFloat64("pricing.base_rate"); v != 0 {
		cfg.BaseRate = v
	}
	if v := viper.GetFloat64("pricing.slot_seconds"); v != 0 && cfg.Mode == valuation.ModeTimeSlot {
		cfg.SlotSeconds = v
	}
	if v := viper.GetFloat64("pricing.impressions"); v != 0 && cfg.Mode == valuation.ModeCPM {
		cfg.Impressions = v
	}
	if cfg.Mode == valuation.ModeFlat {
		cfg.FlatRates = vocab.FlatRates()
	}
	return cfg, cfg.Validate(vocab.Brands())
}

func filtersFromConfig() []detection.Postprocessor {
	filters := []detection.Postprocessor{detection.NewScoreFilter(viper.GetFloat64("detector.confidence"))}
	if minArea := viper.GetFloat64("detector.min_area"); minArea > 0 {
		filters = append(filters, detection.NewAreaFilter(minArea))
	}
	return filters
}

func goalFromConfig() *audit.Goal {
	brand := viper.GetString("goal.brand")
	if brand == "" {
		return nil
	}
	return &audit.Goal{Brand: brand, Target: viper.GetFloat64("goal.target")}
}

func buildSource(cmd *cobra.Command, framesDir, replayPath string) (detection.FrameSource, detection.Detector, func(), error) {
	fps, _ := cmd.Flags().GetFloat64("fps")

	if replayPath != "" {
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")
		r, err := detector.OpenReplay(replayPath, detection.FrameContext{Width: width, Height: height, FPS: fps, TotalFrames: -1})
		if err != nil {
			return nil, nil, nil, emverrors.Configuration("replay_unreadable", err)
		}
		return r, r, func() { r.Close() }, nil
	}

	dir, err := detector.OpenImageDir(framesDir, fps)
	if err != nil {
		return nil, nil, nil, err
	}
	hcfg := detector.HostedConfig{
		Endpoint:   viper.GetString("detector.endpoint"),
		ModelID:    viper.GetString("detector.model_id"),
		APIKey:     viper.GetString("detector.api_key"),
		Confidence: viper.GetFloat64("detector.confidence"),
		MinSpacing: viper.GetDuration("detector.min_spacing"),
	}
	if proxy, _ := cmd.Flags().GetString("proxy"); proxy != "" {
		if err := whttp.SetupProxy(proxy); err != nil {
			return nil, nil, nil, err
		}
		hcfg.Client = whttp.Default()
	}
	utils.Log.Infof("Auditing %d frames from %s", dir.Len(), framesDir)
	return dir, detector.NewHosted(hcfg), func() {}, nil
}

// progressLogger logs every tenth of the asset and the goal being reached.
func progressLogger() func(audit.Progress) {
	var (
		watcher goal.Watcher
		lastPct = -1
	)
	return func(p audit.Progress) {
		utils.Log.Debugf("Frame %d applied", p.Frame.Index)
		if p.Fraction >= 0 {
			if pct := int(p.Fraction*10) * 10; pct != lastPct {
				lastPct = pct
				if p.Goal != nil {
					utils.Log.Infof("Progress %d%% | %s %s", pct, p.Goal.Brand, p.Goal)
				} else {
					utils.Log.Infof("Progress %d%%", pct)
				}
			}
		}
		if p.Goal != nil && watcher.Observe(*p.Goal) {
			utils.Log.Infof("Goal reached: %s passed %s", p.Goal.Brand, utils.FormatMoney(p.Goal.Target))
		}
	}
}

func precisionOf(full bool) report.Precision {
	if full {
		return report.Full
	}
	return report.Display
}

func writeCSVs(prefix string, rep report.Report, rows []report.AuditRow, p report.Precision) error {
	write := func(path string, fn func(*os.File) error) error {
		f, err := os.Create(path)
		if err != nil {
			return emverrors.IOFailure("export_failed", err)
		}
		if err := fn(f); err != nil {
			f.Close()
			return emverrors.IOFailure("export_failed", fmt.Errorf("writing %s: %w", path, err))
		}
		if err := f.Close(); err != nil {
			return emverrors.IOFailure("export_failed", err)
		}
		utils.Log.Infof("Wrote %s", path)
		return nil
	}

	prefix = strings.TrimSuffix(prefix, ".csv")
	if err := write(prefix+"-report.csv", func(f *os.File) error { return rep.WriteCSV(f, p) }); err != nil {
		return err
	}
	return write(prefix+"-audit.csv", func(f *os.File) error { return report.WriteAuditCSV(f, rows, p) })
}

func saveSession(ctx context.Context, dbPath string, rec storage.SessionRecord, sess *audit.Session) error {
	absPath, err := utils.PrepareDBPath(dbPath)
	if err != nil {
		return emverrors.IOFailure("archive_unavailable", err)
	}
	lock, err := utils.NewDBLock(absPath, viper.GetDuration("database.lock_timeout"))
	if err != nil {
		return err
	}
	if err := lock.Lock(ctx); err != nil {
		return emverrors.IOFailure("archive_locked", err)
	}
	defer lock.Unlock()

	db, err := storage.Open(absPath)
	if err != nil {
		return emverrors.IOFailure("archive_unavailable", err)
	}
	defer db.Close()

	if err := db.SaveSession(ctx, rec, sess.Ledgers(), sess.AuditLog()); err != nil {
		return emverrors.IOFailure("archive_failed", err)
	}
	return nil
}
