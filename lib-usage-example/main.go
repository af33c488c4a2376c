package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sw33tLie/emvscope/pkg/audit"
	"github.com/sw33tLie/emvscope/pkg/brands"
	"github.com/sw33tLie/emvscope/pkg/detection"
	"github.com/sw33tLie/emvscope/pkg/detector"
	"github.com/sw33tLie/emvscope/pkg/report"
	"github.com/sw33tLie/emvscope/pkg/valuation"
)

func main() {
	// Usage: go run *.go -replay detections.jsonl -benchmark social

	replayFlag := flag.String("replay", "", "JSON-lines file of recorded detections")
	benchmarkFlag := flag.String("benchmark", "tv", "Pricing benchmark: tv or social")
	brandFlag := flag.String("brand", "Aramco", "Brand to value")

	// Parse the command-line flags
	flag.Parse()

	if *replayFlag == "" {
		fmt.Println("A replay file is required. Please provide it using -replay flag.")
		return
	}

	vocab, err := brands.New([]brands.Rule{{Name: *brandFlag, Match: brands.MatchContains, Labels: []string{*brandFlag}}})
	if err != nil {
		log.Fatal(err)
	}
	pricing, err := valuation.Preset(*benchmarkFlag)
	if err != nil {
		log.Fatal(err)
	}

	replay, err := detector.OpenReplay(*replayFlag, detection.FrameContext{Width: 1920, Height: 1080, FPS: 30, TotalFrames: -1})
	if err != nil {
		log.Fatal(err)
	}
	defer replay.Close()

	// Any detection.Detector works here, e.g. detector.NewHosted for a live model
	sess, err := audit.New(audit.Config{
		Asset:      *replayFlag,
		Pricing:    pricing,
		Vocabulary: vocab,
		Detector:   detection.WithPostprocessors(replay, detection.NewScoreFilter(0.40)),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		log.Fatal(err)
	}
	if _, err := sess.Run(ctx, replay); err != nil {
		log.Fatal(err)
	}

	report.Snapshot(sess.Ledgers()).Render(os.Stdout)
}
