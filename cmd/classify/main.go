package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/Brownie44l1/pet-classifier/internal/config"
	"github.com/Brownie44l1/pet-classifier/internal/decode"
	"github.com/Brownie44l1/pet-classifier/internal/logging"
	"github.com/Brownie44l1/pet-classifier/internal/model"
	"github.com/Brownie44l1/pet-classifier/internal/pipeline"
	"github.com/Brownie44l1/pet-classifier/internal/preprocess"
	"github.com/Brownie44l1/pet-classifier/internal/present"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	imagePath := flag.String("image", "", "image to classify")
	flag.Parse()

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: classify -image <path> [-config <path>]")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	classifier, err := model.Load(cfg.ModelLoadConfig(), logger)
	if err != nil {
		logger.Fatal("failed to initialize classifier", zap.Error(err))
	}
	defer classifier.Close()

	controller := pipeline.New(decode.NewWithConfig(cfg.DecodeConfig()), preprocess.New(), classifier, logger,
		pipeline.WithInferenceTimeout(cfg.Pipeline.InferenceTimeout.Std()))
	defer controller.Close()

	snap := classify(controller, pipeline.File{Path: *imagePath})
	if snap.State != pipeline.ResultAvailable {
		fmt.Fprintf(os.Stderr, "%s failed: %s\n", snap.Failure, snap.Error)
		os.Exit(1)
	}
	printView(os.Stdout, *snap.Result)
}

// classify selects src, predicts once the image is ready and returns the
// final snapshot.
func classify(controller *pipeline.Controller, src pipeline.Source) pipeline.Snapshot {
	updates, unsubscribe := controller.Subscribe(8)
	defer unsubscribe()

	controller.Select(src)
	for snap := range updates {
		switch snap.State {
		case pipeline.Ready:
			controller.Predict()
		case pipeline.ResultAvailable, pipeline.Failed:
			return snap
		}
	}
	return controller.Snapshot()
}

func printView(w io.Writer, view present.View) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range view.Entries {
		marker := ""
		if e.Label == view.Top {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%6.2f%%\t%s\n", e.Label, e.Percent(), marker)
	}
	tw.Flush()
}
