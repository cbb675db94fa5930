package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hed1ad/nidsguard/pkg/artifacts"
	"github.com/hed1ad/nidsguard/pkg/config"
	"github.com/hed1ad/nidsguard/pkg/logging"
	"github.com/hed1ad/nidsguard/pkg/scorer"
)

// app is the state shared by all sub-commands once the config is loaded.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	modelsDir  string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "nidsguard",
		Short:         "Network intrusion scoring on NSL-KDD connection records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", config.DefaultPath, "configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (text, json)")
	flags.StringVar(&a.modelsDir, "models-dir", "", "directory holding the model bundle")

	root.AddCommand(
		newTrainCmd(a),
		newPredictCmd(a),
		newBatchCmd(a),
		newServeCmd(a),
		newSendCmd(a),
		newCaptureCmd(a),
	)

	return root
}

// init loads the config, applies persistent flag overrides and sets up logging.
// Sub-commands apply their own flags before validating.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if a.modelsDir != "" {
		cfg.ModelsDir = a.modelsDir
	}

	a.cfg = cfg
	a.logger = logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, cmd.ErrOrStderr())
	return nil
}

// loadScorer reads the bundle from the models directory.
func (a *app) loadScorer() (*artifacts.Bundle, *scorer.Scorer, error) {
	bundle, err := artifacts.Load(a.cfg.ModelsDir)
	if err != nil {
		return nil, nil, err
	}
	s, err := bundle.NewScorer(scorer.WithLogger(a.logger))
	if err != nil {
		return nil, nil, err
	}
	a.logger.Debug("model loaded",
		slog.String("dir", a.cfg.ModelsDir),
		slog.Int("features", bundle.Manifest.NumFeatures),
		slog.Any("classes", bundle.Manifest.Classes))
	return bundle, s, nil
}
