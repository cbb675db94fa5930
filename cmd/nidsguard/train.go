package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/hed1ad/nidsguard/pkg/features"
	"github.com/hed1ad/nidsguard/pkg/io/csv"
	"github.com/hed1ad/nidsguard/pkg/training"
)

func newTrainCmd(a *app) *cobra.Command {
	var (
		trainFile, testFile           string
		syntheticTrain, syntheticTest int
		trees, maxDepth               int
		contamination                 float64
		seed                          int64
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier and anomaly detector and save the model bundle",
		Long: `Train fits the feature schema, scaler, label mapping, random forest and
isolation forest, prints an evaluation report and writes the bundle to the
models directory.

Data comes from NSL-KDD files (41 features, class, difficulty) or, when no
training file is configured, from synthetic records.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := &a.cfg.Training
			f := cmd.Flags()
			if f.Changed("train") {
				t.TrainFile = trainFile
			}
			if f.Changed("test") {
				t.TestFile = testFile
			}
			if f.Changed("synthetic-train") {
				t.SyntheticTrain = syntheticTrain
			}
			if f.Changed("synthetic-test") {
				t.SyntheticTest = syntheticTest
			}
			if f.Changed("trees") {
				t.Trees = trees
			}
			if f.Changed("max-depth") {
				t.MaxDepth = maxDepth
			}
			if f.Changed("contamination") {
				t.Contamination = contamination
			}
			if f.Changed("seed") {
				t.Seed = seed
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			train, test, err := a.loadTrainingData()
			if err != nil {
				return err
			}

			cfg := training.DefaultConfig()
			cfg.Trees = t.Trees
			cfg.MaxDepth = t.MaxDepth
			cfg.AnomalyTrees = t.AnomalyTrees
			cfg.AnomalySampleSize = t.AnomalySampleSize
			cfg.Contamination = t.Contamination
			cfg.Seed = t.Seed

			bundle, report, err := training.NewTrainer(cfg, a.logger).Train(train, test)
			if err != nil {
				return err
			}
			if err := bundle.Save(a.cfg.ModelsDir); err != nil {
				return fmt.Errorf("save models: %w", err)
			}
			a.logger.Info("models saved", slog.String("dir", a.cfg.ModelsDir))

			return report.WriteText(cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&trainFile, "train", "", "NSL-KDD training file")
	f.StringVar(&testFile, "test", "", "NSL-KDD test file (default: 20% of the training file)")
	f.IntVar(&syntheticTrain, "synthetic-train", 0, "synthetic training rows when no training file is given")
	f.IntVar(&syntheticTest, "synthetic-test", 0, "synthetic test rows when no test file is given")
	f.IntVar(&trees, "trees", 0, "random forest size")
	f.IntVar(&maxDepth, "max-depth", 0, "random forest depth limit (0 = unlimited)")
	f.Float64Var(&contamination, "contamination", 0, "expected anomaly share of normal traffic")
	f.Int64Var(&seed, "seed", 0, "random seed")

	return cmd
}

func (a *app) loadTrainingData() (train, test []features.LabeledRecord, err error) {
	t := a.cfg.Training
	rng := rand.New(rand.NewSource(t.Seed))

	if t.TrainFile != "" {
		train, err = a.readKDD(t.TrainFile)
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info("training data loaded", slog.String("file", t.TrainFile), slog.Int("rows", len(train)))
	} else {
		train = training.Synthetic(t.SyntheticTrain, rng)
		a.logger.Info("using synthetic training data", slog.Int("rows", len(train)))
	}

	switch {
	case t.TestFile != "":
		test, err = a.readKDD(t.TestFile)
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info("test data loaded", slog.String("file", t.TestFile), slog.Int("rows", len(test)))
	case t.TrainFile != "":
		train, test = training.Split(train, 0.2, t.Seed)
		a.logger.Info("holding out 20% of the training file", slog.Int("rows", len(test)))
	case t.SyntheticTest > 0:
		test = training.Synthetic(t.SyntheticTest, rng)
	}

	return train, test, nil
}

func (a *app) readKDD(path string) ([]features.LabeledRecord, error) {
	r, err := csv.NewReader(path, csv.WithClassMapper(training.CategorizeAttack))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rows, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if r.Skipped() > 0 {
		a.logger.Warn("skipped malformed rows", slog.String("file", path), slog.Int("rows", r.Skipped()))
	}
	return rows, nil
}
