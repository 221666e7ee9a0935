// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	json "github.com/antflydb/antfly-go/libaf/json"
	"github.com/antflydb/nerconll"
	"github.com/antflydb/nerconll/lib/chunking"
	"github.com/antflydb/nerconll/lib/classification"
	"github.com/antflydb/nerconll/lib/corpus"
	"github.com/antflydb/nerconll/lib/evaluation"
	"github.com/antflydb/nerconll/lib/features"
	"github.com/antflydb/nerconll/lib/ner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// trainingAnnotation marks commands that accept the optimizer flags.
const trainingAnnotation = "training"

const (
	flagC         = "C"
	flagEps       = "eps"
	flagThreads   = "threads"
	flagCacheSize = "cache-size"
)

var trainingFlags = []string{flagC, flagEps, flagThreads, flagCacheSize}

func addTrainingFlags(fs *pflag.FlagSet) {
	fs.Float64(flagC, 0, "SVM C parameter (default 15 for train-chunker, 450 for train-id)")
	fs.Float64(flagEps, 0, "SVM stopping epsilon (default 0.01 for train-chunker, 0.001 for train-id)")
	fs.Int(flagThreads, 4, "number of training threads")
	fs.Int(flagCacheSize, 5, "max cutting plane cache size of the chunker trainer")
}

// checkTrainingFlags range checks the optimizer flags and rejects them on
// commands that do not train.
func checkTrainingFlags(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	if _, ok := cmd.Annotations[trainingAnnotation]; !ok {
		for _, name := range trainingFlags {
			if fs.Changed(name) {
				return fmt.Errorf("option --%s is only valid with train-chunker and train-id", name)
			}
		}
		return nil
	}

	if fs.Changed(flagC) {
		if c, _ := fs.GetFloat64(flagC); c < 1e-9 || c > 1e9 {
			return fmt.Errorf("--%s must be in [1e-9, 1e9], got %g", flagC, c)
		}
	}
	if threads, _ := fs.GetInt(flagThreads); threads < 1 || threads > 64 {
		return fmt.Errorf("--%s must be in [1, 64], got %d", flagThreads, threads)
	}
	if size, _ := fs.GetInt(flagCacheSize); size < 0 || size > 500 {
		return fmt.Errorf("--%s must be in [0, 500], got %d", flagCacheSize, size)
	}
	return nil
}

var trainChunkerCmd = &cobra.Command{
	Use:   "train-chunker <conll-file>",
	Short: "Train the NER chunker on CoNLL data",
	Long: `Train the span proposal stage on the gold spans of a CoNLL file and
write the chunker model. Needs NER_MODELS to point at the word vectors.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{trainingAnnotation: "true"},
	RunE:        runTrainChunker,
}

var testChunkerCmd = &cobra.Command{
	Use:   "test-chunker <conll-file>",
	Short: "Test the NER chunker on CoNLL data",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestChunker,
}

var trainIDCmd = &cobra.Command{
	Use:   "train-id <conll-file>",
	Short: "Train the NER ID/classification stage on CoNLL data",
	Long: `Run the trained chunker over a CoNLL file, label the union of its spans and
the gold spans, train the span classifier and write the composed extractor.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{trainingAnnotation: "true"},
	RunE:        runTrainID,
}

var testIDCmd = &cobra.Command{
	Use:   "test-id <conll-file>",
	Short: "Test the NER ID/classification stage on CoNLL data",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestID,
}

func init() {
	rootCmd.AddCommand(trainChunkerCmd, testChunkerCmd, trainIDCmd, testIDCmd)

	trainChunkerCmd.Flags().StringP("output", "o", ner.ChunkerFile, "where to write the trained chunker")

	testChunkerCmd.Flags().String("chunker-model", ner.ChunkerFile, "trained chunker to test")

	trainIDCmd.Flags().String("chunker-model", ner.ChunkerFile, "trained chunker to build on")
	trainIDCmd.Flags().StringP("output", "o", ner.ExtractorFile, "where to write the trained extractor")

	testIDCmd.Flags().String("model", ner.ExtractorFile, "trained extractor to test")
	testIDCmd.Flags().String("format", "text", "report format (text, json, yaml)")
}

func loadCorpus(w io.Writer, path string) (*corpus.Corpus, error) {
	c, err := corpus.ReadFile(path, corpus.DefaultCodes)
	if err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintf(w, "number of sentences loaded: %d\n", len(c.Sentences))
	return c, nil
}

func runTrainChunker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := newLogger()
	defer func() { _ = logger.Sync() }()
	out := cmd.OutOrStdout()

	dir, err := embeddingsDir()
	if err != nil {
		return err
	}
	cfg := chunking.DefaultTrainerConfig()
	fs := cmd.Flags()
	if fs.Changed(flagC) {
		cfg.C, _ = fs.GetFloat64(flagC)
	}
	if fs.Changed(flagEps) {
		cfg.Epsilon, _ = fs.GetFloat64(flagEps)
	}
	cfg.Threads, _ = fs.GetInt(flagThreads)
	cfg.CacheSize, _ = fs.GetInt(flagCacheSize)
	cfg.Logger = logger
	if err := cfg.Validate(); err != nil {
		return err
	}
	output, _ := fs.GetString("output")

	c, err := loadCorpus(out, args[0])
	if err != nil {
		return err
	}
	dict, err := features.LoadDictionary(dir)
	if err != nil {
		return err
	}
	emb := features.NewEmbedder(dict, features.Config{})
	_, _ = fmt.Fprintf(out, "words in dictionary: %d\n", emb.NumWords())
	_, _ = fmt.Fprintf(out, "num features: %d\n", emb.Dims())
	_, _ = fmt.Fprintln(out, "now do training")
	_, _ = fmt.Fprintf(out, "C:           %g\n", cfg.C)
	_, _ = fmt.Fprintf(out, "epsilon:     %g\n", cfg.Epsilon)
	_, _ = fmt.Fprintf(out, "num threads: %d\n", cfg.Threads)
	_, _ = fmt.Fprintf(out, "cache size:  %d\n", cfg.CacheSize)

	m, report, err := ner.TrainChunker(ctx, c, emb, cfg)
	nerconll.RecordTrainingRun("chunker", report.Stats.Epochs, err)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "num feats in chunker model: %d\n", report.NumFeatures)
	_, _ = fmt.Fprintf(out, "precision, recall, f1-score: %s\n", report.Train)

	if err := ner.SaveChunker(output, m); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote %s (run %s)\n", output, m.Meta.RunID)
	return nil
}

func runTestChunker(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path, _ := cmd.Flags().GetString("chunker-model")
	threads, _ := cmd.Flags().GetInt(flagThreads)

	c, err := loadCorpus(out, args[0])
	if err != nil {
		return err
	}
	m, err := ner.LoadChunker(path)
	if err != nil {
		return err
	}
	score, err := ner.TestChunker(cmd.Context(), m, c, threads)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "precision, recall, f1-score: %s\n", score)
	return nil
}

func runTrainID(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := newLogger()
	defer func() { _ = logger.Sync() }()
	out := cmd.OutOrStdout()

	cfg := classification.DefaultTrainerConfig()
	fs := cmd.Flags()
	if fs.Changed(flagC) {
		cfg.C, _ = fs.GetFloat64(flagC)
	}
	if fs.Changed(flagEps) {
		cfg.Epsilon, _ = fs.GetFloat64(flagEps)
	}
	cfg.Threads, _ = fs.GetInt(flagThreads)
	cfg.Logger = logger
	if err := cfg.Validate(); err != nil {
		return err
	}
	chunkerPath, _ := fs.GetString("chunker-model")
	output, _ := fs.GetString("output")

	c, err := loadCorpus(out, args[0])
	if err != nil {
		return err
	}
	m, err := ner.LoadChunker(chunkerPath)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, "now do training")
	e, report, err := ner.TrainClassifier(ctx, c, m, ner.DefaultLabelSet(), cfg)
	nerconll.RecordTrainingRun("classifier", report.Stats.Epochs, err)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "num training samples: %d\n", report.NumSamples)
	_, _ = fmt.Fprintf(out, "test on train: \n%s\n", report.Confusion)
	_, _ = fmt.Fprintf(out, "overall accuracy: %s\n", report.Accuracy)
	_, _ = fmt.Fprintf(out, "C:           %g\n", cfg.C)
	_, _ = fmt.Fprintf(out, "epsilon:     %g\n", cfg.Epsilon)
	_, _ = fmt.Fprintf(out, "num_threads: %d\n", cfg.Threads)

	if err := ner.SaveExtractor(output, e); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote %s (run %s)\n", output, e.Meta.RunID)
	return nil
}

func runTestID(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path, _ := cmd.Flags().GetString("model")
	format, _ := cmd.Flags().GetString("format")
	threads, _ := cmd.Flags().GetInt(flagThreads)
	switch format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown --format %q (want text, json or yaml)", format)
	}

	e, err := ner.LoadExtractor(path)
	if err != nil {
		return err
	}
	// keep structured reports parseable
	countOut := out
	if format != "text" {
		countOut = cmd.ErrOrStderr()
	}
	c, err := loadCorpus(countOut, args[0])
	if err != nil {
		return err
	}
	report, err := ner.Evaluate(cmd.Context(), e, c, threads)
	if err != nil {
		return err
	}
	return writeReport(out, report, format)
}

func writeReport(w io.Writer, r *evaluation.Report, format string) error {
	switch format {
	case "json":
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := io.WriteString(w, r.String())
		return err
	}
}

