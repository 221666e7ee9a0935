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
	"os"
	"path/filepath"
	"strings"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/antflydb/nerconll/lib/modelregistry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Version is set by main from the release ldflags.
var Version = "dev"

var (
	cfgFile     string
	registryURL string
	modelsDir   string
)

// modelsEnv names the directory holding the word vector dictionary.
const modelsEnv = "NER_MODELS"

var rootCmd = &cobra.Command{
	Use:   "nerconll",
	Short: "Train, test and serve CoNLL named entity extractors",
	Long: `nerconll trains a two-stage named entity recognizer from CoNLL-2003
style corpora: a chunker proposes spans and a multiclass classifier labels or
rejects each of them.

Training needs a word vector dictionary. Point NER_MODELS (or
models.embeddings_dir in the config file) at the directory holding
word_vectors.txt.`,
	SilenceUsage:      true,
	PersistentPreRunE: checkTrainingFlags,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nerconll.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-style", "terminal", "log style (terminal, json, logfmt, noop)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", modelregistry.DefaultRegistryURL, "model registry URL")
	rootCmd.PersistentFlags().StringVar(&modelsDir, "models-dir", defaultModelsDir(), "directory holding pulled and served models")

	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
	mustBindPFlag("registry_url", rootCmd.PersistentFlags().Lookup("registry"))
	mustBindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))

	addTrainingFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".nerconll")
	}

	viper.SetEnvPrefix("NERCONLL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindEnv("models.embeddings_dir", modelsEnv); err != nil {
		panic(err)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Config file and env values win over flag defaults.
	registryURL = viper.GetString("registry_url")
	modelsDir = viper.GetString("models_dir")
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func defaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".nerconll", "models")
}

// embeddingsDir returns the directory of the word vector dictionary.
func embeddingsDir() (string, error) {
	dir := viper.GetString("models.embeddings_dir")
	if dir == "" {
		return "", fmt.Errorf("%s environment variable not set; it should name the directory holding the word vectors", modelsEnv)
	}
	return dir, nil
}

func newLogger() *zap.Logger {
	return logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
}
