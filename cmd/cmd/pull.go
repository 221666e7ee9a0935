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

	"github.com/antflydb/nerconll/lib/cli"
	"github.com/antflydb/nerconll/lib/modelstore"
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <model-name|s3-url> [...]",
	Short: "Pull model(s) from the registry or object storage",
	Long: `Download one or more models into the models directory.

Models are written to the directory of their type:
  - Extractors:   models/extractors/<model-name>/
  - Chunkers:     models/chunkers/<model-name>/
  - Word vectors: models/vectors/<model-name>/

Examples:
  # Pull an extractor from the registry
  nerconll pull conll2003-en

  # Pull an owned model
  nerconll pull antfly/news-ner

  # Pull from S3/MinIO (the type is required)
  nerconll pull --type extractor --s3-endpoint localhost:9000 s3://models/conll/ner_model.dat`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().String("type", "", "model type for s3:// sources (extractor, chunker, vectors)")
	pullCmd.Flags().String("name", "", "local name for s3:// sources (defaults to the object's directory)")
	addStoreFlags(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	modelType, _ := cmd.Flags().GetString("type")
	name, _ := cmd.Flags().GetString("name")
	out := cmd.OutOrStdout()

	var store cli.ObjectStore
	for _, ref := range args {
		_, _ = fmt.Fprintf(out, "\n=== Pulling %s ===\n", ref)

		if modelstore.IsURL(ref) {
			if store == nil {
				s, err := newStore(cmd)
				if err != nil {
					return err
				}
				store = s
			}
			if _, err := cli.PullFromStore(cmd.Context(), store, ref, cli.StorePullOptions{
				ModelsDir: modelsDir,
				ModelType: modelType,
				Name:      name,
				Out:       out,
			}); err != nil {
				return fmt.Errorf("failed to pull %s: %w", ref, err)
			}
			continue
		}

		if _, err := cli.PullFromRegistry(cmd.Context(), ref, cli.PullOptions{
			RegistryURL: registryURL,
			ModelsDir:   modelsDir,
			Out:         out,
		}); err != nil {
			return fmt.Errorf("failed to pull %s: %w", ref, err)
		}
	}
	return nil
}
