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
	"github.com/antflydb/nerconll/lib/cli"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available models",
	Long: `List models installed locally or available from the remote registry.

Examples:
  # List local models
  nerconll list

  # List remote models available for download
  nerconll list --remote

  # Filter by model type
  nerconll list --type extractor`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().Bool("remote", false, "List models from remote registry")
	listCmd.Flags().String("type", "", "Filter by model type (extractor, chunker, vectors)")
}

func runList(cmd *cobra.Command, args []string) error {
	remote, _ := cmd.Flags().GetBool("remote")
	typeFilter, _ := cmd.Flags().GetString("type")

	opts := cli.ListOptions{
		RegistryURL: registryURL,
		ModelsDir:   modelsDir,
		TypeFilter:  typeFilter,
		BinaryName:  "nerconll",
		Out:         cmd.OutOrStdout(),
	}

	if remote {
		return cli.ListRemoteModels(cmd.Context(), opts)
	}
	return cli.ListLocalModels(opts)
}
