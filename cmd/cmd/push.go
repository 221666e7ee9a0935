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
	"github.com/antflydb/nerconll/lib/modelstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var pushCmd = &cobra.Command{
	Use:   "push <model> <s3-url>",
	Short: "Push a trained model to S3/MinIO",
	Long: `Upload a model file, or the primary file of a model directory, to object
storage. The model is opened first so broken files never leave the machine.

Examples:
  nerconll push --type extractor ner_model.dat s3://models/conll/
  nerconll push --type chunker --s3-endpoint localhost:9000 --s3-ssl=false \
      trained_segmenter.dat s3://models/conll/trained_segmenter.dat`,
	Args: cobra.ExactArgs(2),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().String("type", "extractor", "model type (extractor, chunker, vectors)")
	addStoreFlags(pushCmd)
}

// addStoreFlags registers the object storage connection flags on c.
func addStoreFlags(c *cobra.Command) {
	c.Flags().String("s3-endpoint", "", "S3/MinIO endpoint (host:port)")
	c.Flags().String("s3-access-key", "", "S3 access key")
	c.Flags().String("s3-secret-key", "", "S3 secret key")
	c.Flags().String("s3-region", "", "S3 region")
	c.Flags().Bool("s3-ssl", true, "use TLS to reach the endpoint")
}

// newStore builds an object store from the command's flags, falling back to
// the s3.* config keys.
func newStore(c *cobra.Command) (*modelstore.Store, error) {
	fs := c.Flags()
	str := func(flag, key string) string {
		if fs.Changed(flag) {
			v, _ := fs.GetString(flag)
			return v
		}
		return viper.GetString(key)
	}
	useSSL, _ := fs.GetBool("s3-ssl")
	if !fs.Changed("s3-ssl") && viper.IsSet("s3.use_ssl") {
		useSSL = viper.GetBool("s3.use_ssl")
	}
	return modelstore.New(modelstore.Config{
		Endpoint:  str("s3-endpoint", "s3.endpoint"),
		AccessKey: str("s3-access-key", "s3.access_key"),
		SecretKey: str("s3-secret-key", "s3.secret_key"),
		Region:    str("s3-region", "s3.region"),
		UseSSL:    useSSL,
	}, newLogger().Named("modelstore"))
}

func runPush(cmd *cobra.Command, args []string) error {
	modelType, _ := cmd.Flags().GetString("type")
	store, err := newStore(cmd)
	if err != nil {
		return err
	}
	_, err = cli.PushToStore(cmd.Context(), store, args[0], args[1], cli.PushOptions{
		ModelType: modelType,
		Out:       cmd.OutOrStdout(),
	})
	return err
}
