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
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/antflydb/nerconll"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"run"},
	Short:   "Serve trained extractors over HTTP",
	Long: `Start the extraction node. Extractors are discovered under
<models-dir>/extractors and loaded on first use.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("api-url", "http://localhost:11435", "address the API listens on")
	serveCmd.Flags().String("keep-alive", "5m", "how long an idle extractor stays loaded (0 = forever)")
	serveCmd.Flags().Int("max-loaded-models", 0, "max extractors in memory (0 = unlimited)")
	serveCmd.Flags().Int("pool-size", 0, "concurrent texts per extractor (0 = auto)")
	serveCmd.Flags().StringSlice("preload", nil, "extractors to load at startup")
	serveCmd.Flags().Int("max-concurrent-requests", 0, "concurrent extraction requests (0 = number of CPUs)")
	serveCmd.Flags().Int("max-queue-size", 100, "requests allowed to wait for a slot (0 = unbounded)")
	serveCmd.Flags().String("request-timeout", "30s", "max wait for a slot (0 = no timeout)")
	serveCmd.Flags().String("cache-ttl", "2m", "extraction cache TTL (0 = disabled)")
	serveCmd.Flags().Int("health-port", 4200, "health/metrics server port")

	mustBindPFlag("api_url", serveCmd.Flags().Lookup("api-url"))
	mustBindPFlag("keep_alive", serveCmd.Flags().Lookup("keep-alive"))
	mustBindPFlag("max_loaded_models", serveCmd.Flags().Lookup("max-loaded-models"))
	mustBindPFlag("pool_size", serveCmd.Flags().Lookup("pool-size"))
	mustBindPFlag("preload", serveCmd.Flags().Lookup("preload"))
	mustBindPFlag("max_concurrent_requests", serveCmd.Flags().Lookup("max-concurrent-requests"))
	mustBindPFlag("max_queue_size", serveCmd.Flags().Lookup("max-queue-size"))
	mustBindPFlag("request_timeout", serveCmd.Flags().Lookup("request-timeout"))
	mustBindPFlag("cache_ttl", serveCmd.Flags().Lookup("cache-ttl"))
	mustBindPFlag("health_port", serveCmd.Flags().Lookup("health-port"))
}

func serverConfig() nerconll.Config {
	return nerconll.Config{
		ApiUrl:                viper.GetString("api_url"),
		ModelsDir:             modelsDir,
		KeepAlive:             viper.GetString("keep_alive"),
		MaxLoadedModels:       viper.GetInt("max_loaded_models"),
		PoolSize:              viper.GetInt("pool_size"),
		Preload:               viper.GetStringSlice("preload"),
		MaxConcurrentRequests: viper.GetInt("max_concurrent_requests"),
		MaxQueueSize:          viper.GetInt("max_queue_size"),
		RequestTimeout:        viper.GetString("request_timeout"),
		CacheTTL:              viper.GetString("cache_ttl"),
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	nerconll.Version = Version
	cfg := serverConfig()

	// Track readiness state
	ready := &atomic.Bool{}
	readyC := make(chan struct{})

	healthserver.Start(logger, viper.GetInt("health_port"), ready.Load)

	go func() {
		select {
		case <-readyC:
			ready.Store(true)
			logger.Info("Extraction node is ready")
		case <-ctx.Done():
		}
	}()

	return nerconll.RunAsServer(ctx, logger, cfg, readyC)
}
