// Copyright 2026 Pingclair Authors
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

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"

	"github.com/pingclair/pingclair/reload"
)

// version is overwritten at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pingclair",
		Short: "Pingclair is a reverse proxy and static file server configured by a Caddyfile",
		Long: `Pingclair reads a Caddyfile, compiles it into a routing and proxy
configuration, and serves it: reverse proxying, static files, automatic
TLS via ACME, and zero-downtime reloads on SIGHUP.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "Caddyfile", "path to the Caddyfile")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and compile a Caddyfile without running it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("reading config from file: %w", err)
			}
			if _, err := reload.Compile(configPath, src); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "Caddyfile", "path to the Caddyfile")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pingclair version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

// tuneRuntime matches GOMAXPROCS and the Go memory limit to the
// container's cgroup quota, falling back to the host's own CPU count and
// total memory when no quota is set.
func tuneRuntime(logger *zap.Logger) {
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	defer undo()
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	_, err = memlimit.SetGoMemLimitWithOpts(
		memlimit.WithLogger(slog.New(zapslog.NewHandler(logger.Core()))),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		logger.Warn("failed to set Go memory limit", zap.Error(err))
	}
}
