// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd implements the command-line surface, built with
// github.com/spf13/cobra: a root command with "agent" and "version"
// subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packetd/netpipe/common"
)

var rootCmd = &cobra.Command{
	Use:   common.App,
	Short: "A handler-chain TCP pipeline agent",
	Long: "packetd is a netty-style, event-driven TCP pipeline agent: " +
		"it accepts connections, frames their bytes, correlates requests " +
		"with responses, and exports the result as metrics, traces and " +
		"round-trip records.",
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
