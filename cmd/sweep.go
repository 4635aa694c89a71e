/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"log"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// sweepCommands archives terminal sessions past the retention window, either by queueing the
// sweep for the workers or, with --inline, in this process.
func sweepCommands(app *checkoutInstance) *cobra.Command {
	var inline bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "archive terminal checkout sessions past retention",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			app.mustSetup()
			defer app.close()

			if inline || app.queue == nil {
				n, err := app.orchestrator.Sweep(ctx, time.Now())
				if err != nil {
					log.Fatalf("sweep failed: %v", err)
				}
				logrus.Infof("archived %d sessions", n)
				return
			}

			if err := app.queue.EnqueueSweep(ctx); err != nil {
				log.Fatalf("could not queue sweep: %v", err)
			}
			logrus.Info("sweep queued")
		},
	}
	cmd.Flags().BoolVar(&inline, "inline", false, "run the sweep in this process instead of on a worker")
	return cmd
}
