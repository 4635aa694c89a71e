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
	"fmt"
	"log"
	"os"

	"github.com/blnkfinance/checkout"
	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/database"
	"github.com/blnkfinance/checkout/internal/notification"
	redis_db "github.com/blnkfinance/checkout/internal/redis-db"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Checkout represents the CLI application, encapsulating the root Cobra command.
type Checkout struct {
	cmd *cobra.Command
}

// checkoutInstance holds the runtime objects shared by the commands. Only cnf is populated
// before a command runs; the rest is built on demand by setup.
type checkoutInstance struct {
	cnf          *config.Configuration
	orchestrator *checkout.Orchestrator
	queue        *checkout.Queue
	redis        *redis_db.Redis
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration before any command runs.
func preRun(app *checkoutInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		return nil
	}
}

// setup connects the store, Redis and the queue and builds the orchestrator.
func (app *checkoutInstance) setup() error {
	if app.orchestrator != nil {
		return nil
	}

	var rc redis.UniversalClient
	if app.cnf.Redis.Dns != "" {
		r, err := redis_db.NewFromConfig(app.cnf.Redis)
		if err != nil {
			return fmt.Errorf("error connecting to redis: %v", err)
		}
		app.redis = r
		rc = r.Client()
	}

	store, err := database.NewSessionStore(app.cnf, rc)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	var notifier checkout.Notifier
	if app.cnf.Redis.Dns != "" {
		q, err := checkout.NewQueue(app.cnf)
		if err != nil {
			return fmt.Errorf("error creating queue: %v", err)
		}
		app.queue = q
		notifier = q
	} else {
		logrus.Warn("no redis configured, presentation webhooks are disabled")
	}

	o, err := checkout.NewFromConfig(app.cnf, store, rc, notifier)
	if err != nil {
		return fmt.Errorf("error creating orchestrator: %v", err)
	}
	app.orchestrator = o
	return nil
}

// mustSetup is setup for commands that cannot run without the orchestrator.
func (app *checkoutInstance) mustSetup() {
	if err := app.setup(); err != nil {
		notification.NotifyError(err)
		log.Fatal(err)
	}
}

func (app *checkoutInstance) close() {
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			logrus.Warnf("error closing queue: %v", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logrus.Warnf("error closing redis: %v", err)
		}
	}
}

// NewCLI creates the command-line interface for the checkout orchestrator.
func NewCLI() *Checkout {
	var configFile string
	app := &checkoutInstance{}

	var rootCmd = &cobra.Command{
		Use:   "checkout",
		Short: "Payment completion and account activation",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./checkout.json", "Configuration file for the checkout orchestrator")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(sweepCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Checkout{cmd: rootCmd}
}

func (c Checkout) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
