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
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/checkout"
	"github.com/blnkfinance/checkout/config"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.WebhookQueue: 3,
		conf.Queue.SweepQueue:   1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := checkout.RedisConnOpt(conf)
	if err != nil {
		return nil, err
	}

	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency: 4,
		Queues:      queues,
	}), nil
}

func initializeTaskHandlers(app *checkoutInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(app.cnf.Queue.WebhookQueue, checkout.ProcessWebhook)
	mux.Handle(app.cnf.Queue.SweepQueue, checkout.SweepHandler(app.orchestrator))
}

// initializeScheduler registers the periodic retention sweep.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := checkout.RedisConnOpt(conf)
	if err != nil {
		return nil, err
	}
	scheduler := asynq.NewScheduler(redisOption, nil)
	queue := conf.Queue.SweepQueue
	if _, err := scheduler.Register(conf.Queue.SweepInterval, asynq.NewTask(queue, nil), asynq.Queue(queue), asynq.MaxRetry(1)); err != nil {
		return nil, fmt.Errorf("error scheduling sweep %q: %v", conf.Queue.SweepInterval, err)
	}
	return scheduler, nil
}

// workerCommands defines the "workers" command. Workers deliver presentation webhooks and run
// the scheduled retention sweep.
func workerCommands(app *checkoutInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start checkout workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := app.cnf

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			app.mustSetup()
			defer app.close()

			srv, err := initializeWorkerServer(conf, initializeQueues(conf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			redisOption, _ := checkout.RedisConnOpt(conf)
			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: redisOption,
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
