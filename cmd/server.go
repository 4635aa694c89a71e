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
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/checkout"
	"github.com/blnkfinance/checkout/api"
	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/internal/traces"
)

const shutdownTimeout = 30 * time.Second

/*
newServer builds the HTTP server for the router. With SSL enabled, CertMagic manages the
certificate for the configured domain, or localhost when none is set.
*/
func newServer(ctx context.Context, r *gin.Engine, conf config.ServerConfig) (*http.Server, error) {
	server := &http.Server{
		Addr:    ":" + conf.Port,
		Handler: r,
	}
	if !conf.SSL {
		return server, nil
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}
	if err := cfg.ManageSync(ctx, domains); err != nil {
		return nil, err
	}
	server.TLSConfig = cfg.TLSConfig()
	return server, nil
}

func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := traces.SetupOTelSDK(ctx, cfg.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// serve runs the server until ctx is cancelled, then drains HTTP requests and running watches.
func serve(ctx context.Context, server *http.Server, o *checkout.Orchestrator, tls bool) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls {
			log.Printf("Starting HTTPS server on %s\n", server.Addr)
			err = server.ListenAndServeTLS("", "")
		} else {
			log.Printf("Starting server on http://localhost%s", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("error shutting down http server: %v", err)
	}
	return o.Shutdown(shutdownCtx)
}

/*
serverCommands returns the Cobra command that starts the checkout API. Sessions left in flight
by a previous run are resumed before the server accepts requests.
*/
func serverCommands(app *checkoutInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start checkout server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeObservability(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			app.mustSetup()
			defer app.close()

			report, err := app.orchestrator.Resume(ctx)
			if err != nil {
				logrus.Errorf("error resuming sessions: %v", err)
			} else {
				logrus.WithFields(logrus.Fields{
					"watching":   report.Watching,
					"activating": report.Activating,
				}).Info("resumed checkout sessions")
			}

			router := api.NewAPI(app.orchestrator, app.orchestrator, app.cnf).Router()
			server, err := newServer(ctx, router, app.cnf.Server)
			if err != nil {
				log.Fatal(err)
			}
			if err := serve(ctx, server, app.orchestrator, app.cnf.Server.SSL); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
