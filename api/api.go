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

package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/checkout"
	"github.com/blnkfinance/checkout/api/middleware"
	"github.com/blnkfinance/checkout/catalog"
	"github.com/blnkfinance/checkout/config"
)

// PlanLister lists the plans a payer can buy.
type PlanLister interface {
	Plans(ctx context.Context) ([]catalog.Plan, error)
}

type Api struct {
	checkout *checkout.Orchestrator
	plans    PlanLister
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/plans", a.ListPlans)

	router.POST("/checkouts", a.BeginCheckout)
	router.GET("/checkouts/:order_id", a.GetCheckout)
	router.POST("/checkouts/:order_id/navigation", a.ObserveNavigation)
	router.POST("/checkouts/:order_id/cancel", a.CancelCheckout)
	router.POST("/checkouts/:order_id/check-status", a.CheckStatus)
	router.POST("/checkouts/:order_id/retry-activation", a.RetryActivation)
	router.POST("/checkouts/:order_id/acknowledge", a.AcknowledgeCheckout)

	router.POST("/callbacks/deep-link", a.DeliverDeepLink)
	return a.router
}

// NewAPI builds the HTTP surface over the orchestrator. plans may be nil when no catalog is configured.
func NewAPI(o *checkout.Orchestrator, plans PlanLister, conf *config.Configuration) *Api {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware(conf.Server.SecretKey))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{checkout: o, plans: plans, router: r}
}
