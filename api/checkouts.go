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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/checkout"
	"github.com/blnkfinance/checkout/activation"
	model2 "github.com/blnkfinance/checkout/api/model"
	"github.com/blnkfinance/checkout/catalog"
)

func (a Api) ListPlans(c *gin.Context) {
	if a.plans == nil {
		respondError(c, catalog.ErrUnavailable)
		return
	}
	plans, err := a.plans.Plans(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plans)
}

func (a Api) BeginCheckout(c *gin.Context) {
	var newCheckout model2.CreateCheckout
	if err := c.ShouldBindJSON(&newCheckout); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := newCheckout.ValidateCreateCheckout()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	session, err := a.checkout.Begin(c.Request.Context(), newCheckout.ToBeginRequest())
	if err != nil {
		if errors.Is(err, checkout.ErrCheckoutFailed) && session != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": toAPIError(err), "session": session.View()})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session.View())
}

func (a Api) GetCheckout(c *gin.Context) {
	orderID, passed := c.Params.Get("order_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required. pass order_id in the route /:order_id"})
		return
	}

	view, err := a.checkout.View(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a Api) ObserveNavigation(c *gin.Context) {
	orderID := c.Param("order_id")
	var nav model2.Navigation
	if err := c.ShouldBindJSON(&nav); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := nav.ValidateNavigation(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	status, matched, err := a.checkout.ObserveNavigation(c.Request.Context(), orderID, nav.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": matched, "status": status})
}

func (a Api) DeliverDeepLink(c *gin.Context) {
	var link model2.DeepLink
	if err := c.ShouldBindJSON(&link); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := link.ValidateDeepLink(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	event, err := a.checkout.DeliverDeepLink(c.Request.Context(), link.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, event)
}

func (a Api) CancelCheckout(c *gin.Context) {
	session, err := a.checkout.Cancel(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.View())
}

func (a Api) CheckStatus(c *gin.Context) {
	session, err := a.checkout.CheckStatus(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, session.View())
}

// RetryActivation answers with the session view even when the retry fails again, since the
// view already tells the payer the payment went through.
func (a Api) RetryActivation(c *gin.Context) {
	session, err := a.checkout.RetryActivation(c.Request.Context(), c.Param("order_id"))
	if err != nil && !(errors.Is(err, activation.ErrActivationFailed) && session != nil) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.View())
}

func (a Api) AcknowledgeCheckout(c *gin.Context) {
	session, err := a.checkout.Acknowledge(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.View())
}
