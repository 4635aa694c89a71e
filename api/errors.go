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

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/checkout"
	"github.com/blnkfinance/checkout/activation"
	"github.com/blnkfinance/checkout/catalog"
	"github.com/blnkfinance/checkout/database"
	"github.com/blnkfinance/checkout/internal/apierror"
	"github.com/blnkfinance/checkout/signals"
)

// toAPIError classifies an orchestrator error. Unknown errors are internal and keep their cause
// out of the message.
func toAPIError(err error) apierror.APIError {
	switch {
	case errors.Is(err, checkout.ErrInvalidRequest), errors.Is(err, checkout.ErrFreePlan):
		return apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), nil)
	case errors.Is(err, signals.ErrMalformedLink):
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	case errors.Is(err, database.ErrNotFound), errors.Is(err, catalog.ErrPlanNotFound), errors.Is(err, signals.ErrUnknownOrder):
		return apierror.NewAPIError(apierror.ErrNotFound, err.Error(), nil)
	case errors.Is(err, checkout.ErrAlreadyDecided),
		errors.Is(err, checkout.ErrNotTimedOut),
		errors.Is(err, checkout.ErrNotAcknowledgeable),
		errors.Is(err, activation.ErrNotEligible),
		errors.Is(err, activation.ErrInProgress),
		errors.Is(err, signals.ErrRefused):
		return apierror.NewAPIError(apierror.ErrConflict, err.Error(), nil)
	case errors.Is(err, checkout.ErrCheckoutFailed),
		errors.Is(err, catalog.ErrUnavailable),
		errors.Is(err, checkout.ErrShuttingDown):
		return apierror.NewAPIError(apierror.ErrUnavailable, err.Error(), nil)
	default:
		return apierror.NewAPIError(apierror.ErrInternalServer, "internal error", err.Error())
	}
}

func respondError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr})
}
