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

package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/internal/request"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// NewWebhook is the body posted to the presentation webhook.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

var webhookClient = &http.Client{Timeout: 15 * time.Second}

func processHTTP(ctx context.Context, conf *config.Configuration, data NewWebhook) error {
	resp, err := request.Do(ctx, webhookClient, http.MethodPost, conf.Notification.Webhook.Url, data, conf.Notification.Webhook.Headers)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// A rejecting endpoint will not change its mind on retry.
		logrus.Warnf("webhook %s rejected with status %d", data.Event, resp.StatusCode)
		return fmt.Errorf("webhook rejected with status %d: %w", resp.StatusCode, asynq.SkipRetry)
	}
	return nil
}

// ProcessWebhook delivers a queued webhook task.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("error unmarshaling webhook task payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logrus.Infof("processing webhook: %s", payload.Event)
	if err := processHTTP(ctx, conf, payload); err != nil {
		return err
	}
	logrus.Infof("webhook %s delivered", payload.Event)
	return nil
}

// SweepHandler returns the worker handler for retention sweep tasks.
func SweepHandler(o *Orchestrator) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		_, err := o.Sweep(ctx, time.Now())
		return err
	}
}
