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

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/checkout/config"
	"github.com/blnkfinance/checkout/internal/request"
	"github.com/sirupsen/logrus"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func slackMessage(project string, err error, at time.Time) json.RawMessage {
	blocks := map[string]interface{}{
		"blocks": []interface{}{
			map[string]interface{}{
				"type": "header",
				"text": map[string]interface{}{
					"type":  "plain_text",
					"text":  fmt.Sprintf("Error From %s 🐞", project),
					"emoji": true,
				},
			},
			map[string]interface{}{
				"type": "section",
				"fields": []interface{}{
					map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*Error:*\n%v", err)},
				},
			},
			map[string]interface{}{
				"type": "section",
				"fields": []interface{}{
					map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822))},
				},
			},
		},
	}
	data, _ := json.Marshal(blocks)
	return data
}

// SlackNotification posts the error to a Slack incoming webhook.
func SlackNotification(ctx context.Context, webhookURL, project string, systemError error) error {
	resp, err := request.Do(ctx, httpClient, http.MethodPost, webhookURL, slackMessage(project, systemError, time.Now()), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyError logs the error and, when Slack is configured, forwards it in the background.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			logrus.Warn(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := SlackNotification(ctx, conf.Notification.Slack.WebhookUrl, conf.ProjectName, systemError); err != nil {
			logrus.Errorf("slack notification failed: %v", err)
		}
	}(systemError)
}
