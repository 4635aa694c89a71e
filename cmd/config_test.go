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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/checkout/config"
)

func TestRedactMasksCredentials(t *testing.T) {
	cfg := config.Configuration{
		ProjectName: "checkout",
		Server:      config.ServerConfig{SecretKey: "s3cret", Port: "5005"},
		Gateway:     config.GatewayConfig{APIKey: "CHASECK-123", BaseURL: "https://api.chapa.test"},
		Activation:  config.ActivationConfig{SealingKey: "key"},
		Redis:       config.RedisConfig{Dns: "redis://:pass@localhost:6379"},
	}

	out := redact(cfg)
	assert.Equal(t, redacted, out.Server.SecretKey)
	assert.Equal(t, redacted, out.Gateway.APIKey)
	assert.Equal(t, redacted, out.Activation.SealingKey)
	assert.Equal(t, redacted, out.Redis.Dns)
	assert.Empty(t, out.DataSource.Dns)
	assert.Equal(t, "https://api.chapa.test", out.Gateway.BaseURL)
	assert.Equal(t, "s3cret", cfg.Server.SecretKey, "the original is left untouched")
}

func TestInitializeQueues(t *testing.T) {
	queues := initializeQueues(&config.Configuration{Queue: config.QueueConfig{
		WebhookQueue: "checkout_webhooks",
		SweepQueue:   "checkout_sweep",
	}})
	assert.Equal(t, map[string]int{"checkout_webhooks": 3, "checkout_sweep": 1}, queues)
}
