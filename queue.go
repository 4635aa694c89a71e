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
	"errors"
	"fmt"

	"github.com/blnkfinance/checkout/config"
	redis_db "github.com/blnkfinance/checkout/internal/redis-db"
	"github.com/blnkfinance/checkout/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// RedisConnOpt converts the configured Redis DNS into asynq connection options. Only the first
// address is used; asynq talks to a single node here.
func RedisConnOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	addresses := redis_db.SplitAddresses(conf.Redis.Dns)
	if len(addresses) == 0 {
		return asynq.RedisClientOpt{}, errors.New("queue requires a redis dns")
	}
	redisOption, err := redis_db.ParseRedisURL(addresses[0], conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// Queue enqueues presentation webhooks and sweep jobs.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      *config.Configuration
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisConnOpt(conf)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		conf:      conf,
	}, nil
}

// Notify queues a webhook for the session event. Each event is queued at most once per order.
// Nothing is queued when no webhook URL is configured.
func (q *Queue) Notify(ctx context.Context, event string, view model.SessionView) error {
	if q.conf.Notification.Webhook.Url == "" {
		return nil
	}
	payload, err := json.Marshal(NewWebhook{Event: event, Payload: view})
	if err != nil {
		return err
	}

	queue := q.conf.Queue.WebhookQueue
	task := asynq.NewTask(queue, payload)
	info, err := q.Client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.TaskID(webhookTaskID(event, view.OrderID)),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithField("order_id", view.OrderID).Debugf("%s webhook already queued", event)
		return nil
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"order_id": view.OrderID, "task_id": info.ID}).Infof("queued %s webhook", event)
	return nil
}

// EnqueueSweep queues a retention sweep to run on a worker.
func (q *Queue) EnqueueSweep(ctx context.Context) error {
	queue := q.conf.Queue.SweepQueue
	_, err := q.Client.EnqueueContext(ctx, asynq.NewTask(queue, nil), asynq.Queue(queue), asynq.MaxRetry(1))
	return err
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		logrus.Warn(err)
	}
	return q.Client.Close()
}

func webhookTaskID(event, orderID string) string {
	return fmt.Sprintf("%s:%s", orderID, event)
}
