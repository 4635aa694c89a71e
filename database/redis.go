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

package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/blnkfinance/checkout/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const maxTxRetries = 10

// RedisStore keeps one JSON record per order plus one index set per status.
// Compare-and-set runs inside a WATCH/MULTI optimistic transaction.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "checkout"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) sessionKey(orderID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, orderID)
}

func (r *RedisStore) statusKey(status model.SessionStatus) string {
	return fmt.Sprintf("%s:status:%s", r.prefix, status)
}

func (r *RedisStore) Put(ctx context.Context, session *model.CheckoutSession) error {
	if err := validateNew(session); err != nil {
		return err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode checkout session: %w", err)
	}

	// Index first: ListByStatus skips entries without a matching record, but a record
	// missing from its index would never be resumed.
	if err := r.client.SAdd(ctx, r.statusKey(session.Status), session.OrderID).Err(); err != nil {
		return fmt.Errorf("failed to index checkout session: %w", err)
	}
	created, err := r.client.SetNX(ctx, r.sessionKey(session.OrderID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store checkout session: %w", err)
	}
	if !created {
		return ErrExists
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	return r.get(ctx, r.client, orderID)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) get(ctx context.Context, c stringGetter, orderID string) (*model.CheckoutSession, error) {
	data, err := c.Get(ctx, r.sessionKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkout session: %w", err)
	}
	var s model.CheckoutSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) CompareAndSetStatus(ctx context.Context, orderID string, expected model.SessionStatus, t model.Transition) (bool, error) {
	key := r.sessionKey(orderID)
	var swapped bool

	txf := func(tx *redis.Tx) error {
		swapped = false
		current, err := r.get(ctx, tx, orderID)
		if err != nil {
			return err
		}
		ok, err := guard(current, expected, t)
		if !ok || err != nil {
			return err
		}

		prev := current.Status
		t.Apply(current)
		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("failed to encode checkout session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if prev != current.Status {
				pipe.SRem(ctx, r.statusKey(prev), orderID)
				pipe.SAdd(ctx, r.statusKey(current.Status), orderID)
			}
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return swapped, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer touched the record; re-read and evaluate the guard again.
			continue
		}
		return false, err
	}
	logrus.WithField("order_id", orderID).Warn("checkout session compare-and-set kept conflicting")
	return false, fmt.Errorf("compare-and-set on %s: %w", orderID, redis.TxFailedErr)
}

func (r *RedisStore) ListByStatus(ctx context.Context, status model.SessionStatus) ([]*model.CheckoutSession, error) {
	ids, err := r.client.SMembers(ctx, r.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkout sessions: %w", err)
	}

	out := make([]*model.CheckoutSession, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// The index may briefly lag the record between pipelined writes.
		if s.Status != status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
