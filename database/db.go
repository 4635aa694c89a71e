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
	"errors"
	"fmt"

	"github.com/blnkfinance/checkout/config"
	pgconn "github.com/blnkfinance/checkout/internal/pg-conn"
	"github.com/redis/go-redis/v9"
)

// NewSessionStore builds the store selected by the configured data source driver.
// The redis client is only required by the redis driver.
func NewSessionStore(cnf *config.Configuration, rc redis.UniversalClient) (SessionStore, error) {
	switch cnf.DataSource.Driver {
	case config.DriverRedis, "":
		if rc == nil {
			return nil, errors.New("redis driver selected without a redis client")
		}
		return NewRedisStore(rc, cnf.Redis.KeyPrefix), nil
	case config.DriverPostgres:
		conn, err := pgconn.ConnectDB(cnf.DataSource)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(conn), nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported data source driver %q", cnf.DataSource.Driver)
	}
}
