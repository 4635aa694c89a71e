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

package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration decodes a JSON duration written either as a Go duration string ("5s", "1m30s")
// or as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case nil:
		return nil
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

func (c *DataSourceConfig) UnmarshalJSON(data []byte) error {
	type plain DataSourceConfig
	aux := struct {
		*plain
		ConnMaxLifetime *Duration `json:"conn_max_lifetime"`
		ConnMaxIdleTime *Duration `json:"conn_max_idle_time"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	setDuration(&c.ConnMaxLifetime, aux.ConnMaxLifetime)
	setDuration(&c.ConnMaxIdleTime, aux.ConnMaxIdleTime)
	return nil
}

func (c *GatewayConfig) UnmarshalJSON(data []byte) error {
	type plain GatewayConfig
	aux := struct {
		*plain
		Timeout    *Duration `json:"timeout"`
		RetryDelay *Duration `json:"retry_delay"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	setDuration(&c.Timeout, aux.Timeout)
	setDuration(&c.RetryDelay, aux.RetryDelay)
	return nil
}

func (c *SignalsConfig) UnmarshalJSON(data []byte) error {
	type plain SignalsConfig
	aux := struct {
		*plain
		PollInterval   *Duration `json:"poll_interval"`
		PollCeiling    *Duration `json:"poll_ceiling"`
		SessionTimeout *Duration `json:"session_timeout"`
		GraceWindow    *Duration `json:"grace_window"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	setDuration(&c.PollInterval, aux.PollInterval)
	setDuration(&c.PollCeiling, aux.PollCeiling)
	setDuration(&c.SessionTimeout, aux.SessionTimeout)
	setDuration(&c.GraceWindow, aux.GraceWindow)
	return nil
}

func (c *ActivationConfig) UnmarshalJSON(data []byte) error {
	type plain ActivationConfig
	aux := struct {
		*plain
		Timeout        *Duration `json:"timeout"`
		InitialBackoff *Duration `json:"initial_backoff"`
		LockTTL        *Duration `json:"lock_ttl"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	setDuration(&c.Timeout, aux.Timeout)
	setDuration(&c.InitialBackoff, aux.InitialBackoff)
	setDuration(&c.LockTTL, aux.LockTTL)
	return nil
}

func (c *CatalogConfig) UnmarshalJSON(data []byte) error {
	type plain CatalogConfig
	aux := struct {
		*plain
		CacheTTL *Duration `json:"cache_ttl"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	setDuration(&c.CacheTTL, aux.CacheTTL)
	return nil
}

func (c *QueueConfig) UnmarshalJSON(data []byte) error {
	type plain QueueConfig
	aux := struct {
		*plain
		Retention *Duration `json:"retention"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	setDuration(&c.Retention, aux.Retention)
	return nil
}
