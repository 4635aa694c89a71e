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

package model

import "time"

// ActivationRecord is the idempotency guard for the account registration call.
type ActivationRecord struct {
	OrderID       string     `json:"order_id"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	Succeeded     bool       `json:"succeeded"`
	LastError     string     `json:"last_error,omitempty"`
}

// NextAttempt returns a copy of the record with one more attempt stamped at now.
func (r *ActivationRecord) NextAttempt(orderID string, now time.Time) ActivationRecord {
	next := ActivationRecord{OrderID: orderID}
	if r != nil {
		next = *r
	}
	next.AttemptCount++
	next.LastAttemptAt = timePtr(now)
	return next
}
