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

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderIDPrefix is the prefix shared by every order id the orchestrator hands to the gateway.
const OrderIDPrefix = "ORDER"

// GenerateOrderID builds an order id of the form ORDER_<unix-millis>_<random>. The random part
// is the first group of a v4 UUID so the id fits gateways that cap tx_ref length.
func GenerateOrderID(now time.Time) string {
	random := strings.ToUpper(strings.Split(uuid.New().String(), "-")[0])
	return fmt.Sprintf("%s_%d_%s", OrderIDPrefix, now.UnixMilli(), random)
}

// timePtr returns a pointer to a copy of t in UTC.
func timePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
