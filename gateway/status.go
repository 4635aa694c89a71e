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

package gateway

import (
	"fmt"
	"os"
	"strings"

	"github.com/blnkfinance/checkout/model"
	"gopkg.in/yaml.v3"
)

// StatusMapping describes where a response carries the payment status and which values mean what.
// Field paths are dotted and matched case-insensitively.
type StatusMapping struct {
	StatusFields    []string `yaml:"status_fields"`
	ReferenceFields []string `yaml:"reference_fields"`
	SuccessValues   []string `yaml:"success_values"`
	FailedValues    []string `yaml:"failed_values"`
	CancelledValues []string `yaml:"cancelled_values"`
}

func DefaultMapping() StatusMapping {
	return StatusMapping{
		StatusFields:    []string{"data.transaction.status", "data.payment_status", "data.status", "payment_status", "status"},
		ReferenceFields: []string{"data.reference", "data.tx_ref", "reference"},
		SuccessValues:   []string{"SUCCESS", "SUCCESSFUL", "COMPLETED", "PAID"},
		FailedValues:    []string{"FAILED", "FAILURE", "DECLINED", "ERROR"},
		CancelledValues: []string{"CANCELLED", "CANCELED"},
	}
}

// LoadMapping reads a YAML mapping file. Lists left empty keep their defaults.
func LoadMapping(path string) (StatusMapping, error) {
	if path == "" {
		return DefaultMapping(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return StatusMapping{}, fmt.Errorf("failed to read gateway mapping: %w", err)
	}
	return LoadMappingFromBytes(data)
}

func LoadMappingFromBytes(data []byte) (StatusMapping, error) {
	var m StatusMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return StatusMapping{}, fmt.Errorf("failed to parse gateway mapping: %w", err)
	}
	def := DefaultMapping()
	if len(m.StatusFields) == 0 {
		m.StatusFields = def.StatusFields
	}
	if len(m.ReferenceFields) == 0 {
		m.ReferenceFields = def.ReferenceFields
	}
	if len(m.SuccessValues) == 0 {
		m.SuccessValues = def.SuccessValues
	}
	if len(m.FailedValues) == 0 {
		m.FailedValues = def.FailedValues
	}
	if len(m.CancelledValues) == 0 {
		m.CancelledValues = def.CancelledValues
	}
	return m, nil
}

// Normalize maps a decoded response body to a payment status. It is total: a missing field,
// a non-string value or an unknown value is Pending. The first status field found wins, so
// nested payment fields are listed before the top-level envelope status.
func (m StatusMapping) Normalize(body map[string]interface{}) (model.PaymentStatus, string) {
	for _, path := range m.StatusFields {
		raw, ok := getNestedValue(body, path).(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		return m.MapStatus(raw), raw
	}
	return model.PaymentPending, ""
}

// MapStatus maps one raw status value.
func (m StatusMapping) MapStatus(raw string) model.PaymentStatus {
	value := strings.TrimSpace(raw)
	switch {
	case containsFold(m.SuccessValues, value):
		return model.PaymentSuccess
	case containsFold(m.FailedValues, value):
		return model.PaymentFailed
	case containsFold(m.CancelledValues, value):
		return model.PaymentCancelled
	default:
		return model.PaymentPending
	}
}

// Reference returns the first non-empty gateway reference in the body.
func (m StatusMapping) Reference(body map[string]interface{}) string {
	for _, path := range m.ReferenceFields {
		if ref, ok := getNestedValue(body, path).(string); ok && ref != "" {
			return ref
		}
	}
	return ""
}

func getNestedValue(data map[string]interface{}, path string) interface{} {
	current := interface{}(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = lookupFold(m, part)
	}
	return current
}

func lookupFold(m map[string]interface{}, key string) interface{} {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
