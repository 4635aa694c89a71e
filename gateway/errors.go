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
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying: transport errors and 5xx responses.
	ErrTransient = errors.New("gateway transient error")
	// ErrRejected marks permanent failures: 4xx responses or success=false bodies.
	ErrRejected = errors.New("gateway rejected request")
)

// Error describes a failed gateway call. errors.Is matches its Kind.
type Error struct {
	Op         string
	StatusCode int
	Kind       error
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func transient(op string, status int, err error) *Error {
	return &Error{Op: op, StatusCode: status, Kind: ErrTransient, Err: err}
}

func rejected(op string, status int, message string) *Error {
	return &Error{Op: op, StatusCode: status, Kind: ErrRejected, Message: message}
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
