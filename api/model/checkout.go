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
	"errors"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/blnkfinance/checkout"
	"github.com/blnkfinance/checkout/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type Payer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Grade    string `json:"grade"`
}

type CreateCheckout struct {
	PlanID   string          `json:"plan_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Payer    Payer           `json:"payer"`
	Account  Account         `json:"account"`
}

type Navigation struct {
	URL string `json:"url"`
}

type DeepLink struct {
	URL string `json:"url"`
}

func (p Payer) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required),
		validation.Field(&p.Phone, validation.Required, validation.Length(7, 20)),
		validation.Field(&p.Email, validation.Required, validation.Match(emailPattern).Error("must be a valid email address")),
	)
}

func (a Account) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Username, validation.Required),
		validation.Field(&a.Password, validation.Required, validation.Length(6, 0)),
	)
}

func (c *CreateCheckout) ValidateCreateCheckout() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PlanID, validation.Required),
		validation.Field(&c.Amount, validation.By(func(value interface{}) error {
			amount, ok := value.(decimal.Decimal)
			if !ok {
				return errors.New("invalid amount")
			}
			if amount.IsNegative() {
				return errors.New("amount cannot be negative")
			}
			return nil
		})),
		validation.Field(&c.Payer),
		validation.Field(&c.Account),
	)
}

func (n *Navigation) ValidateNavigation() error {
	return validation.ValidateStruct(n,
		validation.Field(&n.URL, validation.Required),
	)
}

func (d *DeepLink) ValidateDeepLink() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.URL, validation.Required),
	)
}

func (c *CreateCheckout) ToBeginRequest() checkout.BeginRequest {
	return checkout.BeginRequest{
		PlanID:   c.PlanID,
		Amount:   c.Amount,
		Currency: c.Currency,
		Payer:    model.Payer{Name: c.Payer.Name, Phone: c.Payer.Phone, Email: c.Payer.Email},
		Account:  model.Account{Username: c.Account.Username, Password: c.Account.Password, Grade: c.Account.Grade},
	}
}
