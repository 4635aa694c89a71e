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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blnkfinance/checkout/model"
	"github.com/lib/pq"
)

// PostgresStore keeps sessions in checkout.sessions. The status and outcome kind columns
// mirror the JSON document so compare-and-set can be a conditional UPDATE.
type PostgresStore struct {
	Conn *sql.DB
}

func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{Conn: conn}
}

func (p *PostgresStore) Put(ctx context.Context, session *model.CheckoutSession) error {
	if err := validateNew(session); err != nil {
		return err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode checkout session: %w", err)
	}

	_, err = p.Conn.ExecContext(ctx, `
		INSERT INTO checkout.sessions (order_id, status, outcome_kind, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, session.OrderID, session.Status, string(session.OutcomeKind()), data, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrExists
		}
		return fmt.Errorf("failed to store checkout session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.CheckoutSession, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkout session: %w", err)
	}
	var s model.CheckoutSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) Get(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	row := p.Conn.QueryRowContext(ctx, `
		SELECT data FROM checkout.sessions WHERE order_id = $1
	`, orderID)
	return scanSession(row)
}

func (p *PostgresStore) CompareAndSetStatus(ctx context.Context, orderID string, expected model.SessionStatus, t model.Transition) (bool, error) {
	tx, err := p.Conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT data FROM checkout.sessions WHERE order_id = $1 FOR UPDATE
	`, orderID))
	if err != nil {
		return false, err
	}
	ok, err := guard(current, expected, t)
	if !ok || err != nil {
		return false, err
	}

	prevKind := current.OutcomeKind()
	t.Apply(current)
	data, err := json.Marshal(current)
	if err != nil {
		return false, fmt.Errorf("failed to encode checkout session: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE checkout.sessions
		SET status = $1, outcome_kind = $2, data = $3, updated_at = $4
		WHERE order_id = $5 AND status = $6 AND outcome_kind = $7
	`, current.Status, string(current.OutcomeKind()), data, current.UpdatedAt, orderID, expected, string(prevKind))
	if err != nil {
		return false, fmt.Errorf("failed to update checkout session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update checkout session: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit checkout session: %w", err)
	}
	return true, nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status model.SessionStatus) ([]*model.CheckoutSession, error) {
	rows, err := p.Conn.QueryContext(ctx, `
		SELECT data FROM checkout.sessions WHERE status = $1 ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkout sessions: %w", err)
	}
	defer rows.Close()

	out := []*model.CheckoutSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list checkout sessions: %w", err)
	}
	return out, nil
}
