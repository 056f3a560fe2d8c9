// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package postgres is the production outbox.InstanceRegistry adapter,
// backed by the outbox_instance table from §6.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/z5labs/outbox"
)

// Registry is a Postgres-backed outbox.InstanceRegistry.
type Registry struct {
	pool         *pgxpool.Pool
	instanceID   string
	hostname     string
	port         int
	staleTimeout time.Duration
}

// New constructs a [Registry] for the local instance, identified by a
// freshly generated ID, reachable at hostname:port.
func New(pool *pgxpool.Pool, hostname string, port int, staleTimeout time.Duration) *Registry {
	return &Registry{
		pool:         pool,
		instanceID:   outbox.NewID(),
		hostname:     hostname,
		port:         port,
		staleTimeout: staleTimeout,
	}
}

func (r *Registry) RegisterInstance(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO outbox_instance (id, hostname, port, status, last_heartbeat_at, registered_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, last_heartbeat_at = now()`,
		r.instanceID, r.hostname, r.port, outbox.InstanceActive,
	)
	if err != nil {
		return &outbox.CoordinationError{Op: "RegisterInstance", Err: err}
	}
	return nil
}

func (r *Registry) PerformHeartbeatAndCleanup(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_instance SET last_heartbeat_at = now() WHERE id = $1`,
		r.instanceID,
	)
	if err != nil {
		return &outbox.CoordinationError{Op: "PerformHeartbeatAndCleanup", Err: err}
	}

	staleBefore := time.Now().Add(-r.staleTimeout)
	_, err = r.pool.Exec(ctx, `
		UPDATE outbox_instance SET status = $1 WHERE last_heartbeat_at < $2 AND status != $1`,
		outbox.InstanceDead, staleBefore,
	)
	if err != nil {
		return &outbox.CoordinationError{Op: "PerformHeartbeatAndCleanup", Err: err}
	}

	_, err = r.pool.Exec(ctx, `DELETE FROM outbox_instance WHERE status = $1 AND last_heartbeat_at < $2`,
		outbox.InstanceDead, staleBefore,
	)
	if err != nil {
		return &outbox.CoordinationError{Op: "PerformHeartbeatAndCleanup", Err: err}
	}
	return nil
}

func (r *Registry) GracefulShutdown(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `UPDATE outbox_instance SET status = $1 WHERE id = $2`, outbox.InstanceShuttingDown, r.instanceID)
	if err != nil {
		return &outbox.CoordinationError{Op: "GracefulShutdown", Err: err}
	}
	_, err = r.pool.Exec(ctx, `DELETE FROM outbox_instance WHERE id = $1`, r.instanceID)
	if err != nil {
		return &outbox.CoordinationError{Op: "GracefulShutdown", Err: err}
	}
	return nil
}

func (r *Registry) GetActiveInstances(ctx context.Context) ([]*outbox.OutboxInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, hostname, port, status, last_heartbeat_at, registered_at
		FROM outbox_instance WHERE status = $1 ORDER BY id`, outbox.InstanceActive)
	if err != nil {
		return nil, &outbox.CoordinationError{Op: "GetActiveInstances", Err: err}
	}
	defer rows.Close()

	var out []*outbox.OutboxInstance
	for rows.Next() {
		inst := &outbox.OutboxInstance{}
		if err := rows.Scan(&inst.InstanceID, &inst.Hostname, &inst.Port, &inst.Status, &inst.LastHeartbeatAt, &inst.RegisteredAt); err != nil {
			return nil, &outbox.CoordinationError{Op: "GetActiveInstances", Err: err}
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (r *Registry) IsInstanceActive(ctx context.Context, instanceID string) (bool, error) {
	var status outbox.InstanceStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM outbox_instance WHERE id = $1`, instanceID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &outbox.CoordinationError{Op: "IsInstanceActive", Err: err}
	}
	return status == outbox.InstanceActive, nil
}

func (r *Registry) GetCurrentInstanceID() string {
	return r.instanceID
}
