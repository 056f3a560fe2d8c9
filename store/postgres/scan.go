// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/z5labs/outbox"
)

// encodeContext serializes an outbox.Context to the JSON string stored
// in outbox_record.context per the logical schema in §6.
func encodeContext(c outbox.Context) (string, error) {
	if c == nil {
		c = outbox.Context{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeContext(data string) (outbox.Context, error) {
	if data == "" {
		return outbox.Context{}, nil
	}
	c := outbox.Context{}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, err
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanRecord scans a single row matching findIncompleteByKeySQL's column
// order and returns the partially-built record plus its raw JSON context
// column, left for the caller to decode.
func scanRecord(rows pgx.Rows) (*outbox.OutboxRecord, string, error) {
	record := &outbox.OutboxRecord{}
	var encodedCtx string
	var completedAt sql.NullTime

	err := rows.Scan(
		&record.ID, &record.Key, &record.RecordType, &record.Payload, &encodedCtx, &record.Partition, &record.HandlerID,
		&record.Status, &record.FailureCount, &record.FailureReason, &record.FailureException,
		&record.CreatedAt, &record.NextRetryAt, &completedAt,
	)
	if err != nil {
		return nil, "", err
	}
	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	return record, encodedCtx, nil
}
