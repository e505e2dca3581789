// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

package database

import (
	"database/sql"
	"errors"
	"io"
	"strings"
)

// ErrIdentityNotFound is returned by queries targeting an identity id that
// has never been observed.
var ErrIdentityNotFound = errors.New("identity not found")

// closeQuietly closes a resource and explicitly ignores any error. For
// cleanup in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// rollbackQuietly rolls back a transaction, ignoring the error a rollback
// after commit always produces.
func rollbackQuietly(tx *sql.Tx) {
	if tx != nil {
		_ = tx.Rollback()
	}
}

// isTransactionConflict identifies DuckDB optimistic-concurrency conflicts,
// which are expected under concurrent writers and safe to retry.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "TransactionContext") ||
		strings.Contains(msg, "Conflict on") ||
		strings.Contains(msg, "write-write conflict")
}
