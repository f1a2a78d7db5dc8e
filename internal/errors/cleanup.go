// Package errors holds cleanup helpers for defer statements.
package errors

import (
	"database/sql"
	stderrors "errors"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes closer and logs a failure instead of dropping it.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// DeferRollback rolls tx back and logs a failure. sql.ErrTxDone is expected
// after a successful commit and ignored.
func DeferRollback(logger zerolog.Logger, tx *sql.Tx) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !stderrors.Is(err, sql.ErrTxDone) {
		logger.Warn().Err(err).Msg("transaction rollback failed")
	}
}
