// Package relational implements the ledger repositories on GORM. It runs on
// MySQL and Postgres in production and SQLite in tests.
package relational

import (
	"errors"

	"gorm.io/gorm"

	"avelon-ledger/internal/apperr"
)

// translate maps driver errors onto the ledger taxonomy. The DB must be
// opened with TranslateError so duplicate keys surface as ErrDuplicatedKey.
func translate(err error, what, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(what, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Conflict("duplicate_"+what, "%s %q already exists", what, id)
	default:
		return err
	}
}
