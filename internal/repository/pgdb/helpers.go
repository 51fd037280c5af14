package pgdb

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolationCode — код ошибки PostgreSQL о нарушении уникальности.
const uniqueViolationCode = "23505"

// postgresDuplicate сообщает, что ошибка вызвана нарушением уникального ограничения.
func postgresDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}

	return false
}
