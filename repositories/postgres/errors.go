package postgres

import (
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/grc-control-plane/services"
)

// uniqueViolation is the SQLSTATE of a unique constraint failure
const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func storageError(message string, err error) error {
	return services.WrapInternal(message, err)
}

func notFound(entity string, id uuid.UUID) error {
	return services.NewDomainError(services.ErrorTypeNotFound, entity+" not found", nil).
		WithDetail(entity+"_id", id.String())
}

func versionConflict(entity string, id uuid.UUID, expected, actual int64) error {
	return services.NewDomainError(services.ErrorTypeConflict, entity+" was modified concurrently", nil).
		WithDetail("id", id.String()).
		WithDetail("expected_version", expected).
		WithDetail("current_version", actual)
}

// nullJSON keeps empty documents out of JSONB columns
func nullJSON(doc []byte) interface{} {
	if len(doc) == 0 {
		return nil
	}
	return doc
}
