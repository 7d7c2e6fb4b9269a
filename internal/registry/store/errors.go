// Package store holds what the entity stores share. Implementations live in
// subpackages and stay pure I/O; domain rules belong to the services.
package store

import (
	dErrors "hokhau/pkg/domain-errors"
)

// ErrNotFound keeps store-level 404s consistent across the Postgres and
// in-memory implementations.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")

// ErrDuplicate reports an insert that lost a uniqueness race to a concurrent
// writer; the service-level existence check cannot see uncommitted rows.
var ErrDuplicate = dErrors.New(dErrors.CodeAlreadyMember, "record already exists")
