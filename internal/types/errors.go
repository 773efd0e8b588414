package types

import "errors"

var (
	// ErrEncoding is returned for text an embedder cannot encode (empty or not UTF-8).
	ErrEncoding = errors.New("unencodable text")

	// ErrAlreadyExists is returned when a collection name is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidBatch is returned for malformed index inserts.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrNotFound is returned when a record or collection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPersistence is returned when results could not be committed.
	ErrPersistence = errors.New("persistence failure")

	ErrInvalidArgument = errors.New("invalid argument")
)
