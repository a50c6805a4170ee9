package queue

import "errors"

var (
	errMissingDatabase = errors.New("queue: database handle is required")
	errMissingRunner   = errors.New("queue: sandbox runner is required")
)
