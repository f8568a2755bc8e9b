package transfer

import "errors"

var (
	ErrFileNotFound    = errors.New("file not found")
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	ErrSessionNotFound = errors.New("download session not found")
	ErrNoConsumers     = errors.New("at least one consumer is required")
	ErrUnknownConsumer = errors.New("consumer not part of session")
)
