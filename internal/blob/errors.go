package blob

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMetadata = errors.New("invalid file metadata")
	ErrSessionNotFound = errors.New("upload session not found")
	ErrSessionComplete = errors.New("upload session already complete")
	ErrNotFound        = errors.New("file not found")
	ErrChunkOutOfRange = errors.New("chunk index out of range")
)

// MissingChunkError names the smallest absent chunk index at assembly time.
type MissingChunkError struct {
	Index int
}

func (e MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %d", e.Index)
}
