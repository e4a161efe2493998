package runner

import "errors"

var (
	// ErrFileNotFound is returned when the source image does not exist.
	ErrFileNotFound = errors.New("source file not found")
	// ErrIO is returned when reading the source or writing the destination fails.
	ErrIO = errors.New("io error")
	// ErrRemoval is returned when the background remover rejects the input.
	// The remover's own error stays reachable through errors.Is / errors.As.
	ErrRemoval = errors.New("background removal failed")
)
