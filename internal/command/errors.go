package command

import "errors"

// Domain errors for the command package.
var (
	// ErrCommandNotFound is returned when a command UUID does not exist.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrCommandExists is returned when creating a command with a UUID that
	// already exists.
	ErrCommandExists = errors.New("command: already exists")

	// ErrInvalidCommand is returned when a command payload cannot be
	// encoded into a protocol envelope.
	ErrInvalidCommand = errors.New("command: invalid")
)
