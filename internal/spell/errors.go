package spell

import (
	"errors"
	"fmt"
)

// Lookup and execution errors. A spell that exists but is blacklisted,
// quarantined, or outside the caller's allowed grimoriums fails with the
// same ErrSpellNotFound as one that never existed, so callers cannot probe
// for hidden units.
var (
	// ErrSpellNotFound is returned when a spell is not in the
	// permission-filtered registry.
	ErrSpellNotFound = errors.New("spell not found")

	// ErrGrimoriumNotFound is returned when a grimorium is not active or
	// not permitted.
	ErrGrimoriumNotFound = errors.New("grimorium not found")

	// ErrSpellNameEmpty is returned when a spell has no name.
	ErrSpellNameEmpty = errors.New("spell name cannot be empty")

	// ErrSpellInvokeNil is returned when a spell has no invoke function.
	ErrSpellInvokeNil = errors.New("spell invoke function cannot be nil")

	// ErrDuplicateSpell is returned when a qualified name collides within
	// a grimorium.
	ErrDuplicateSpell = errors.New("duplicate spell name")

	// ErrInvalidArgument is the parent of all argument-validation
	// failures; distinct from not-found and from execution errors.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMissingRequiredArg is returned when a required argument is missing.
	ErrMissingRequiredArg = fmt.Errorf("%w: missing required argument", ErrInvalidArgument)

	// ErrInvalidArgType is returned when an argument has the wrong type.
	ErrInvalidArgType = fmt.Errorf("%w: wrong argument type", ErrInvalidArgument)

	// ErrSpellExecution is returned when the underlying callable fails at
	// runtime.
	ErrSpellExecution = errors.New("spell execution failed")
)
