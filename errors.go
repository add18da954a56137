package comdoc

import "errors"

var (
	// ErrorNotCompoundDocument reports a missing or damaged file signature,
	// or header, table or directory contents that no valid image can hold.
	ErrorNotCompoundDocument = errors.New("not a compound document")

	// ErrorCorruptChain reports a sector chain that cycles or escapes its
	// allocation table.
	ErrorCorruptChain = errors.New("corrupt sector chain")

	// ErrorNotFound reports a path that resolves to no directory entry.
	ErrorNotFound = errors.New("entry not found")

	// ErrorInvalidName reports an entry name that cannot be stored.
	ErrorInvalidName = errors.New("invalid entry name")

	// ErrorOutOfRange reports a read past the end of the byte image, or a
	// seek outside the bounds of a stream.
	ErrorOutOfRange = errors.New("out of range")
)
