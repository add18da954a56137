package comdoc

// Validation selects how strictly an existing document is checked while
// being opened. Permissive mode repairs the table inconsistencies that
// common writers are known to produce; strict mode rejects them.
type Validation int

const (
	ValidationPermissive Validation = iota
	ValidationStrict
)

func (v Validation) IsStrict() bool {
	return v == ValidationStrict
}
