package comdoc

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf16"
)

const MAX_NAME_LEN int = 31

type Ordering int

const (
	OrderLess Ordering = iota
	OrderEqual
	OrderGreater
)

// ValidateName rejects names the directory cannot store: empty, longer
// than 31 UTF-16 code units, or containing a path or stream separator.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrorInvalidName)
	}

	if n := len(utf16.Encode([]rune(name))); n > MAX_NAME_LEN {
		return fmt.Errorf("name %q is %v UTF-16 units, limit is %v: %w", name, n, MAX_NAME_LEN, ErrorInvalidName)
	}

	if strings.ContainsAny(name, "/\\:!") {
		return fmt.Errorf("name %q contains one of /\\:! : %w", name, ErrorInvalidName)
	}

	return nil
}

// CompareNames implements the directory key order: primary by UTF-16
// code-unit length, secondary by upper-cased code-unit value.
func CompareNames(nameLeft, nameRight string) Ordering {
	left := utf16.Encode([]rune(strings.ToUpper(nameLeft)))
	right := utf16.Encode([]rune(strings.ToUpper(nameRight)))

	if len(left) != len(right) {
		if len(left) < len(right) {
			return OrderLess
		}
		return OrderGreater
	}

	for i := range left {
		if left[i] != right[i] {
			if left[i] < right[i] {
				return OrderLess
			}
			return OrderGreater
		}
	}

	return OrderEqual
}

// NameChainFromPath splits an absolute slash-separated path into its
// storage and stream names. Paths escaping the root resolve to nothing.
func NameChainFromPath(s string) []string {
	s = path.Clean(s)
	if s == "" || s == "." || s == "/" {
		return []string{}
	}

	if s[0] == '/' {
		s = s[1:]
	}

	if strings.HasPrefix(s, "..") {
		return []string{}
	}

	return strings.Split(s, "/")
}

func PathFromNameChain(names []string) string {
	return "/" + strings.Join(names, "/")
}
