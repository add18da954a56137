package comdoc

import (
	"errors"
	"reflect"
	"testing"
)

func TestNameChainFromPath(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want []string
	}{
		{name: "empty", s: "", want: []string{}},
		{name: "root", s: "/", want: []string{}},
		{name: "valid abs", s: "/foo/bar/baz/", want: []string{"foo", "bar", "baz"}},
		{name: "valid rel", s: "foo/bar/baz", want: []string{"foo", "bar", "baz"}},
		{name: "valid up", s: "foo/bar/../baz", want: []string{"foo", "baz"}},
		{name: "invalid up", s: "foo/../../baz", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NameChainFromPath(tt.s); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NameChainFromPath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPathFromNameChain(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{name: "empty", names: []string{}, want: "/"},
		{name: "valid", names: []string{"foo", "bar", "baz"}, want: "/foo/bar/baz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PathFromNameChain(tt.names); got != tt.want {
				t.Errorf("PathFromNameChain() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareNames(t *testing.T) {
	tests := []struct {
		name  string
		left  string
		right string
		want  Ordering
	}{
		{name: "equal fold", left: "Book", right: "BOOK", want: OrderEqual},
		{name: "shorter first", left: "zz", right: "aaa", want: OrderLess},
		{name: "longer last", left: "aaa", right: "zz", want: OrderGreater},
		{name: "same length by value", left: "a", right: "b", want: OrderLess},
		{name: "case folded value", left: "B", right: "a", want: OrderGreater},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareNames(tt.left, tt.right); got != tt.want {
				t.Errorf("CompareNames(%q, %q) = %v, want %v", tt.left, tt.right, got, tt.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{name: "plain", arg: "EncryptedPackage", wantErr: false},
		{name: "spaces", arg: "Root Entry", wantErr: false},
		{name: "empty", arg: "", wantErr: true},
		{name: "slash", arg: "a/b", wantErr: true},
		{name: "backslash", arg: "a\\b", wantErr: true},
		{name: "colon", arg: "a:b", wantErr: true},
		{name: "bang", arg: "a!b", wantErr: true},
		{name: "max length", arg: "0123456789012345678901234567890", wantErr: false},
		{name: "too long", arg: "01234567890123456789012345678901", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrorInvalidName) {
				t.Errorf("ValidateName(%q) error = %v, want ErrorInvalidName", tt.arg, err)
			}
		})
	}
}
