// Package validation provides helpers for constructor contract enforcement.
package validation

import (
	"fmt"
	"reflect"
)

// AssertNotNil panics if the provided pointer is nil.
// It is intended for constructors where a dependency is mandatory.
//
// Usage:
//
//	validation.AssertNotNil(pool, "database pool")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotNilInterface panics if dep is a nil interface or an interface
// wrapping a nil pointer, map, func or channel.
func AssertNotNilInterface(dep any, name string) {
	if isNil(dep) {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotEmpty panics if s is empty.
func AssertNotEmpty(s, name string) {
	if s == "" {
		panic(fmt.Sprintf("critical error: %s cannot be empty", name))
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// Note: panics here signal PROGRAMMER ERROR (miswiring), not runtime failures.
