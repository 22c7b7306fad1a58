package build

import "reflect"

// A Var represents a value that depends on which Release the binary was
// compiled with. None of the fields may be nil, and all fields must have the
// same type.
type Var struct {
	Standard interface{}
	Dev      interface{}
	Testing  interface{}
	// prevent unkeyed literals
	_ struct{}
}

// Select returns the field of v matching the current Release. Callers
// typically make a type assertion on the result; assertions are stricter
// than conversions, so each field should be cast explicitly when a named
// type is wanted.
func Select(v Var) interface{} {
	if v.Standard == nil || v.Dev == nil || v.Testing == nil {
		panic("nil value in build variable")
	}
	st, dt, tt := reflect.TypeOf(v.Standard), reflect.TypeOf(v.Dev), reflect.TypeOf(v.Testing)
	if !dt.AssignableTo(st) || !tt.AssignableTo(st) {
		// AssignableTo rather than ConvertibleTo, because type assertions
		// require the former.
		panic("build variables must have a single type")
	}
	switch Release {
	case "standard":
		return v.Standard
	case "dev":
		return v.Dev
	case "testing":
		return v.Testing
	default:
		panic("unrecognized Release: " + Release)
	}
}
