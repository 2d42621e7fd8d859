// Package ptr provides pointer helpers.
package ptr

// Of returns a pointer to a copy of v.
func Of[T any](v T) *T { return &v }
