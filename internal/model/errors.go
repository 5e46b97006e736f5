package model

import "errors"

var errNotNumber = errors.New("model: not a number")

// NoBodyStatus reports whether status suppresses a response body
// (spec.md §3 invariants): 100, 101, 204, 205, 304.
func NoBodyStatus(status int) bool {
	switch status {
	case 100, 101, 204, 205, 304:
		return true
	}
	return false
}
