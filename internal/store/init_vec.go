//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension so episodic recall can use ANN
	// search when the binary is built with -tags sqlite_vec.
	vec.Auto()
}
