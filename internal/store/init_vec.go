//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Auto registers sqlite-vec as an auto-loadable extension on every
// connection the mattn/go-sqlite3 driver opens.
func init() {
	vec.Auto()
}
