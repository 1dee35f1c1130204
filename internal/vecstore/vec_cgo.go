//go:build sqlite_vec && cgo

package vecstore

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// sqlite_vec build: cgo SQLite with the sqlite-vec extension supplying
// vec_distance_cosine natively.
const driverName = "sqlite3"

func init() {
	// vec.Auto() registers sqlite-vec as an auto-loadable extension for
	// every new connection.
	vec.Auto()
}
