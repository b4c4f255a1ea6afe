//go:build sqlite

package storage

const defaultStoreKind = KindSQLite

func newSQLiteStore(path string) (Store, error) {
	if path == "" {
		path = "playground.db"
	}
	return NewSQLiteStore(path), nil
}
