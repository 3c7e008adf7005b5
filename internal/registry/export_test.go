package registry

import "fmt"

// SetRandomReader swaps the token entropy source for the duration of a test.
func SetRandomReader(read func([]byte) (int, error)) (restore func()) {
	prev := readRandom
	readRandom = read
	return func() { readRandom = prev }
}

// SetUserVersion overwrites the stored schema version.
func (r *Registry) SetUserVersion(v int) error {
	_, err := r.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v))
	return err
}
