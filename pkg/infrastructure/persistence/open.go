package persistence

import (
	"fmt"

	"github.com/wndlink/wndlink/pkg/domain"
)

// Open builds the store named by driver ("memory", "file" or "sqlite").
// The returned close function is never nil.
func Open(driver, path string) (domain.KVStore, func() error, error) {
	noop := func() error { return nil }

	switch driver {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "file":
		s, err := NewFileStore(path)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "sqlite":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", driver)
	}
}
