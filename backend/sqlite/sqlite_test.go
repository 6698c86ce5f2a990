package sqlite

import (
	"testing"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/backend/test"
)

func Test_SqliteStore(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	test.StoreTest(t, func() backend.Store {
		return NewInMemoryStore()
	}, func(s backend.Store) {
		s.Close()
	})
}
