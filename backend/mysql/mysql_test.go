package mysql

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/backend/test"
)

const testUser = "root"
const testPassword = "root"

// Creating and dropping databases per test is slow but gives complete
// isolation. Skipped in -short runs and when no local server is listening.

func Test_MysqlStore(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	// Probe availability here: setup runs inside subtests, and t.Skipf on
	// the parent t from a subtest panics the test framework.
	if probe, err := sql.Open("mysql", fmt.Sprintf("%s:%s@/?parseTime=true&interpolateParams=true", testUser, testPassword)); err != nil {
		panic(err)
	} else if err := probe.Ping(); err != nil {
		_ = probe.Close()
		t.Skipf("mysql not available: %v", err)
	} else {
		_ = probe.Close()
	}

	var dbName string

	test.StoreTest(t, func() backend.Store {
		db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@/?parseTime=true&interpolateParams=true", testUser, testPassword))
		if err != nil {
			panic(err)
		}
		if err := db.Ping(); err != nil {
			panic(fmt.Errorf("mysql became unavailable: %w", err))
		}

		dbName = "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		if _, err := db.Exec("CREATE DATABASE " + dbName); err != nil {
			panic(fmt.Errorf("creating database: %w", err))
		}

		if err := db.Close(); err != nil {
			panic(err)
		}

		return NewStore("localhost", 3306, testUser, testPassword, dbName)
	}, func(s backend.Store) {
		if err := s.Close(); err != nil {
			panic(err)
		}

		db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@/?parseTime=true&interpolateParams=true", testUser, testPassword))
		if err != nil {
			panic(err)
		}

		if _, err := db.Exec("DROP DATABASE IF EXISTS " + dbName); err != nil {
			panic(fmt.Errorf("dropping database: %w", err))
		}

		if err := db.Close(); err != nil {
			panic(err)
		}
	})
}
