// Package testingdb provides an isolated SQLite database per test, grounded
// on aristath-sentinel's internal/testing/db.go NewTestDB/NewTestDBFromFile
// pattern: a temp file backs each database so concurrent tests never share
// state, and a cleanup registered with t.Cleanup closes the connection and
// removes the file.
package testingdb

import (
	"fmt"
	"os"
	"testing"

	"github.com/propyield/platform/internal/database"
)

// New opens a temp-file-backed database.DB under database.ProfileStandard
// for name and registers its cleanup with t.Cleanup.
func New(t *testing.T, name string) *database.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("create temp db file for %s: %v", name, err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.Open(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("open test db %s: %v", name, err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close test db %s: %v", name, err)
		}
		if err := os.Remove(tmpPath); err != nil {
			t.Logf("warning: failed to remove test db file %s: %v", tmpPath, err)
		}
	})

	return db
}
