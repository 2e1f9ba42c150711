package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "openrail.conf")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesColonSeparatedKeys(t *testing.T) {
	path := writeTemp(t, "db_server: localhost\ndb_name: openrail\n# comment\n\ndebug: 1\n")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Get(KeyDBServer, ""); got != "localhost" {
		t.Errorf("db_server = %q, want localhost", got)
	}
	if !c.GetBool(KeyDebug, false) {
		t.Errorf("debug should parse as true")
	}
}

func TestLoadRejectsMissingColon(t *testing.T) {
	path := writeTemp(t, "db_server localhost\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a line with no ':'")
	}
}

func TestMustGetMissingKey(t *testing.T) {
	path := writeTemp(t, "db_server: localhost\n")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.MustGet(KeyDBPassword); err == nil {
		t.Fatal("expected an error for a missing required key")
	}
}
