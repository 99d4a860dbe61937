package beefdb

import (
	"bytes"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/stdr"
)

func TestLoggerReceivesEvents(t *testing.T) {
	var buf bytes.Buffer
	stdr.SetVerbosity(2)
	logger := stdr.New(log.New(&buf, "", 0))

	env := NewEnv()
	env.SetLogger(logger)
	if err := env.Open(filepath.Join(t.TempDir(), "test.bdb"), ReadWrite|Create, 0644); err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	if !strings.Contains(buf.String(), "opened database") {
		t.Fatalf("open not logged: %q", buf.String())
	}

	txn, err := env.BeginTxn(false)
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Put([]byte("k"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "begin write transaction") {
		t.Fatalf("begin not logged: %q", out)
	}
	if !strings.Contains(out, "committed") {
		t.Fatalf("commit not logged: %q", out)
	}
}
