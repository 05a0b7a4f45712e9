package storage

import (
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	l := openTestLog(t)
	if err := l.Insert("msg-1", "status", []byte("hello")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	payload, ok, err := l.Get("msg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(payload) != "hello" {
		t.Fatalf("expected hello, got %q ok=%v", payload, ok)
	}
}

func TestInsertUpsertsOnConflict(t *testing.T) {
	l := openTestLog(t)
	if err := l.Insert("msg-1", "status", []byte("first")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := l.Insert("msg-1", "status", []byte("first")); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	keys, err := l.AllKeys()
	if err != nil {
		t.Fatalf("all keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected exactly one row after upsert, got %d", len(keys))
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	l := openTestLog(t)
	_, ok, err := l.Get("nonexistent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing key")
	}
}

func TestReconcileReturnsMissingKeys(t *testing.T) {
	l := openTestLog(t)
	l.Insert("msg-1", "status", []byte("a"))
	l.Insert("msg-2", "status", []byte("b"))

	missing, err := l.Reconcile([]string{"msg-1"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(missing) != 1 || missing[0] != "msg-2" {
		t.Fatalf("expected [msg-2], got %v", missing)
	}
}

func TestPrefixKeysFiltersByPrefix(t *testing.T) {
	l := openTestLog(t)
	l.Insert("task-1", "task", []byte("a"))
	l.Insert("task-2", "task", []byte("b"))
	l.Insert("status-1", "status", []byte("c"))

	keys, err := l.PrefixKeys("task-", 10)
	if err != nil {
		t.Fatalf("prefix keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 task- keys, got %v", keys)
	}
}
