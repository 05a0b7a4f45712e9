package state

import (
	"testing"
)

func TestSetAndSnapshot(t *testing.T) {
	d := NewDocument()
	d.Set("color", "red", "peer-a")
	snap := d.Snapshot()
	if snap["color"] != "red" {
		t.Fatalf("expected color=red, got %+v", snap)
	}
}

func TestLastWriterWinsByCounter(t *testing.T) {
	d := NewDocument()
	d.Set("color", "red", "peer-a")
	d.Set("color", "blue", "peer-a")
	if d.Snapshot()["color"] != "blue" {
		t.Fatalf("expected later write to win")
	}
}

func TestConvergenceViaSyncSteps(t *testing.T) {
	a := NewDocument()
	b := NewDocument()

	a.Set("x", "1", "peer-a")
	a.Set("y", "2", "peer-a")
	b.Set("z", "3", "peer-b")

	step1 := CreateSyncStep1(b)
	step2, err := HandleSyncStep1(a, step1)
	if err != nil {
		t.Fatalf("handle sync step 1: %v", err)
	}
	if err := HandleSyncStep2(b, step2); err != nil {
		t.Fatalf("handle sync step 2: %v", err)
	}

	snapB := b.Snapshot()
	if snapB["x"] != "1" || snapB["y"] != "2" || snapB["z"] != "3" {
		t.Fatalf("expected b to converge with a's entries, got %+v", snapB)
	}
}

func TestApplyUpdateRejectsGarbage(t *testing.T) {
	d := NewDocument()
	if err := d.ApplyUpdate([]byte("not json")); err == nil {
		t.Fatalf("expected decode error for garbage update")
	}
}
