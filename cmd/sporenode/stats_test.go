package main

import "testing"

func TestParseMeshRowsGroupsByTopic(t *testing.T) {
	body := `# HELP sporemesh_mesh_size Current number of peers in the topic mesh.
# TYPE sporemesh_mesh_size gauge
sporemesh_mesh_size{topic="status"} 3
sporemesh_known_peers{topic="status"} 7
sporemesh_mesh_median_score{topic="status"} 0.42
sporemesh_mesh_size{topic="task"} 1
`
	rows := parseMeshRows(body)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "status" || rows[0][1] != "3" || rows[0][2] != "7" || rows[0][3] != "0.42" {
		t.Fatalf("unexpected status row: %v", rows[0])
	}
	if rows[1][0] != "task" || rows[1][1] != "1" {
		t.Fatalf("unexpected task row: %v", rows[1])
	}
}

func TestParseSampleSkipsCommentsAndMalformedLines(t *testing.T) {
	if _, _, _, ok := parseSample("# a comment"); ok {
		t.Fatalf("expected comment to be rejected")
	}
	if _, _, _, ok := parseSample("not a metric line"); ok {
		t.Fatalf("expected malformed line to be rejected")
	}
	name, labels, value, ok := parseSample(`sporemesh_mesh_size{topic="status"} 3`)
	if !ok || name != "sporemesh_mesh_size" || labels["topic"] != "status" || value != "3" {
		t.Fatalf("unexpected parse result: %q %v %q %v", name, labels, value, ok)
	}
}
