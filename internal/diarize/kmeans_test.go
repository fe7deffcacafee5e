package diarize

import (
	"reflect"
	"testing"
)

func TestClusterSegments_SeparatesGroups(t *testing.T) {
	t.Parallel()

	rows := []featureVector{
		{0.1, 0, 0, 0.2, 0, 0},
		{0.0, 0.1, 0, 0.1, 0, 0},
		{0.2, 0.1, 0, 0.0, 0, 0},
		{5.1, 5, 0, 4.9, 0, 0},
		{5.0, 5.1, 0, 5.0, 0, 0},
		{4.9, 5.2, 0, 5.1, 0, 0},
	}
	got := clusterSegments(rows)

	if got[0] != got[1] || got[1] != got[2] {
		t.Errorf("low group split across clusters: %v", got)
	}
	if got[3] != got[4] || got[4] != got[5] {
		t.Errorf("high group split across clusters: %v", got)
	}
	if got[0] == got[3] {
		t.Errorf("both groups landed in cluster %d: %v", got[0], got)
	}
}

func TestClusterSegments_Deterministic(t *testing.T) {
	t.Parallel()

	rows := []featureVector{
		{1, 2, 3, 4, 5, 6},
		{6, 5, 4, 3, 2, 1},
		{1, 1, 1, 1, 1, 1},
		{5, 5, 5, 5, 5, 5},
		{2, 2, 2, 2, 2, 2},
	}
	first := clusterSegments(rows)
	second := clusterSegments(rows)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated clustering differs: %v vs %v", first, second)
	}
}

func TestClusterSegments_TooFewRows(t *testing.T) {
	t.Parallel()

	if got := clusterSegments([]featureVector{{1, 2, 3, 4, 5, 6}}); !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("single row should map to cluster 0, got %v", got)
	}
	if got := clusterSegments(nil); len(got) != 0 {
		t.Errorf("no rows should yield no assignments, got %v", got)
	}
}

func TestClusterSegments_IdenticalRows(t *testing.T) {
	t.Parallel()

	rows := []featureVector{
		{1, 1, 1, 1, 1, 1},
		{1, 1, 1, 1, 1, 1},
		{1, 1, 1, 1, 1, 1},
	}
	got := clusterSegments(rows)
	if len(got) != 3 {
		t.Fatalf("assignments = %v, want one per row", got)
	}
}
