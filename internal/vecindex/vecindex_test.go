package vecindex

import (
	"strings"
	"testing"

	"github.com/clinvox/clinvox/pkg/clinerr"
)

func TestSourceKind_Valid(t *testing.T) {
	tests := []struct {
		kind SourceKind
		want bool
	}{
		{SourceRecording, true},
		{SourceDocument, true},
		{SourceKind("chunk"), false},
		{SourceKind(""), false},
	}
	for _, tt := range tests {
		if got := tt.kind.Valid(); got != tt.want {
			t.Errorf("SourceKind(%q).Valid() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestVectorEntry_Validate(t *testing.T) {
	valid := func() VectorEntry {
		return VectorEntry{
			VectorID:    "vec-1",
			SourceKind:  SourceRecording,
			SourceID:    "rec-1",
			Embedding:   []float32{0.1, 0.2, 0.3},
			PayloadText: "Paciente: Ana",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*VectorEntry)
		wantErr string
	}{
		{"valid", func(e *VectorEntry) {}, ""},
		{"blank vector id", func(e *VectorEntry) { e.VectorID = "  " }, "vector_id"},
		{"unknown source kind", func(e *VectorEntry) { e.SourceKind = "chunk" }, "source kind"},
		{"missing source id", func(e *VectorEntry) { e.SourceID = "" }, "source_id"},
		{"empty embedding", func(e *VectorEntry) { e.Embedding = nil }, "embedding"},
		{
			"multiple violations",
			func(e *VectorEntry) {
				e.VectorID = ""
				e.Embedding = nil
			},
			"vector_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := valid()
			tt.mutate(&entry)
			err := entry.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
			if kind := clinerr.KindOf(err); kind != clinerr.KindInvalidInput {
				t.Errorf("KindOf(err) = %v, want KindInvalidInput", kind)
			}
		})
	}
}
