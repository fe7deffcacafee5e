package extract

import (
	"reflect"
	"strings"
	"testing"
)

func TestApplyRules(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"name":      "Pepito Gómez",
		"age":       float64(42),
		"date":      nil,
		"diagnosis": "  migraña  ",
		"physician": "null",
		"weather":   "sunny",
		"EMAIL":     "ana@example.com",
	}
	got := applyRules(raw, structuredRules)
	want := map[string]any{
		"name":      "Pepito Gómez",
		"age":       42,
		"diagnosis": "migraña",
		"email":     "ana@example.com",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("applyRules() = %#v, want %#v", got, want)
	}
}

func TestApplyRules_CanonicalWinsOverAlias(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"name":   "Canonical Name",
		"nombre": "Alias Name",
	}
	got := applyRules(raw, structuredRules)
	if got["name"] != "Canonical Name" {
		t.Errorf(`name = %q, want the canonical key to win`, got["name"])
	}
}

func TestCleanAge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want any
		ok   bool
	}{
		{"whole number", float64(42), 42, true},
		{"zero", float64(0), 0, true},
		{"upper bound", float64(150), 150, true},
		{"fractional", 42.5, nil, false},
		{"negative", float64(-1), nil, false},
		{"too old", float64(151), nil, false},
		{"digit string", " 35 ", 35, true},
		{"word string", "treinta", nil, false},
		{"wrong type", []any{42}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := cleanAge(tt.in)
			if ok != tt.ok {
				t.Fatalf("cleanAge(%v) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("cleanAge(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		ok   bool
	}{
		{"iso date", "2026-07-14", true},
		{"padded", " 2026-07-14 ", true},
		{"slashes", "14/07/2026", false},
		{"impossible month", "2026-13-01", false},
		{"prose", "el catorce de julio", false},
		{"wrong type", float64(20260714), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, ok := cleanDate(tt.in); ok != tt.ok {
				t.Errorf("cleanDate(%v) ok = %v, want %v", tt.in, ok, tt.ok)
			}
		})
	}
}

func TestCleanEmail(t *testing.T) {
	t.Parallel()

	if v, ok := cleanEmail("ana@example.com"); !ok || v != "ana@example.com" {
		t.Errorf("cleanEmail(valid) = %v, %v", v, ok)
	}
	if _, ok := cleanEmail("no tiene correo"); ok {
		t.Error("cleanEmail should reject strings without @")
	}
}

func TestCleanStringList(t *testing.T) {
	t.Parallel()

	got, ok := cleanStringList([]any{"paracetamol", "  ", 42, " ibuprofeno "})
	if !ok {
		t.Fatal("cleanStringList rejected a list with valid elements")
	}
	if want := []string{"paracetamol", "ibuprofeno"}; !reflect.DeepEqual(got, want) {
		t.Errorf("cleanStringList() = %v, want %v", got, want)
	}

	if _, ok := cleanStringList([]any{}); ok {
		t.Error("empty list should count as absent")
	}
	if _, ok := cleanStringList("not a list"); ok {
		t.Error("scalar should be rejected")
	}
}

func TestCleanUrgency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"alta", "high", true},
		{"media", "medium", true},
		{"baja", "low", true},
		{"HIGH", "high", true},
		{" low ", "low", true},
		{"crítica", "", false},
	}
	for _, tt := range tests {
		got, ok := cleanUrgency(tt.in)
		if ok != tt.ok {
			t.Errorf("cleanUrgency(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("cleanUrgency(%q) = %v, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateAtSentence(t *testing.T) {
	t.Parallel()

	t.Run("short text untouched", func(t *testing.T) {
		t.Parallel()
		in := "El paciente refiere dolor de cabeza."
		if got := truncateAtSentence(in); got != in {
			t.Errorf("truncateAtSentence() = %q, want input unchanged", got)
		}
	})

	t.Run("cuts at last sentence boundary", func(t *testing.T) {
		t.Parallel()
		in := "Primera frase. ¿Segunda frase completa? " + strings.Repeat("x", maxInputChars)
		got := truncateAtSentence(in)
		if got != "Primera frase. ¿Segunda frase completa?" {
			t.Errorf("truncateAtSentence() = %q", got)
		}
	})

	t.Run("hard cut without terminator", func(t *testing.T) {
		t.Parallel()
		in := strings.Repeat("ñ", maxInputChars+500)
		got := truncateAtSentence(in)
		if n := len([]rune(got)); n != maxInputChars {
			t.Errorf("truncated length = %d runes, want %d", n, maxInputChars)
		}
		if !strings.HasPrefix(in, got) {
			t.Error("hard cut should be a prefix of the input")
		}
	})
}
