package transcript

import (
	"testing"
)

func TestCorrectRealignsMisrecognizedName(t *testing.T) {
	t.Parallel()

	c := New([]string{"Marisol", "Oaxaca"})

	got, corrections := c.Correct("hoy hable con marisole sobre el viaje")
	if got != "hoy hable con Marisol sobre el viaje" {
		t.Errorf("Correct = %q", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("len(corrections) = %d, want 1", len(corrections))
	}
	if corrections[0].Original != "marisole" || corrections[0].Corrected != "Marisol" {
		t.Errorf("correction = %+v", corrections[0])
	}
	if corrections[0].Confidence <= 0 {
		t.Errorf("Confidence = %v, want > 0", corrections[0].Confidence)
	}
}

func TestCorrectPreservesPunctuation(t *testing.T) {
	t.Parallel()

	c := New([]string{"Marisol"})

	got, _ := c.Correct("¿viste a marisole?")
	if got != "¿viste a Marisol?" {
		t.Errorf("Correct = %q", got)
	}
}

func TestCorrectLeavesExactMatchesAlone(t *testing.T) {
	t.Parallel()

	c := New([]string{"Marisol"})

	got, corrections := c.Correct("hable con marisol ayer")
	if got != "hable con marisol ayer" {
		t.Errorf("Correct = %q, want input unchanged", got)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %v, want none", corrections)
	}
}

func TestCorrectSkipsShortTokens(t *testing.T) {
	t.Parallel()

	// "la" and "el" must never be pulled toward vocabulary entries.
	c := New([]string{"Lana", "Elias"})

	got, corrections := c.Correct("la casa de el")
	if got != "la casa de el" {
		t.Errorf("Correct = %q, want input unchanged", got)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %v, want none", corrections)
	}
}

func TestCorrectUnrelatedTextUnchanged(t *testing.T) {
	t.Parallel()

	c := New([]string{"Marisol"})

	got, corrections := c.Correct("estuve trabajando toda la tarde")
	if got != "estuve trabajando toda la tarde" {
		t.Errorf("Correct = %q, want input unchanged", got)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %v, want none", corrections)
	}
}

func TestCorrectEmptyVocabulary(t *testing.T) {
	t.Parallel()

	c := New(nil)
	if !c.Empty() {
		t.Error("Empty() = false, want true")
	}

	got, corrections := c.Correct("marisole vino ayer")
	if got != "marisole vino ayer" || corrections != nil {
		t.Errorf("Correct = %q, %v; want input unchanged and nil corrections", got, corrections)
	}
}

func TestCorrectBlankVocabularyEntriesDropped(t *testing.T) {
	t.Parallel()

	c := New([]string{"  ", "", "Marisol"})
	if c.Empty() {
		t.Error("Empty() = true, want false")
	}
	if len(c.entries) != 1 {
		t.Errorf("len(entries) = %d, want 1", len(c.entries))
	}
}

func TestSplitPunct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token                string
		core, prefix, suffix string
	}{
		{"hola", "hola", "", ""},
		{"¿hola?", "hola", "¿", "?"},
		{"hola,", "hola", "", ","},
		{"...", "", "...", ""},
		{"(marisol)", "marisol", "(", ")"},
	}
	for _, tt := range tests {
		core, prefix, suffix := splitPunct(tt.token)
		if core != tt.core || prefix != tt.prefix || suffix != tt.suffix {
			t.Errorf("splitPunct(%q) = %q, %q, %q; want %q, %q, %q",
				tt.token, core, prefix, suffix, tt.core, tt.prefix, tt.suffix)
		}
	}
}
