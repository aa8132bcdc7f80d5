package keymap

import (
	"errors"
	"testing"
)

func TestValidateCombo(t *testing.T) {
	valid := []string{
		"mod+b",
		"mod+shift+z",
		"ctrl+alt+delete",
		"cmd+k",
		"escape",
		"f5",
		"mod+\\",
		"shift+tab",
		"mod+alt+1",
	}
	for _, combo := range valid {
		if err := ValidateCombo(combo); err != nil {
			t.Errorf("ValidateCombo(%q) = %v, want nil", combo, err)
		}
	}

	invalid := []string{
		"",
		"mod+",
		"+b",
		"mod++b",
		"b+mod",            // modifier after key
		"mod+mod+b",        // duplicate modifier
		"mod+ctrl+b",       // mod may not mix with ctrl
		"cmd+mod+b",        // or with cmd
		"super+b",          // unknown modifier
		"mod+bb",           // multi-char non-named key
		"mod+Enter",        // combos are lower case
		"mod+shift",        // ends in a modifier
	}
	for _, combo := range invalid {
		if err := ValidateCombo(combo); !errors.Is(err, ErrInvalidCombo) {
			t.Errorf("ValidateCombo(%q) = %v, want ErrInvalidCombo", combo, err)
		}
	}
}

func TestIsKnownCommand(t *testing.T) {
	if !IsKnownCommand("editor.bold") {
		t.Error("editor.bold should be a known command")
	}
	if IsKnownCommand("editor.nonsense") {
		t.Error("editor.nonsense should not be a known command")
	}
}

func TestMerged(t *testing.T) {
	overrides := map[string]string{
		"editor.bold": "ctrl+shift+b",
	}

	bindings := Merged(overrides)
	if len(bindings) == 0 {
		t.Fatal("Merged() returned no bindings")
	}

	// Sorted by command name.
	for i := 1; i < len(bindings); i++ {
		if bindings[i-1].Command >= bindings[i].Command {
			t.Fatalf("bindings not sorted: %q before %q", bindings[i-1].Command, bindings[i].Command)
		}
	}

	var bold, italic *Binding
	for i := range bindings {
		switch bindings[i].Command {
		case "editor.bold":
			bold = &bindings[i]
		case "editor.italic":
			italic = &bindings[i]
		}
	}
	if bold == nil || italic == nil {
		t.Fatal("expected editor.bold and editor.italic in merged bindings")
	}
	if bold.Combo != "ctrl+shift+b" || bold.IsDefault {
		t.Errorf("editor.bold = {%q, default=%v}, want override ctrl+shift+b", bold.Combo, bold.IsDefault)
	}
	if italic.Combo != "mod+i" || !italic.IsDefault {
		t.Errorf("editor.italic = {%q, default=%v}, want default mod+i", italic.Combo, italic.IsDefault)
	}
}

func TestDefaultCombosAreValid(t *testing.T) {
	for _, b := range Merged(nil) {
		if err := ValidateCombo(b.Combo); err != nil {
			t.Errorf("default combo %q for %s does not validate: %v", b.Combo, b.Command, err)
		}
	}
}
