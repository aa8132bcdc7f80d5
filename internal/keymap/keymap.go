// Package keymap holds the editor's default key bindings and validates
// user overrides. The database stores only overrides; defaults live here.
package keymap

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCombo   = errors.New("invalid key combination")
)

// Binding pairs a command with its effective key combination.
type Binding struct {
	Command   string `json:"command"`
	Combo     string `json:"combo"`
	IsDefault bool   `json:"isDefault"`
}

// defaults maps command names to their stock combinations. "mod" stands
// for Cmd on macOS and Ctrl elsewhere; the client resolves it.
var defaults = map[string]string{
	"editor.bold":            "mod+b",
	"editor.italic":          "mod+i",
	"editor.underline":       "mod+u",
	"editor.strike":          "mod+shift+s",
	"editor.code":            "mod+e",
	"editor.link":            "mod+k",
	"editor.heading1":        "mod+alt+1",
	"editor.heading2":        "mod+alt+2",
	"editor.heading3":        "mod+alt+3",
	"editor.bulletList":      "mod+shift+8",
	"editor.orderedList":     "mod+shift+7",
	"editor.blockquote":      "mod+shift+b",
	"editor.codeBlock":       "mod+alt+c",
	"editor.undo":            "mod+z",
	"editor.redo":            "mod+shift+z",
	"editor.save":            "mod+s",
	"editor.find":            "mod+f",
	"app.commandPalette":     "mod+shift+p",
	"app.quickOpen":          "mod+p",
	"app.newDocument":        "mod+n",
	"app.toggleSidebar":      "mod+\\",
	"app.focusMode":          "mod+shift+f",
	"assistant.open":         "mod+j",
	"assistant.acceptDraft":  "mod+enter",
	"assistant.dismissDraft": "escape",
}

// modifiers in canonical order. "mod" and "cmd"/"ctrl" may not be mixed.
var modifierSet = map[string]bool{
	"mod":   true,
	"ctrl":  true,
	"cmd":   true,
	"alt":   true,
	"shift": true,
}

// namedKeys beyond single printable characters.
var namedKeys = map[string]bool{
	"enter": true, "escape": true, "tab": true, "space": true,
	"backspace": true, "delete": true, "up": true, "down": true,
	"left": true, "right": true, "home": true, "end": true,
	"pageup": true, "pagedown": true,
	"f1": true, "f2": true, "f3": true, "f4": true, "f5": true, "f6": true,
	"f7": true, "f8": true, "f9": true, "f10": true, "f11": true, "f12": true,
}

// IsKnownCommand reports whether cmd has a default binding.
func IsKnownCommand(cmd string) bool {
	_, ok := defaults[cmd]
	return ok
}

// DefaultCombo returns the stock combination for a command.
func DefaultCombo(cmd string) (string, bool) {
	combo, ok := defaults[cmd]
	return combo, ok
}

// ValidateCombo checks a combination like "mod+shift+k": zero or more
// distinct modifiers followed by exactly one key, all lower case.
func ValidateCombo(combo string) error {
	if combo == "" {
		return ErrInvalidCombo
	}
	parts := strings.Split(combo, "+")

	seen := make(map[string]bool, len(parts))
	for i, part := range parts {
		last := i == len(parts)-1
		if !last {
			if !modifierSet[part] {
				return ErrInvalidCombo
			}
			if seen[part] {
				return ErrInvalidCombo
			}
			if part == "mod" && (seen["ctrl"] || seen["cmd"]) {
				return ErrInvalidCombo
			}
			if (part == "ctrl" || part == "cmd") && seen["mod"] {
				return ErrInvalidCombo
			}
			seen[part] = true
			continue
		}
		if !validKey(part) {
			return ErrInvalidCombo
		}
	}
	return nil
}

func validKey(key string) bool {
	if namedKeys[key] {
		return true
	}
	if len(key) != 1 {
		return false
	}
	r := rune(key[0])
	if r >= 'a' && r <= 'z' {
		return true
	}
	if r >= '0' && r <= '9' {
		return true
	}
	switch r {
	case '\\', '/', '.', ',', ';', '\'', '[', ']', '-', '=', '`':
		return true
	}
	return false
}

// Merged returns every command with its effective combination, overrides
// applied over defaults, sorted by command name.
func Merged(overrides map[string]string) []Binding {
	bindings := make([]Binding, 0, len(defaults))
	for cmd, combo := range defaults {
		b := Binding{Command: cmd, Combo: combo, IsDefault: true}
		if custom, ok := overrides[cmd]; ok {
			b.Combo = custom
			b.IsDefault = false
		}
		bindings = append(bindings, b)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Command < bindings[j].Command })
	return bindings
}
