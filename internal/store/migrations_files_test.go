package store

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"testing"
)

var migrationName = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

// The migration runner orders files lexically by name, so versions must
// be zero-padded, contiguous from 1, and paired up/down.
func TestMigrationFileLayout(t *testing.T) {
	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	type pair struct{ up, down string }
	pairs := map[int]*pair{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		m := migrationName.FindStringSubmatch(name)
		if m == nil {
			t.Errorf("unexpected file in migrations dir: %s", name)
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil || version < 1 {
			t.Errorf("bad version prefix in %s", name)
			continue
		}
		p := pairs[version]
		if p == nil {
			p = &pair{}
			pairs[version] = p
		}
		switch m[2] {
		case "up":
			if p.up != "" {
				t.Errorf("version %d has two up files: %s and %s", version, p.up, name)
			}
			p.up = name
		case "down":
			if p.down != "" {
				t.Errorf("version %d has two down files: %s and %s", version, p.down, name)
			}
			p.down = name
		}
	}

	if len(pairs) == 0 {
		t.Fatal("no migrations found")
	}

	versions := make([]int, 0, len(pairs))
	for v := range pairs {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for i, v := range versions {
		if v != i+1 {
			t.Errorf("versions are not contiguous: expected %d, found %d", i+1, v)
		}
		p := pairs[v]
		if p.up == "" {
			t.Errorf("version %d is missing its up file", v)
		}
		if p.down == "" {
			t.Errorf("version %d is missing its down file", v)
		}
		if p.up != "" {
			info, err := os.Stat(filepath.Join(dir, p.up))
			if err != nil {
				t.Fatalf("stat %s: %v", p.up, err)
			}
			if info.Size() == 0 {
				t.Errorf("%s is empty", p.up)
			}
		}
	}
}
