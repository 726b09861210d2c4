package migrate

import (
	"context"
	"strings"
	"testing"

	"github.com/cgduncan7/autobaan/internal/db"
)

type boolRow struct{ v bool }

func (r boolRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = r.v
	return nil
}

type fakeStore struct {
	applied map[string]bool
	execs   []string
}

func (f *fakeStore) Exec(ctx context.Context, sql string, args ...any) error {
	f.execs = append(f.execs, sql)
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		f.applied[args[0].(string)] = true
	}
	return nil
}

func (f *fakeStore) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	return boolRow{v: f.applied[args[0].(string)]}
}

func TestUpAppliesEachFileOnce(t *testing.T) {
	files, err := Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}

	store := &fakeStore{applied: map[string]bool{}}
	if err := Up(context.Background(), store); err != nil {
		t.Fatalf("first up: %v", err)
	}
	for _, f := range files {
		if !store.applied[f] {
			t.Fatalf("expected %s to be recorded", f)
		}
	}

	before := len(store.execs)
	if err := Up(context.Background(), store); err != nil {
		t.Fatalf("second up: %v", err)
	}
	// only the CREATE TABLE IF NOT EXISTS for schema_migrations runs again
	if got := len(store.execs) - before; got != 1 {
		t.Fatalf("expected 1 exec on re-run, got %d", got)
	}
}
