package db

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
)

func TestUpMigrations_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_more.up.sql":   {Data: []byte("SELECT 2")},
		"0001_init.up.sql":   {Data: []byte("SELECT 1")},
		"0001_init.down.sql": {Data: []byte("SELECT 0")},
		"embed.go":           {Data: []byte("package migrations")},
	}

	got, err := upMigrations(fsys)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := []string{"0001_init.up.sql", "0002_more.up.sql"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestNilPool(t *testing.T) {
	var p *Pool

	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("expected nil ping error on nil pool, got %v", err)
	}
	if q := p.Queries(); q != nil {
		t.Fatalf("expected nil queries on nil pool")
	}
	if err := p.InTx(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := p.Migrate(context.Background(), fstest.MapFS{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	p.Close()
}
