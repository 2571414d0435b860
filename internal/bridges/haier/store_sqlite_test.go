package haier

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/haier-bridge/internal/infrastructure/config"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/database"
	"github.com/nerrad567/haier-bridge/migrations"
)

func openMigratedDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "haier.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestSQLiteCacheStore(t *testing.T) {
	db := openMigratedDB(t)
	store := NewSQLiteCacheStore(db.DB)
	ctx := context.Background()

	if _, ok, err := store.Load(ctx, "D1"); err != nil || ok {
		t.Fatalf("Load() on empty table = ok %v, err %v", ok, err)
	}

	if err := store.Save(ctx, "D1", []byte(`{"attributes":[]}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, "D1", []byte(`{"attributes":[{"name":"a"}]}`)); err != nil {
		t.Fatalf("Save() overwrite error = %v", err)
	}

	rec, ok, err := store.Load(ctx, "D1")
	if err != nil || !ok {
		t.Fatalf("Load() = ok %v, err %v", ok, err)
	}
	if string(rec) != `{"attributes":[{"name":"a"}]}` {
		t.Errorf("Load() = %s", rec)
	}

	if err := store.Delete(ctx, "D1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "D1"); err != nil {
		t.Errorf("Delete() of missing record error = %v", err)
	}
	if _, ok, _ := store.Load(ctx, "D1"); ok {
		t.Error("record still present after Delete()")
	}
}

func TestAttributeCacheOnSQLite(t *testing.T) {
	db := openMigratedDB(t)
	store := NewSQLiteCacheStore(db.DB)
	ctx := context.Background()

	if err := store.Save(ctx, "D1", []byte(`"corrupt"`)); err != nil {
		t.Fatal(err)
	}
	fetcher := &fakeFetcher{attrs: []Attribute{{Name: "targetTemp", Value: "40", HasValue: true}}}
	cache := NewAttributeCache(store, fetcher, nil)

	attrs, err := cache.GetAttributes(ctx, testDevice)
	if err != nil {
		t.Fatalf("GetAttributes() error = %v", err)
	}
	if len(attrs) != 1 || attrs[0].Name != "targetTemp" {
		t.Errorf("GetAttributes() = %+v", attrs)
	}

	// Second lookup is served from the rewritten row.
	fetcher.err = context.Canceled
	attrs, err = cache.GetAttributes(ctx, testDevice)
	if err != nil || len(attrs) != 1 || attrs[0].Value != "40" {
		t.Errorf("cached GetAttributes() = %+v, %v", attrs, err)
	}
}

func TestSQLiteTokenRepository(t *testing.T) {
	db := openMigratedDB(t)
	repo := NewSQLiteTokenRepository(db.DB)
	ctx := context.Background()

	if _, ok, err := repo.LoadToken(ctx, "client-1"); err != nil || ok {
		t.Fatalf("LoadToken() on empty table = ok %v, err %v", ok, err)
	}

	expires := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	want := StoredToken{
		TokenInfo:        TokenInfo{AccessToken: "A", RefreshToken: "R", ExpiresIn: 7200},
		ExpiresAt:        expires,
		SeedRefreshToken: "R0",
	}
	if err := repo.SaveToken(ctx, "client-1", want); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	want.AccessToken = "A2"
	if err := repo.SaveToken(ctx, "client-1", want); err != nil {
		t.Fatalf("SaveToken() overwrite error = %v", err)
	}

	got, ok, err := repo.LoadToken(ctx, "client-1")
	if err != nil || !ok {
		t.Fatalf("LoadToken() = ok %v, err %v", ok, err)
	}
	if got.TokenInfo != want.TokenInfo || !got.ExpiresAt.Equal(expires) || got.SeedRefreshToken != "R0" {
		t.Errorf("LoadToken() = %+v, want %+v", got, want)
	}
}
