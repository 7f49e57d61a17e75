package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/rollcall/internal/infrastructure/config"
	"github.com/nerrad567/rollcall/internal/infrastructure/database"
	"github.com/nerrad567/rollcall/internal/scan"
	"github.com/nerrad567/rollcall/migrations"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

func TestSQLiteStore_UpsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, p := range testPeople() {
		if err := store.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert(%s) error = %v", p.PersonID, err)
		}
	}

	people, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(people) != 4 {
		t.Fatalf("List() len = %d, want 4", len(people))
	}

	got, err := store.Get(ctx, "S-1002")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CredentialID != "DEADBEEF01" {
		t.Errorf("CredentialID = %q, want canonical DEADBEEF01", got.CredentialID)
	}

	dijkstra, err := store.Get(ctx, "S-1004")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(dijkstra.Aliases) != 2 {
		t.Errorf("Aliases = %v, want 2 entries", dijkstra.Aliases)
	}
}

func TestSQLiteStore_UpsertUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := PersonRecord{PersonID: "S-1", DisplayName: "Ada", CredentialID: "045A2E92", Aliases: []string{"a", "b"}}
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	p.DisplayName = "Ada King"
	p.CredentialID = "11223344"
	p.Aliases = []string{"c"}
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	got, err := store.Get(ctx, "S-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DisplayName != "Ada King" || got.CredentialID != "11223344" {
		t.Errorf("got %+v", got)
	}
	if len(got.Aliases) != 1 || got.Aliases[0] != "c" {
		t.Errorf("Aliases = %v, want [c]", got.Aliases)
	}
}

func TestSQLiteStore_CredentialConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, PersonRecord{PersonID: "S-1", DisplayName: "Ada", CredentialID: "045A2E92"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	err := store.Upsert(ctx, PersonRecord{PersonID: "S-2", DisplayName: "Alan", CredentialID: "045a2e92"})
	if !errors.Is(err, ErrCredentialInUse) {
		t.Errorf("Upsert() error = %v, want ErrCredentialInUse", err)
	}
}

func TestSQLiteStore_Validation(t *testing.T) {
	store := newTestStore(t)

	err := store.Upsert(context.Background(), PersonRecord{PersonID: "S-1"})
	if !errors.Is(err, ErrInvalidPerson) {
		t.Errorf("Upsert() error = %v, want ErrInvalidPerson", err)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_FeedsCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, PersonRecord{PersonID: "S-1", DisplayName: "Ada", CredentialID: "045a2e92"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	cache := NewSnapshotCache()
	if err := cache.Refresh(ctx, store); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if p, ok := cache.FindLocal("045A2E92"); !ok || p.PersonID != "S-1" {
		t.Errorf("FindLocal() = %+v, %v", p, ok)
	}
}

func TestSQLiteStore_CredentialRule(t *testing.T) {
	norm, err := scan.NewNormalizer(config.NormalizerConfig{MinLength: 8, MaxLength: 16})
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}

	tests := []struct {
		name       string
		credential string
		want       string
		wantErr    bool
	}{
		{name: "colon separated", credential: "04:5a:2e:92", want: "045A2E92"},
		{name: "spaced", credential: " 04 5A 2E 92 ", want: "045A2E92"},
		{name: "already canonical", credential: "DEADBEEF01", want: "DEADBEEF01"},
		{name: "empty keeps none", credential: "", want: ""},
		{name: "too short", credential: "04:5a", wantErr: true},
		{name: "no hex", credential: "student-card", wantErr: true},
		{name: "too long", credential: "0123456789ABCDEF01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			store.SetCredentialRule(norm.Credential)
			ctx := context.Background()

			err := store.Upsert(ctx, PersonRecord{PersonID: "S-1", DisplayName: "Ada", CredentialID: tt.credential})
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPerson) {
					t.Errorf("Upsert() error = %v, want ErrInvalidPerson", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}

			got, err := store.Get(ctx, "S-1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.CredentialID != tt.want {
				t.Errorf("CredentialID = %q, want %q", got.CredentialID, tt.want)
			}
		})
	}
}

func TestSQLiteStore_SeparatedCredentialResolves(t *testing.T) {
	norm, err := scan.NewNormalizer(config.NormalizerConfig{MinLength: 8, MaxLength: 16})
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}
	store := newTestStore(t)
	store.SetCredentialRule(norm.Credential)
	ctx := context.Background()

	if err := store.Upsert(ctx, PersonRecord{PersonID: "S-1", DisplayName: "Ada", CredentialID: "04:5a:2e:92"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	cache := NewSnapshotCache()
	if err := cache.Refresh(ctx, store); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	id, err := norm.Normalize(scan.ManualFrame("04:5a:2e:92"))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	p, err := NewResolver(cache, nil, nil, 0).Resolve(ctx, id)
	if err != nil {
		t.Fatalf("Resolve(%s) error = %v", id, err)
	}
	if p.PersonID != "S-1" {
		t.Errorf("Resolve(%s) = %s, want S-1", id, p.PersonID)
	}
}
