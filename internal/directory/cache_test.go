package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type staticLister struct {
	records []PersonRecord
	err     error
}

func (s staticLister) List(context.Context) ([]PersonRecord, error) {
	return s.records, s.err
}

func testPeople() []PersonRecord {
	return []PersonRecord{
		{PersonID: "S-1001", DisplayName: "Ada Lovelace", CredentialID: "045A2E92", Aliases: []string{"ada"}},
		{PersonID: "S-1002", DisplayName: "Alan Turing", CredentialID: "deadbeef01"},
		// A person whose ID happens to be hex, and another whose alias collides with it.
		{PersonID: "CAFEBABE", DisplayName: "Grace Hopper"},
		{PersonID: "S-1004", DisplayName: "Edsger Dijkstra", Aliases: []string{"cafebabe", "0000AAAA"}},
	}
}

func TestSnapshotCache_FindLocal(t *testing.T) {
	c := NewSnapshotCache()
	c.Replace(testPeople())

	tests := []struct {
		name       string
		id         string
		wantPerson string
		wantOK     bool
	}{
		{"by credential", "045A2E92", "S-1001", true},
		{"credential stored lowercase", "DEADBEEF01", "S-1002", true},
		{"by person id", "S-1002", "S-1002", true},
		{"person id beats alias", "CAFEBABE", "CAFEBABE", true},
		{"by alias", "0000AAAA", "S-1004", true},
		{"alias case insensitive", "ADA", "S-1001", true},
		{"unknown", "FFFFFFFF", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := c.FindLocal(tt.id)
			if ok != tt.wantOK {
				t.Fatalf("FindLocal(%q) ok = %v, want %v", tt.id, ok, tt.wantOK)
			}
			if p.PersonID != tt.wantPerson {
				t.Errorf("FindLocal(%q) = %q, want %q", tt.id, p.PersonID, tt.wantPerson)
			}
		})
	}
}

func TestSnapshotCache_CredentialBeatsPersonID(t *testing.T) {
	c := NewSnapshotCache()
	c.Replace([]PersonRecord{
		{PersonID: "11111111", DisplayName: "Owner of ID"},
		{PersonID: "S-2", DisplayName: "Owner of card", CredentialID: "11111111"},
	})

	p, ok := c.FindLocal("11111111")
	if !ok || p.PersonID != "S-2" {
		t.Errorf("FindLocal() = %q, %v; want credential match S-2", p.PersonID, ok)
	}
}

func TestSnapshotCache_ReturnsCopies(t *testing.T) {
	c := NewSnapshotCache()
	c.Replace(testPeople())

	p, _ := c.FindLocal("045A2E92")
	p.DisplayName = "mutated"
	p.Aliases[0] = "mutated"

	again, _ := c.FindLocal("045A2E92")
	if again.DisplayName != "Ada Lovelace" || again.Aliases[0] != "ada" {
		t.Errorf("cache entry was mutated through a returned copy: %+v", again)
	}
}

func TestSnapshotCache_Refresh(t *testing.T) {
	c := NewSnapshotCache()
	ctx := context.Background()

	if err := c.Refresh(ctx, staticLister{records: testPeople()}); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if c.Size() != 4 {
		t.Errorf("Size() = %d, want 4", c.Size())
	}
	loaded := c.LoadedAt()

	// A failed refresh keeps the previous snapshot.
	err := c.Refresh(ctx, staticLister{err: errors.New("disk gone")})
	if err == nil {
		t.Fatal("Refresh() expected error")
	}
	if c.Size() != 4 || !c.LoadedAt().Equal(loaded) {
		t.Error("failed refresh replaced the snapshot")
	}
}

func TestSnapshotCache_ConcurrentReplace(t *testing.T) {
	c := NewSnapshotCache()
	a := []PersonRecord{{PersonID: "A", DisplayName: "A", CredentialID: "AAAAAAAA"}}
	b := []PersonRecord{{PersonID: "B", DisplayName: "B", CredentialID: "AAAAAAAA"}}
	c.Replace(a)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				c.Replace(b)
			} else {
				c.Replace(a)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			p, ok := c.FindLocal("AAAAAAAA")
			if !ok {
				t.Error("credential vanished during replace")
				return
			}
			if p.PersonID != p.DisplayName {
				t.Errorf("torn record %+v", p)
				return
			}
		}
	}()
	wg.Wait()
}

func TestSnapshotCache_OnReplace(t *testing.T) {
	c := NewSnapshotCache()

	var sizes []int
	c.OnReplace(func(n int) { sizes = append(sizes, n) })

	c.Replace([]PersonRecord{{PersonID: "p1", CredentialID: "AAAAAAAA"}})
	c.Replace(nil)

	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 0 {
		t.Errorf("OnReplace sizes = %v, want [1 0]", sizes)
	}
}
