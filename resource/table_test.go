package resource

import (
	"errors"
	"testing"
)

type dropCounter struct {
	drops int
}

func (d *dropCounter) Drop() {
	d.drops++
}

func TestTable_Basic(t *testing.T) {
	table := NewTable()

	h, err := table.Insert(TypeLuaValue, "test")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if _, ok := table.GetTyped(h, TypeLuaValue); !ok {
		t.Fatal("GetTyped with correct type failed")
	}
	if _, ok := table.GetTyped(h, TypeWASMInstance); ok {
		t.Fatal("GetTyped with wrong type should fail")
	}

	val, ok = table.Remove(h)
	if !ok || val != "test" {
		t.Fatalf("Remove = %v, %v", val, ok)
	}
	if table.Len() != 0 {
		t.Fatalf("Len() = %d after Remove, want 0", table.Len())
	}
	if _, ok := table.Get(h); ok {
		t.Fatal("Get after Remove should fail")
	}
}

func TestTable_InvalidHandles(t *testing.T) {
	table := NewTable()

	if _, ok := table.Get(0); ok {
		t.Error("handle 0 must be invalid")
	}
	if _, ok := table.Get(99); ok {
		t.Error("out of range handle must be invalid")
	}
	if _, ok := table.Remove(99); ok {
		t.Error("Remove of unknown handle must fail")
	}
}

func TestTable_ReusesSlots(t *testing.T) {
	table := NewTable()

	h1, _ := table.Insert(TypeLuaValue, 1)
	h2, _ := table.Insert(TypeLuaValue, 2)
	table.Remove(h1)

	h3, _ := table.Insert(TypeLuaValue, 3)
	if h3&indexMask != h1&indexMask {
		t.Errorf("expected slot of %d to be reused, got %d", h1, h3)
	}
	if h3 == h1 {
		t.Error("reused slot must get a new handle")
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
	if v, _ := table.Get(h2); v != 2 {
		t.Errorf("Get(h2) = %v, want 2", v)
	}
	if v, _ := table.Get(h3); v != 3 {
		t.Errorf("Get(h3) = %v, want 3", v)
	}
}

func TestTable_StaleHandle(t *testing.T) {
	table := NewTable()

	old, _ := table.Insert(TypeLuaValue, "old")
	table.Remove(old)
	if _, err := table.Insert(TypeLuaValue, "new"); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if v, ok := table.Get(old); ok {
		t.Errorf("Get(stale) = %v, want miss", v)
	}
	if _, ok := table.Remove(old); ok {
		t.Error("Remove(stale) must fail")
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestTable_DropOnRemoveAndClose(t *testing.T) {
	table := NewTable()

	removed := &dropCounter{}
	kept := &dropCounter{}

	h, _ := table.Insert(TypeWASMInstance, removed)
	if _, err := table.Insert(TypeWASMInstance, kept); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	table.Remove(h)
	if removed.drops != 1 {
		t.Errorf("removed.drops = %d, want 1", removed.drops)
	}

	table.Close()
	table.Close()
	if kept.drops != 1 {
		t.Errorf("kept.drops = %d, want 1", kept.drops)
	}
	if removed.drops != 1 {
		t.Errorf("removed value dropped again on Close")
	}

	if _, err := table.Insert(TypeLuaValue, "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Insert after Close error = %v, want ErrClosed", err)
	}
	if table.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", table.Len())
	}
}
