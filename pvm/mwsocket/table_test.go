// File: pvm/mwsocket/table_test.go
package mwsocket

import (
	"testing"

	"github.com/openxt/mwsockets-go/pvm/registry"
)

func TestTableNewAssignsDistinctLocalHandles(t *testing.T) {
	table := NewTable(&fakeRing{}, registry.New())
	a := table.New()
	b := table.New()
	if a.Local == b.Local {
		t.Fatalf("expected distinct local handles, got %v twice", a.Local)
	}
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}
}

func TestTableLookupAndForget(t *testing.T) {
	table := NewTable(&fakeRing{}, registry.New())
	in := table.New()
	found, err := table.Lookup(in.Local)
	if err != nil || found != in {
		t.Fatalf("Lookup() = %v, %v, want %v, nil", found, err, in)
	}
	table.Forget(in.Local)
	if _, err := table.Lookup(in.Local); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
