package storage

import (
	"strings"
	"testing"
)

// stubDialect satisfies Dialect through embedding; only construction is
// exercised by registry tests.
type stubDialect struct {
	Dialect
	params map[string]any
	tables TableNames
}

func TestRegister_AndNewDialect(t *testing.T) {
	Register("stub-new", func(params map[string]any, tables TableNames) (Dialect, error) {
		return &stubDialect{params: params, tables: tables}, nil
	})

	d, err := NewDialect("stub-new", map[string]any{"database": "x"}, NewTableNames("", "", "", ""))
	if err != nil {
		t.Fatalf("NewDialect() failed: %v", err)
	}
	sd := d.(*stubDialect)
	if sd.params["database"] != "x" {
		t.Errorf("params not forwarded: %v", sd.params)
	}
	if sd.tables.Data != "data" {
		t.Errorf("tables not forwarded: %+v", sd.tables)
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	Register("stub-dup", func(map[string]any, TableNames) (Dialect, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register() should panic")
		}
	}()
	Register("stub-dup", func(map[string]any, TableNames) (Dialect, error) { return nil, nil })
}

func TestRegister_NilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Register(nil) should panic")
		}
	}()
	Register("stub-nil", nil)
}

func TestNewDialect_UnknownKind(t *testing.T) {
	_, err := NewDialect("no-such-backend", nil, TableNames{})
	if err == nil {
		t.Fatal("NewDialect() with unknown kind should fail")
	}
	if !strings.Contains(err.Error(), "no-such-backend") {
		t.Errorf("error should name the unknown kind: %v", err)
	}
}

func TestDrivers_Sorted(t *testing.T) {
	Register("stub-zz", func(map[string]any, TableNames) (Dialect, error) { return nil, nil })
	Register("stub-aa", func(map[string]any, TableNames) (Dialect, error) { return nil, nil })

	names := Drivers()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Drivers() not sorted: %v", names)
		}
	}
}
