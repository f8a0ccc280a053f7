package resource

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestRelease_LIFO(t *testing.T) {
	m := NewManager(t.TempDir())
	var order []string
	for _, name := range []string{"read", "reprojected", "clipped"} {
		m.Register(name, func() error {
			order = append(order, name)
			return nil
		})
	}
	if err := m.Release(); err != nil {
		t.Fatal(err)
	}
	want := []string{"clipped", "reprojected", "read"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if len(m.Pending()) != 0 {
		t.Error("entries left after release")
	}
}

func TestRelease_RunsAllAndJoinsErrors(t *testing.T) {
	m := NewManager(t.TempDir())
	ran := 0
	boom := errors.New("boom")
	m.Register("a", func() error { ran++; return nil })
	m.Register("b", func() error { ran++; return boom })
	m.Register("c", func() error { ran++; return nil })
	err := m.Release()
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if ran != 3 {
		t.Errorf("ran %d releases, want 3", ran)
	}
}

func TestTempFile_RemovedOnRelease(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	f, err := m.TempFile(".tif")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("partial"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(f.Name(), ".tif") || filepath.Dir(f.Name()) != dir {
		t.Errorf("unexpected temp path %s", f.Name())
	}
	if got := m.Pending(); len(got) != 1 || got[0] != f.Name() {
		t.Errorf("Pending = %v", got)
	}
	if err := m.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.Name()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file still exists: %v", err)
	}
}

func TestPromote(t *testing.T) {
	m := NewManager(t.TempDir())
	f, err := m.TempFile(".json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"type":"FeatureCollection"}`)
	f.Close()

	dst := filepath.Join(t.TempDir(), "out", "roads.json")
	if err := m.Promote(f.Name(), dst); err != nil {
		t.Fatal(err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("release after promote: %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"FeatureCollection"}` {
		t.Errorf("content = %q", b)
	}
}

func TestRegisterAfterRelease(t *testing.T) {
	m := NewManager("")
	m.Release()
	ran := false
	m.Register("late", func() error { ran = true; return nil })
	if !ran {
		t.Error("late registration should release immediately")
	}
}
