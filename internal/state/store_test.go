package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	logx "simlog/pkg/logx"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		5: {
			"alice": NewSolvedSet(10, 11),
			"bob":   NewSolvedSet(3),
			"carol": NewSolvedSet(),
		},
		9: {},
	}
}

func openStore(t *testing.T, driver string) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestStoreRoundTrip(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openStore(t, driver)

			ok, err := st.Exists(ctx)
			if err != nil || ok {
				t.Fatalf("fresh store Exists = %v, %v; want false, nil", ok, err)
			}

			want := sampleSnapshot()
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("save: %v", err)
			}
			ok, err = st.Exists(ctx)
			if err != nil || !ok {
				t.Fatalf("Exists after save = %v, %v; want true, nil", ok, err)
			}

			got, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}

			// A second save replaces the first one as a whole.
			next := want.Clone()
			next.Add(5, "carol", 12)
			if err := st.Save(ctx, next); err != nil {
				t.Fatalf("second save: %v", err)
			}
			got, err = st.Load(ctx)
			if err != nil {
				t.Fatalf("second load: %v", err)
			}
			if !got.Equal(next) {
				t.Fatalf("second load = %v, want %v", got, next)
			}
		})
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	st, path := openStore(t, "file")
	for i := 0; i < 3; i++ {
		s := sampleSnapshot()
		s.Add(5, "bob", 100+i)
		if err := st.Save(ctx, s); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(path) {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("directory entries = %v, want only %s", names, filepath.Base(path))
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", "{{{"},
		{"object instead of list", `{"contestId": 5}`},
		{"null", "null"},
		{"null with whitespace", " null\n"},
		{"empty file", ""},
		{"missing contestId", `[{"data": []}]`},
		{"missing data", `[{"contestId": 5}]`},
		{"missing name", `[{"contestId": 5, "data": [{"problems": [1]}]}]`},
		{"missing problems", `[{"contestId": 5, "data": [{"name": "bob"}]}]`},
		{"empty name", `[{"contestId": 5, "data": [{"name": "", "problems": []}]}]`},
		{"problem not int", `[{"contestId": 5, "data": [{"name": "bob", "problems": ["x"]}]}]`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st, path := openStore(t, "file")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := st.Load(context.Background())
			if !IsCorrupt(err) {
				t.Fatalf("Load error = %v, want CorruptStateError", err)
			}
		})
	}
}

func TestDecodeToleratesUnknownFieldsAndMerges(t *testing.T) {
	body := `[
		{"contestId": 5, "extra": true, "data": [
			{"name": "bob", "problems": [3], "note": "x"},
			{"name": "bob", "problems": [4, 3]}
		]},
		{"contestId": 5, "data": [{"name": "alice", "problems": []}]},
		{"contestId": 7, "data": []}
	]`
	got, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Snapshot{
		5: {"bob": NewSolvedSet(3, 4), "alice": NewSolvedSet()},
		7: {},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decode mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	s := Snapshot{
		9: {"zed": NewSolvedSet(2, 1)},
		5: {"bob": NewSolvedSet(4, 3), "alice": NewSolvedSet()},
	}
	a, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(s.Clone())
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("encode not deterministic:\n%s\n---\n%s", a, b)
	}
	back, err := Decode(a)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(s) {
		t.Fatalf("decode(encode(s)) = %v, want %v", back, s)
	}
}

func TestSQLiteRejectsGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	junk := make([]byte, 4096)
	for i := range junk {
		junk[i] = 0x5a
	}
	if err := os.WriteFile(path, junk, 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err == nil {
		_ = st.Close()
		t.Fatalf("open on garbage file succeeded")
	}
	if !IsCorrupt(err) {
		t.Fatalf("open error = %v, want CorruptStateError", err)
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Open(Config{Driver: "redis", Path: filepath.Join(t.TempDir(), "x")}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestSnapshotContainsAndAdd(t *testing.T) {
	s := sampleSnapshot()
	if n := s.Add(5, "bob", 3); n != 1 {
		t.Fatalf("re-adding existing id: size = %d, want 1", n)
	}
	if n := s.Add(5, "bob", 4); n != 2 {
		t.Fatalf("size after add = %d, want 2", n)
	}
	if !s.Contains(sampleSnapshot()) {
		t.Fatalf("grown snapshot must contain the original")
	}
	if sampleSnapshot().Contains(s) {
		t.Fatalf("original must not contain the grown snapshot")
	}
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4", s.Len())
	}
}
