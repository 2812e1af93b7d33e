package router

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/retireflow/retireflow/pkg/annotated"
)

func testBlock(version int) *annotated.Block {
	return &annotated.Block{
		Lines: [4]string{
			"#group,false,true",
			"#datatype,string,string",
			"#default,,",
			",_time,_measurement",
		},
		Columns: annotated.ColumnIndex{"_time": 1, "_measurement": 2},
		Version: version,
	}
}

func testRecord(measurement, ts string) *annotated.Record {
	return &annotated.Record{
		Raw:         "," + ts + "," + measurement,
		Measurement: measurement,
		Time:        ts,
	}
}

func TestKey_FileName(t *testing.T) {
	k := Key{Measurement: "S_UpFgl_WindDirection", Period: "2026-06"}
	want := "append.S_UpFgl_WindDirection.2026-06.csv"
	if got := k.FileName(); got != want {
		t.Errorf("FileName() = %q, want %q", got, want)
	}
}

func TestRouter_Partition(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)

	blk := testBlock(1)
	records := []*annotated.Record{
		testRecord("m1", "2026-06-01T00:00:00Z"),
		testRecord("m1", "2026-06-02T00:00:00Z"),
		testRecord("m2", "2026-06-01T00:00:00Z"),
		testRecord("m1", "2026-07-01T00:00:00Z"), // same measurement, next month
	}
	for _, rec := range records {
		if err := r.Route(rec, blk); err != nil {
			t.Fatalf("Route: %v", err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if r.Total() != 4 {
		t.Errorf("Total() = %d, want 4", r.Total())
	}
	counts := r.Counts()
	if counts["m1"] != 3 || counts["m2"] != 1 {
		t.Errorf("Counts() = %v, want m1:3 m2:1", counts)
	}

	groups := r.Groups()
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	// Creation order follows first occurrence in the stream.
	wantOrder := []string{
		"append.m1.2026-06.csv",
		"append.m2.2026-06.csv",
		"append.m1.2026-07.csv",
	}
	for i, g := range groups {
		if filepath.Base(g.Path) != wantOrder[i] {
			t.Errorf("group %d = %s, want %s", i, filepath.Base(g.Path), wantOrder[i])
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "append.m1.2026-06.csv"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "#group,false,true\n") {
		t.Errorf("group file missing annotation header:\n%s", content)
	}
	if strings.Count(content, "#group") != 1 {
		t.Errorf("annotation block duplicated:\n%s", content)
	}
	if !strings.Contains(content, ",2026-06-01T00:00:00Z,m1\n") ||
		!strings.Contains(content, ",2026-06-02T00:00:00Z,m1\n") {
		t.Errorf("records missing from group file:\n%s", content)
	}
	if strings.Contains(content, "2026-07") {
		t.Errorf("record leaked across periods:\n%s", content)
	}
}

func TestRouter_ReannotateOnSchemaChange(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)

	if err := r.Route(testRecord("m1", "2026-06-01T00:00:00Z"), testBlock(1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Route(testRecord("m1", "2026-06-02T00:00:00Z"), testBlock(1)); err != nil {
		t.Fatal(err)
	}
	// New block version forces a fresh annotation before the next record.
	if err := r.Route(testRecord("m1", "2026-06-03T00:00:00Z"), testBlock(2)); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "append.m1.2026-06.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "#group"); got != 2 {
		t.Errorf("annotation blocks = %d, want 2:\n%s", got, data)
	}
}

func TestRouter_SeparatorForExistingFile(t *testing.T) {
	dir := t.TempDir()

	// Simulate leftover content from an interrupted earlier run.
	stale := filepath.Join(dir, "append.m1.2026-06.csv")
	if err := os.WriteFile(stale, []byte("#group,old\nstale line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(dir, nil)
	if err := r.Route(testRecord("m1", "2026-06-01T00:00:00Z"), testBlock(1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(stale)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "stale line\n\n#group,false,true\n") {
		t.Errorf("missing blank separator between stale content and new block:\n%s", content)
	}
}

func TestRouter_NoSeparatorForEmptyFile(t *testing.T) {
	dir := t.TempDir()

	// A pre-created empty file gets no separator.
	empty := filepath.Join(dir, "append.m1.2026-06.csv")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(dir, nil)
	if err := r.Route(testRecord("m1", "2026-06-01T00:00:00Z"), testBlock(1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(empty)
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(string(data), "\n") {
		t.Errorf("unexpected leading separator:\n%q", data)
	}
}

func TestGroup_CloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	if err := r.Route(testRecord("m1", "2026-06-01T00:00:00Z"), testBlock(1)); err != nil {
		t.Fatal(err)
	}

	g := r.Groups()[0]
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if g.Records() != 1 {
		t.Errorf("Records() = %d, want 1", g.Records())
	}
}
