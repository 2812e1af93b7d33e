package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/retireflow/retireflow/pkg/annotated"
)

const sampleStream = `#group,false,false,true,true,false,false,true,true,true,true
#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,double,string,string,string,string
#default,_result,,,,,,,,,
,result,table,_start,_stop,_time,_value,RetDate,_field,_measurement,item
,,0,2024-09-01T00:00:00Z,2024-10-01T00:00:00Z,2024-09-03T10:00:00Z,12.5,2024-09,speed,S_UpFgl_WindDirection,vane1
,,0,2024-09-01T00:00:00Z,2024-10-01T00:00:00Z,2024-09-03T10:01:00Z,13.1,2024-09,speed,S_UpFgl_WindDirection,vane1
,,1,2024-09-01T00:00:00Z,2024-10-01T00:00:00Z,2024-09-04T08:00:00Z,440,2024-09,lux,W_WBase_Light,cell3
`

func TestBuilder_Sample(t *testing.T) {
	dir := t.TempDir()
	b := New(strings.NewReader(sampleStream), dir, nil)

	result, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Empty {
		t.Fatal("result marked empty")
	}
	if result.Total != 3 {
		t.Errorf("Total = %d, want 3", result.Total)
	}

	// Summary is sorted by measurement name.
	if len(result.Summary) != 2 {
		t.Fatalf("summary rows = %d, want 2", len(result.Summary))
	}
	if result.Summary[0].Measurement != "S_UpFgl_WindDirection" || result.Summary[0].Count != 2 {
		t.Errorf("summary[0] = %+v, want S_UpFgl_WindDirection:2", result.Summary[0])
	}
	if result.Summary[1].Measurement != "W_WBase_Light" || result.Summary[1].Count != 1 {
		t.Errorf("summary[1] = %+v, want W_WBase_Light:1", result.Summary[1])
	}

	if len(result.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(result.Artifacts))
	}
	wantFiles := map[string]bool{
		"append.S_UpFgl_WindDirection.2024-09.csv": true,
		"append.W_WBase_Light.2024-09.csv":         true,
	}
	for _, a := range result.Artifacts {
		if !wantFiles[filepath.Base(a)] {
			t.Errorf("unexpected artifact %s", filepath.Base(a))
		}
		data, err := os.ReadFile(a)
		if err != nil {
			t.Fatalf("artifact unreadable: %v", err)
		}
		if !strings.HasPrefix(string(data), "#group") {
			t.Errorf("artifact %s missing annotation header", filepath.Base(a))
		}
	}
}

func TestBuilder_Empty(t *testing.T) {
	dir := t.TempDir()
	b := New(strings.NewReader(""), dir, nil)

	result, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Empty {
		t.Error("result not marked empty")
	}
	if result.Total != 0 || len(result.Artifacts) != 0 {
		t.Errorf("empty result carries data: %+v", result)
	}
}

func TestBuilder_HeaderOnlyIsEmpty(t *testing.T) {
	stream := "#group,false,true\n#datatype,string,string\n#default,,\n,_time,_measurement\n"
	dir := t.TempDir()

	result, err := New(strings.NewReader(stream), dir, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Empty {
		t.Error("header-only stream should be empty")
	}
}

func TestBuilder_StructuralErrorAborts(t *testing.T) {
	stream := "#group,false,true\n#datatype,string,string\n#default,,\n,_time,_measurement\n" +
		",2026-06-01T00:00:00Z,m1\n" +
		"#bogus,broken\n"
	dir := t.TempDir()

	_, err := New(strings.NewReader(stream), dir, nil).Run(context.Background())
	se, ok := annotated.AsStructural(err)
	if !ok {
		t.Fatalf("got %v, want *StructuralError", err)
	}
	if se.Class != annotated.ClassUnknownHeader {
		t.Errorf("class = %s, want unknown_header", se.Class)
	}
	if se.Line != 6 {
		t.Errorf("line = %d, want 6", se.Line)
	}
}

func TestBuilder_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	_, err := New(strings.NewReader(sampleStream), dir, nil).Run(ctx)
	if err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
