package archive

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

// stubRsync writes a shell script that records its arguments.
func stubRsync(t *testing.T, exitCode int) (bin, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub not available on windows")
	}

	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	bin = filepath.Join(dir, "rsync-stub")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\nexit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, argsFile
}

func TestRsyncPusher_Target(t *testing.T) {
	p := NewRsyncPusher("archive.internal", "inbound", nil)
	if got := p.Target(); got != "archive.internal::inbound" {
		t.Errorf("Target() = %q, want archive.internal::inbound", got)
	}
}

func TestRsyncPusher_Push(t *testing.T) {
	bin, argsFile := stubRsync(t, 0)

	p := NewRsyncPusher("archive.internal", "inbound", nil)
	p.Binary = bin

	files := []string{"/tmp/append.m1.2026-06.csv.gz", "/tmp/append.m2.2026-06.csv.gz"}
	if err := p.Push(context.Background(), files); err != nil {
		t.Fatalf("Push: %v", err)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("stub never invoked: %v", err)
	}
	args := strings.TrimSpace(string(data))

	for _, want := range []string{
		"--times",
		"--compress-choice=none",
		files[0],
		files[1],
		"archive.internal::inbound/",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if !strings.HasSuffix(args, "archive.internal::inbound/") {
		t.Errorf("target must be the final argument: %q", args)
	}
}

func TestRsyncPusher_PushFailure(t *testing.T) {
	bin, _ := stubRsync(t, 1)

	p := NewRsyncPusher("archive.internal", "inbound", nil)
	p.Binary = bin

	err := p.Push(context.Background(), []string{"/tmp/x.gz"})
	if err == nil {
		t.Fatal("expected error for nonzero rsync exit")
	}
	if !strings.Contains(err.Error(), "archive.internal::inbound") {
		t.Errorf("error %q does not name the target", err)
	}
}

func TestRsyncPusher_NoFilesIsNoop(t *testing.T) {
	p := NewRsyncPusher("archive.internal", "inbound", nil)
	p.Binary = "/nonexistent/rsync"
	if err := p.Push(context.Background(), nil); err != nil {
		t.Errorf("empty push should not invoke rsync: %v", err)
	}
}
