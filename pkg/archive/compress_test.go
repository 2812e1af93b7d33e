package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "append.m1.2026-06.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestForName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"gzip", "gzip", false},
		{"", "gzip", false},
		{"zstd", "zstd", false},
		{"lz4", "lz4", false},
		{"none", "none", false},
		{"brotli", "", true},
	}

	for _, tt := range tests {
		codec, err := ForName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ForName(%q) expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("ForName(%q): %v", tt.name, err)
			continue
		}
		if codec.Name() != tt.want {
			t.Errorf("ForName(%q).Name() = %q, want %q", tt.name, codec.Name(), tt.want)
		}
	}
}

func TestCodec_Roundtrip(t *testing.T) {
	content := strings.Repeat("#group,false,true\n,2026-06-01T00:00:00Z,m1\n", 200)

	tests := []struct {
		codec  string
		ext    string
		decode func(r io.Reader) (io.Reader, error)
	}{
		{
			codec: "gzip",
			ext:   ".gz",
			decode: func(r io.Reader) (io.Reader, error) {
				return gzip.NewReader(r)
			},
		},
		{
			codec: "zstd",
			ext:   ".zst",
			decode: func(r io.Reader) (io.Reader, error) {
				zr, err := zstd.NewReader(r)
				if err != nil {
					return nil, err
				}
				return zr.IOReadCloser(), nil
			},
		},
		{
			codec: "lz4",
			ext:   ".lz4",
			decode: func(r io.Reader) (io.Reader, error) {
				return lz4.NewReader(r), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.codec, func(t *testing.T) {
			src := writeArtifact(t, content)
			codec, err := ForName(tt.codec)
			if err != nil {
				t.Fatal(err)
			}

			dst, err := codec.Compress(src)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if dst != src+tt.ext {
				t.Errorf("dst = %s, want %s", dst, src+tt.ext)
			}

			f, err := os.Open(dst)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()

			dec, err := tt.decode(f)
			if err != nil {
				t.Fatalf("decode init: %v", err)
			}
			got, err := io.ReadAll(dec)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !bytes.Equal(got, []byte(content)) {
				t.Error("roundtrip mismatch")
			}

			// Source artifact is left in place for the working dir cleanup.
			if _, err := os.Stat(src); err != nil {
				t.Errorf("source removed: %v", err)
			}
		})
	}
}

func TestNoopCodec_PassesThrough(t *testing.T) {
	src := writeArtifact(t, "data\n")
	codec, err := ForName("none")
	if err != nil {
		t.Fatal(err)
	}

	dst, err := codec.Compress(src)
	if err != nil {
		t.Fatal(err)
	}
	if dst != src {
		t.Errorf("dst = %s, want %s unchanged", dst, src)
	}
}

func TestCodec_MissingSource(t *testing.T) {
	codec, err := ForName("gzip")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Compress(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Error("expected error for missing source")
	}
}
