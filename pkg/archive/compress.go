// Package archive handles the outbound half of a batch: per-file
// compression of closed group artifacts, the bulk push to the remote
// inbound share, and the bounded wait for the archive's confirmation
// message.
package archive

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses one closed artifact into a sibling file. Compression is
// lossless and deterministic per file; any failure is fatal to the batch
// before anything is transferred or deleted.
type Codec interface {
	// Name identifies the codec (gzip, zstd, lz4, none).
	Name() string
	// Compress writes the compressed form of src and returns its path.
	Compress(src string) (string, error)
}

// ForName returns the codec registered under name.
func ForName(name string) (Codec, error) {
	switch name {
	case "gzip", "":
		return gzipCodec{}, nil
	case "zstd":
		return zstdCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	case "none":
		return noopCodec{}, nil
	default:
		return nil, fmt.Errorf("archive: unknown compression codec %q", name)
	}
}

// compressFile pipes src through wrap into src+ext. The destination is
// removed again if anything fails, so a batch never leaves a half-written
// compressed artifact behind.
func compressFile(src, ext string, wrap func(io.Writer) (io.WriteCloser, error)) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer in.Close()

	dst := src + ext
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", dst, err)
	}

	cw, err := wrap(out)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("archive: init codec for %s: %w", dst, err)
	}

	if _, err := io.Copy(cw, in); err != nil {
		cw.Close()
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("archive: compress %s: %w", src, err)
	}
	if err := cw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("archive: finalize %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("archive: close %s: %w", dst, err)
	}
	return dst, nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Compress(src string) (string, error) {
	return compressFile(src, ".gz", func(w io.Writer) (io.WriteCloser, error) {
		// Default header: zero mtime, no name, so output is deterministic
		// for identical input.
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	})
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(src string) (string, error) {
	return compressFile(src, ".zst", func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1),
		)
	})
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(src string) (string, error) {
	return compressFile(src, ".lz4", func(w io.Writer) (io.WriteCloser, error) {
		return lz4.NewWriter(w), nil
	})
}

// noopCodec transfers artifacts uncompressed.
type noopCodec struct{}

func (noopCodec) Name() string { return "none" }

func (noopCodec) Compress(src string) (string, error) {
	return src, nil
}
