package archive

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Pusher ships compressed artifacts to the archive's inbound share.
// Push failure is fatal to the batch and guarantees nothing is deleted;
// re-sending the same files later is idempotent on the remote side.
type Pusher interface {
	// Push transfers all files in one bulk operation.
	Push(ctx context.Context, files []string) error
	// Target describes the destination for logs and status output.
	Target() string
}

// RsyncPusher pushes files to an rsync daemon module (host::module). The
// transfer is delta-capable but semantically a plain copy since artifacts
// are always new files.
type RsyncPusher struct {
	Host   string
	Module string

	// Binary overrides the rsync executable path (tests).
	Binary string

	log *zap.Logger
}

// NewRsyncPusher creates a pusher for host::module.
func NewRsyncPusher(host, module string, log *zap.Logger) *RsyncPusher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RsyncPusher{Host: host, Module: module, log: log}
}

func (p *RsyncPusher) Target() string {
	return p.Host + "::" + p.Module
}

// Push invokes rsync once for all files. Arguments are deterministic so
// repeated pushes of the same batch behave identically.
func (p *RsyncPusher) Push(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}

	bin := p.Binary
	if bin == "" {
		bin = "rsync"
	}

	args := []string{"--times", "--compress-choice=none"}
	args = append(args, files...)
	args = append(args, p.Target()+"/")

	p.log.Info("pushing artifacts",
		zap.Int("files", len(files)),
		zap.String("target", p.Target()))

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("archive: rsync push to %s failed: %w: %s",
			p.Target(), err, strings.TrimSpace(string(out)))
	}
	return nil
}
