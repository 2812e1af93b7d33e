package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/retireflow/retireflow/pkg/annotated"
	"github.com/retireflow/retireflow/pkg/archive"
	"github.com/retireflow/retireflow/pkg/batch"
	"github.com/retireflow/retireflow/pkg/config"
	"github.com/retireflow/retireflow/pkg/source"
	"github.com/retireflow/retireflow/pkg/telemetry"
	"github.com/retireflow/retireflow/pkg/workflow"
)

var periodPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// resolvePeriod defaults an unset --period to the current year-month.
func resolvePeriod() {
	if periodFlag == "" {
		periodFlag = time.Now().UTC().Format("2006-01")
	}
}

func runRetire(cmd *cobra.Command, args []string) error {
	resolvePeriod()
	if !periodPattern.MatchString(periodFlag) {
		exitCode = exitUsage
		return fmt.Errorf("invalid period %q, want YYYY-MM", periodFlag)
	}

	cfg, err := loadConfig()
	if err != nil {
		exitCode = exitUsage
		return err
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		exitCode = exitUsage
		return err
	}

	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry.Enabled {
		tcfg := telemetry.DefaultConfig("retireflow")
		tcfg.ServiceVersion = version
		if cfg.Telemetry.Endpoint != "" {
			tcfg.Endpoint = cfg.Telemetry.Endpoint
		}
		shutdown, err := telemetry.Init(ctx, tcfg)
		if err != nil {
			log.Warn("telemetry disabled", zap.Error(err))
		} else {
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer scancel()
				shutdown(sctx)
			}()
		}
	}

	store := source.NewHTTPStore(source.Config{
		URL:     cfg.Source.URL,
		Org:     cfg.Source.Org,
		Bucket:  cfg.Source.Bucket,
		Token:   cfg.Source.Token,
		TagKey:  cfg.Source.TagKey,
		Timeout: cfg.Source.Timeout,
	}, log)

	pusher, err := newPusher(ctx, cfg, log)
	if err != nil {
		return err
	}

	codec, err := archive.ForName(cfg.Compression.Codec)
	if err != nil {
		exitCode = exitUsage
		return err
	}

	// Bind before anything is pushed so the archive host can connect the
	// moment it finishes appending.
	listener, err := archive.Listen(cfg.Confirm.Bind, log)
	if err != nil {
		return fmt.Errorf("bind confirmation listener: %w", err)
	}
	defer listener.Close()

	journal, err := newJournal(cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	var input io.Reader
	if inputFile != "" {
		in, err := openInput(inputFile)
		if err != nil {
			return err
		}
		if c, ok := in.(io.Closer); ok {
			defer c.Close()
		}
		input = in
	}

	coord := &workflow.Coordinator{
		Store:          store,
		Pusher:         pusher,
		Codec:          codec,
		Listener:       listener,
		Journal:        journal,
		Period:         periodFlag,
		TagKey:         cfg.Source.TagKey,
		WorkDir:        cfg.WorkDir,
		ConfirmTimeout: cfg.Confirm.Timeout,
		Input:          input,
		Log:            log,
	}
	if !noProgress && isTerminal() {
		coord.OnProgress = progressReporter()
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	out := coord.Run(ctx)
	renderOutcome(out, pusher.Target())
	exitCode = outcomeExit(out)
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	resolvePeriod()
	if !periodPattern.MatchString(periodFlag) {
		exitCode = exitUsage
		return fmt.Errorf("invalid period %q, want YYYY-MM", periodFlag)
	}

	cfg, err := loadConfig()
	if err != nil {
		exitCode = exitUsage
		return err
	}

	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var stream io.Reader
	if inputFile != "" {
		in, err := openInput(inputFile)
		if err != nil {
			return err
		}
		if c, ok := in.(io.Closer); ok {
			defer c.Close()
		}
		stream = in
	} else {
		store := source.NewHTTPStore(source.Config{
			URL:     cfg.Source.URL,
			Org:     cfg.Source.Org,
			Bucket:  cfg.Source.Bucket,
			Token:   cfg.Source.Token,
			TagKey:  cfg.Source.TagKey,
			Timeout: cfg.Source.Timeout,
		}, log)
		body, err := store.Query(ctx, periodFlag)
		if err != nil {
			return err
		}
		defer body.Close()
		stream = body
	}

	dir, err := os.MkdirTemp("", "retireflow-plan-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	result, err := batch.New(stream, dir, log).Run(ctx)
	if err != nil {
		if se, ok := annotated.AsStructural(err); ok {
			exitCode = structuralExit(se)
		} else {
			exitCode = exitError
		}
		return err
	}

	renderPlan(periodFlag, result)
	if result.Empty {
		exitCode = exitEmpty
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		exitCode = exitUsage
		return err
	}

	journal, err := newJournal(cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := journal.Load(ctx, args[0])
	if err != nil {
		if os.IsNotExist(err) {
			exitCode = exitError
			return fmt.Errorf("no journal record for run %s", args[0])
		}
		return err
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// loadConfig loads the layered configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	mgr := config.NewManager()
	if err := mgr.Load(configFile); err != nil {
		return nil, err
	}
	return mgr.Get(), nil
}

// applyFlagOverrides lets run flags win over file and env settings.
func applyFlagOverrides(cfg *config.Config) {
	if codecFlag != "" {
		cfg.Compression.Codec = codecFlag
	}
	if bindFlag != "" {
		cfg.Confirm.Bind = bindFlag
	}
	if timeoutFlag != "" {
		if d, err := time.ParseDuration(timeoutFlag); err == nil {
			cfg.Confirm.Timeout = d
		}
	}
}

func buildLogger() (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if !jsonLogs {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return zcfg.Build()
}

func newPusher(ctx context.Context, cfg *config.Config, log *zap.Logger) (archive.Pusher, error) {
	switch cfg.Archive.Backend {
	case "rsync":
		p := archive.NewRsyncPusher(cfg.Archive.Rsync.Host, cfg.Archive.Rsync.Module, log)
		p.Binary = cfg.Archive.Rsync.Binary
		return p, nil
	case "s3":
		return archive.NewS3Pusher(ctx, archive.S3Config{
			Region:          cfg.Archive.S3.Region,
			Bucket:          cfg.Archive.S3.Bucket,
			Prefix:          cfg.Archive.S3.Prefix,
			Endpoint:        cfg.Archive.S3.Endpoint,
			UsePathStyle:    cfg.Archive.S3.UsePathStyle,
			AccessKeyID:     cfg.Archive.S3.AccessKeyID,
			SecretAccessKey: cfg.Archive.S3.SecretAccessKey,
			UploadTimeout:   cfg.Archive.S3.UploadTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}

func newJournal(cfg *config.Config) (workflow.Journal, error) {
	switch cfg.Journal.Backend {
	case "file", "":
		return workflow.NewFileJournal(cfg.Journal.Dir)
	case "redis":
		rcfg := workflow.DefaultRedisJournalConfig(cfg.Journal.Redis.Address)
		rcfg.Password = cfg.Journal.Redis.Password
		rcfg.Database = cfg.Journal.Redis.Database
		if cfg.Journal.Redis.TTL > 0 {
			rcfg.TTL = cfg.Journal.Redis.TTL
		}
		return workflow.NewRedisJournal(rcfg)
	case "none":
		return workflow.NopJournal{}, nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
	}
}

func openInput(path string) (io.Reader, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// progressReporter renders one bar per phase, re-created when the phase
// changes.
func progressReporter() func(phase string, done, total int) {
	var bar *progressbar.ProgressBar
	currentPhase := ""
	return func(phase string, done, total int) {
		if phase != currentPhase {
			currentPhase = phase
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(phase),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionClearOnFinish(),
			)
		}
		if bar != nil {
			bar.Set(done)
		}
	}
}

// outcomeExit maps a finished run to the exit code surface.
func outcomeExit(out *workflow.Outcome) int {
	switch out.Status {
	case workflow.StatusArchived:
		return exitOK
	case workflow.StatusArchivedUnconfirmed:
		return exitArchivedUnconfirmed
	case workflow.StatusEmpty:
		return exitEmpty
	case workflow.StatusDeleteFailed:
		return exitDeleteFailed
	case workflow.StatusCompressFailed:
		return exitCompressFailed
	case workflow.StatusTransferFailed:
		return exitTransferFailed
	case workflow.StatusStructuralError:
		if se, ok := annotated.AsStructural(out.Err); ok {
			return structuralExit(se)
		}
		return exitError
	default:
		return exitError
	}
}

func structuralExit(se *annotated.StructuralError) int {
	switch se.Class {
	case annotated.ClassUnknownHeader:
		return exitUnknownHeader
	case annotated.ClassBlockShape:
		return exitBlockShape
	case annotated.ClassBlankMeasurement:
		return exitBlankMeasurement
	case annotated.ClassBlankTime:
		return exitBlankTime
	case annotated.ClassMissingColumns:
		return exitMissingColumns
	default:
		return exitError
	}
}
