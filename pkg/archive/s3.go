package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Config configures the S3 archive backend. Endpoint and UsePathStyle
// exist for S3-compatible inbound shares (MinIO and the like).
type S3Config struct {
	Region       string
	Bucket       string
	Prefix       string
	Endpoint     string
	UsePathStyle bool

	// Credentials are optional; the default chain applies otherwise.
	AccessKeyID     string
	SecretAccessKey string

	UploadTimeout time.Duration
}

// S3Pusher ships artifacts into an object-store bucket acting as the
// archive inbound share.
type S3Pusher struct {
	cfg    S3Config
	client *s3.Client
	log    *zap.Logger
}

// NewS3Pusher builds the client from cfg.
func NewS3Pusher(ctx context.Context, cfg S3Config, log *zap.Logger) (*S3Pusher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &S3Pusher{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		log:    log,
	}, nil
}

func (p *S3Pusher) Target() string {
	return "s3://" + path.Join(p.cfg.Bucket, p.cfg.Prefix)
}

// Push uploads each file under the configured key prefix. Keys derive from
// the artifact file names, which are already collision-free across runs.
func (p *S3Pusher) Push(ctx context.Context, files []string) error {
	for _, file := range files {
		if err := p.put(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (p *S3Pusher) put(ctx context.Context, file string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.UploadTimeout)
	defer cancel()

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", file, err)
	}
	defer f.Close()

	key := path.Join(p.cfg.Prefix, filepath.Base(file))
	p.log.Debug("uploading artifact", zap.String("key", key))

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("archive: upload %s to %s: %w", file, p.Target(), err)
	}
	return nil
}
