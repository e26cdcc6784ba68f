// Package archive stores replay logs of finished matches.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cardarena/arena-server-go/internal/config"
	"github.com/cardarena/arena-server-go/internal/game"
	"github.com/cardarena/arena-server-go/internal/ports"
	"go.uber.org/zap"
)

// Archive saves and loads replays by match id.
type Archive interface {
	game.ReplayArchive
	Load(ctx context.Context, matchID string) (*game.ReplayLog, error)
}

func objectName(matchID string) string {
	return matchID + ".replay.gz"
}

// Dir keeps replays as files in a local directory.
type Dir struct {
	root   string
	logger *zap.Logger
}

// NewDir creates the directory if needed.
func NewDir(root string, logger *zap.Logger) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create replay dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dir{root: root, logger: logger}, nil
}

// Save writes the replay atomically through a temporary file.
func (d *Dir) Save(_ context.Context, log *game.ReplayLog) error {
	path := filepath.Join(d.root, objectName(log.MatchID))
	tmp, err := os.CreateTemp(d.root, ".replay-*")
	if err != nil {
		return fmt.Errorf("create replay file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := game.EncodeReplay(tmp, log); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close replay file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store replay file: %w", err)
	}
	d.logger.Debug("replay archived", zap.String("match_id", log.MatchID), zap.String("path", path))
	return nil
}

func (d *Dir) Load(_ context.Context, matchID string) (*game.ReplayLog, error) {
	f, err := os.Open(filepath.Join(d.root, objectName(filepath.Base(matchID))))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay %s: %w", matchID, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	return game.DecodeReplay(f)
}

// ObjectAPI is the part of the S3 client the archive uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Archive uploads replays to an S3 compatible bucket such as R2.
type S3Archive struct {
	client ObjectAPI
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Archive wraps a client.
func NewS3Archive(client ObjectAPI, bucket string, logger *zap.Logger) *S3Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Archive{client: client, bucket: bucket, prefix: "replays/", logger: logger}
}

// DialS3 builds a client from the replay settings. Static credentials are
// used when configured; otherwise the default AWS chain applies. A custom
// endpoint switches to path-style addressing.
func DialS3(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (*S3Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Info("replay archive on s3",
		zap.String("bucket", cfg.Bucket),
		zap.String("endpoint", cfg.Endpoint),
	)
	return NewS3Archive(client, cfg.Bucket, logger), nil
}

func (a *S3Archive) Save(ctx context.Context, log *game.ReplayLog) error {
	var buf bytes.Buffer
	if err := game.EncodeReplay(&buf, log); err != nil {
		return err
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.prefix + objectName(log.MatchID)),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload replay: %w", err)
	}
	a.logger.Debug("replay uploaded", zap.String("match_id", log.MatchID), zap.Int("bytes", buf.Len()))
	return nil
}

func (a *S3Archive) Load(ctx context.Context, matchID string) (*game.ReplayLog, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.prefix + objectName(matchID)),
	})
	var missing *types.NoSuchKey
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("replay %s: %w", matchID, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download replay: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay: %w", err)
	}
	return game.DecodeReplay(bytes.NewReader(data))
}

var (
	_ Archive = (*Dir)(nil)
	_ Archive = (*S3Archive)(nil)
)
