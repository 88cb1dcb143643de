// Package backup ships encrypted snapshots of the licensing database to
// S3-compatible storage on a fixed interval and prunes old ones.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds backup manager configuration. The manager stays disabled
// unless bucket, credentials, and passphrase are all present.
type Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Prefix     string // object key prefix, defaults to "licensing"
	Interval   time.Duration
	Retention  int // number of snapshots to keep
}

// Status holds the current backup manager status.
type Status struct {
	Enabled    bool       `json:"enabled"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// Manager runs the scheduled snapshot loop.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status

	db     *sql.DB
	client s3Client
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, db *sql.DB, logger *slog.Logger) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "licensing"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 14
	}

	m := &Manager{cfg: cfg, db: db, logger: logger}
	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" && cfg.Passphrase != "" {
		m.client = newS3Client(cfg)
		m.status.Enabled = true
	}
	return m
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start begins the scheduled backup loop. No-op when disabled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if !m.status.Enabled {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RunOnce(ctx); err != nil {
					m.logger.Error("scheduled backup", "error", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the backup loop.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setProgress(inProgress bool, at *time.Time, errMsg string) {
	m.mu.Lock()
	m.status.InProgress = inProgress
	if at != nil {
		m.status.LastBackup = at
	}
	m.status.LastError = errMsg
	m.mu.Unlock()
}

// RunOnce takes one snapshot, encrypts it, uploads it, and prunes old
// snapshots past the retention count.
func (m *Manager) RunOnce(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	cfg := m.cfg
	m.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("backup not configured")
	}

	m.setProgress(true, nil, "")

	snapshot := filepath.Join(os.TempDir(), fmt.Sprintf("licensing-snapshot-%d.db", time.Now().UnixNano()))
	defer os.Remove(snapshot)

	// VACUUM INTO produces a consistent single-file copy even with WAL on.
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		m.setProgress(false, nil, err.Error())
		return fmt.Errorf("snapshot database: %w", err)
	}

	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		m.setProgress(false, nil, err.Error())
		return fmt.Errorf("read snapshot: %w", err)
	}
	encrypted, err := Encrypt(plaintext, cfg.Passphrase)
	if err != nil {
		m.setProgress(false, nil, err.Error())
		return fmt.Errorf("encrypt snapshot: %w", err)
	}

	key := fmt.Sprintf("%s/backup-%s.db.enc", cfg.Prefix, time.Now().UTC().Format("2006-01-02T150405Z"))
	backoff := retry.WithMaxRetries(3, retry.NewExponential(2*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(cfg.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(encrypted),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		m.setProgress(false, nil, err.Error())
		return fmt.Errorf("upload snapshot: %w", err)
	}

	now := time.Now().UTC()
	m.setProgress(false, &now, "")
	m.logger.Info("backup uploaded", "key", key, "bytes", len(encrypted))

	if err := m.prune(ctx, client, cfg); err != nil {
		m.logger.Error("prune old backups", "error", err)
	}
	return nil
}

// prune deletes the oldest snapshots beyond the retention count.
func (m *Manager) prune(ctx context.Context, client s3Client, cfg Config) error {
	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.Bucket),
		Prefix: aws.String(cfg.Prefix + "/"),
	})
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key != nil {
			keys = append(keys, *obj.Key)
		}
	}
	if len(keys) <= cfg.Retention {
		return nil
	}
	// Keys embed a sortable UTC timestamp.
	sort.Strings(keys)

	for _, key := range keys[:len(keys)-cfg.Retention] {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		m.logger.Info("pruned backup", "key", key)
	}
	return nil
}
