// Package backup ships encrypted snapshots of the SQLite database to
// S3-compatible storage and restores them.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrDisabled is returned when storage or the passphrase is not configured.
var ErrDisabled = errors.New("backup: not configured")

const (
	lastRunKey = "backup.last_run"
	keyLayout  = "20060102T150405Z"
	checkEvery = 10 * time.Minute
)

// ObjectStore is the subset of the S3 API the manager uses.
type ObjectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// StateStore remembers when the last snapshot was taken.
type StateStore interface {
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}

type Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Prefix     string
	Passphrase string
	// Interval between scheduled snapshots. Zero disables the loop.
	Interval time.Duration
	// Keep is how many snapshots survive pruning. Zero keeps all.
	Keep int
}

// Result describes one uploaded snapshot.
type Result struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	Pruned int    `json:"pruned"`
}

type Manager struct {
	cfg    Config
	db     *sql.DB
	client ObjectStore
	state  StateStore
	logger *slog.Logger
	now    func() time.Time

	running sync.Mutex
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Manager)

// WithObjectStore replaces the S3 client built from Config.
func WithObjectStore(c ObjectStore) Option {
	return func(m *Manager) { m.client = c }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg Config, db *sql.DB, state StateStore, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		db:     db,
		state:  state,
		logger: logger.With("component", "backup"),
		now:    time.Now,
	}
	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" {
		m.client = newS3Client(cfg)
	}
	for _, opt := range opts {
		opt(m)
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

// Enabled reports whether snapshots can be taken.
func (m *Manager) Enabled() bool {
	return m.client != nil && m.cfg.Bucket != "" && m.cfg.Passphrase != ""
}

func (m *Manager) objectKey(t time.Time) string {
	return m.prefix() + "medreminder-" + t.UTC().Format(keyLayout) + ".db.enc"
}

func (m *Manager) prefix() string {
	p := strings.Trim(m.cfg.Prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Run takes a consistent copy of the database, encrypts it, uploads it and
// prunes old snapshots. Concurrent calls are serialized.
func (m *Manager) Run(ctx context.Context) (Result, error) {
	if !m.Enabled() {
		return Result{}, ErrDisabled
	}
	m.running.Lock()
	defer m.running.Unlock()

	now := m.now()
	plain, err := m.snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	sealed, err := Seal(plain, m.cfg.Passphrase)
	if err != nil {
		return Result{}, fmt.Errorf("encrypt snapshot: %w", err)
	}

	key := m.objectKey(now)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload snapshot: %w", err)
	}
	if m.state != nil {
		if err := m.state.SetTime(ctx, lastRunKey, now); err != nil {
			m.logger.Error("record backup time", "error", err)
		}
	}

	res := Result{Key: key, Size: int64(len(sealed))}
	res.Pruned, err = m.prune(ctx)
	if err != nil {
		m.logger.Warn("prune snapshots", "error", err)
	}
	m.logger.Info("snapshot uploaded", "key", key, "bytes", res.Size, "pruned", res.Pruned)
	return res, nil
}

// snapshot returns the bytes of a transactionally consistent database copy.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "medreminder-backup-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// List returns snapshot keys, oldest first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}
	var keys []string
	var token *string
	for {
		out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(m.cfg.Bucket),
			Prefix:            aws.String(m.prefix() + "medreminder-"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	// keys embed a sortable UTC timestamp
	sort.Strings(keys)
	return keys, nil
}

func (m *Manager) prune(ctx context.Context) (int, error) {
	if m.cfg.Keep <= 0 {
		return 0, nil
	}
	keys, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) <= m.cfg.Keep {
		return 0, nil
	}
	var pruned int
	for _, key := range keys[:len(keys)-m.cfg.Keep] {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			return pruned, fmt.Errorf("delete %s: %w", key, err)
		}
		pruned++
	}
	return pruned, nil
}

// Restore downloads and decrypts the snapshot at key into dstPath. The
// running database is not touched; swap the file in while the service is
// stopped.
func (m *Manager) Restore(ctx context.Context, key, dstPath string) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	plain, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dstPath, plain, 0o600); err != nil {
		return fmt.Errorf("write restored database: %w", err)
	}
	return nil
}

// Due reports whether Interval has passed since the last snapshot.
func (m *Manager) Due(ctx context.Context) (bool, error) {
	if m.cfg.Interval <= 0 || m.state == nil {
		return false, nil
	}
	last, err := m.state.GetTime(ctx, lastRunKey)
	if err != nil {
		return false, err
	}
	return last.IsZero() || !m.now().Before(last.Add(m.cfg.Interval)), nil
}

// Start checks periodically and takes a snapshot whenever one is due. It is a
// no-op when backups are disabled or no interval is set.
func (m *Manager) Start(ctx context.Context) {
	if !m.Enabled() || m.cfg.Interval <= 0 {
		return
	}
	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(checkEvery)
		defer ticker.Stop()
		for {
			m.runIfDue(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *Manager) runIfDue(ctx context.Context) {
	due, err := m.Due(ctx)
	if err != nil {
		m.logger.Error("check backup schedule", "error", err)
		return
	}
	if !due {
		return
	}
	if _, err := m.Run(ctx); err != nil {
		m.logger.Error("scheduled backup", "error", err)
	}
}

// Stop ends the loop started by Start and waits for it.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
