// Package storage archives completed analysis runs. Snapshots are JSON
// documents in S3 (or a local directory in development); an optional
// DynamoDB table indexes runs per project.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ignite/campaign-journeys/internal/config"
	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
)

// keyTimeLayout sorts lexically in time order.
const keyTimeLayout = "2006-01-02T15:04:05.000Z"

// RunRecord describes one archived analysis run.
type RunRecord struct {
	ProjectID       string    `json:"project_id" dynamodbav:"ProjectID"`
	MerchantID      string    `json:"merchant_id" dynamodbav:"MerchantID"`
	Key             string    `json:"key" dynamodbav:"Key"`
	CompletedAt     time.Time `json:"completed_at" dynamodbav:"CompletedAt"`
	TotalRecipients int       `json:"total_recipients" dynamodbav:"TotalRecipients"`
	NewUsers        int       `json:"new_users" dynamodbav:"NewUsers"`
	EdgeCount       int       `json:"edge_count" dynamodbav:"EdgeCount"`
}

// blobStore holds snapshot documents by key.
type blobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// runIndex records runs for fast per-project listing.
type runIndex interface {
	PutRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, projectID string, limit int) ([]RunRecord, error)
}

// Archive stores analysis snapshots.
type Archive struct {
	blobs  blobStore
	index  runIndex
	prefix string
	now    func() time.Time
}

// New creates an archive from config. Type "local" writes under LocalPath;
// anything else uses S3, plus DynamoDB when DynamoDBTable is set.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	a := &Archive{prefix: strings.Trim(cfg.Prefix, "/"), now: time.Now}

	switch cfg.Type {
	case "local":
		if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}
		a.blobs = &localStore{root: cfg.LocalPath}
	default:
		if cfg.S3Bucket == "" {
			return nil, errors.New("archive: s3_bucket is required")
		}
		awsArchive, err := NewAWSArchive(ctx, cfg.S3Bucket, cfg.DynamoDBTable, cfg.S3Region, cfg.GetAWSProfile())
		if err != nil {
			return nil, fmt.Errorf("initializing AWS archive: %w", err)
		}
		a.blobs = awsArchive.blobs()
		if cfg.DynamoDBTable != "" {
			a.index = awsArchive.index()
		}
	}

	logger.Info("analysis archive ready", "type", cfg.Type, "prefix", a.prefix, "indexed", a.index != nil)
	return a, nil
}

func (a *Archive) snapshotKey(projectID string, at time.Time) string {
	return path.Join(a.prefix, projectID, at.UTC().Format(keyTimeLayout)+".json")
}

// SaveSnapshot writes the snapshot and indexes it.
func (a *Archive) SaveSnapshot(ctx context.Context, snap domain.AnalysisSnapshot) error {
	at := snap.Stats.CompletedAt
	if at.IsZero() {
		at = a.now()
	}
	key := a.snapshotKey(snap.ProjectID, at)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := a.blobs.Put(ctx, key, data); err != nil {
		return fmt.Errorf("saving snapshot %s: %w", key, err)
	}

	if a.index != nil {
		rec := RunRecord{
			ProjectID:       snap.ProjectID,
			MerchantID:      snap.MerchantID,
			Key:             key,
			CompletedAt:     at.UTC(),
			TotalRecipients: snap.Stats.TotalRecipients,
			NewUsers:        snap.Stats.NewUsers,
			EdgeCount:       snap.Stats.EdgeCount,
		}
		if err := a.index.PutRun(ctx, rec); err != nil {
			return fmt.Errorf("indexing snapshot %s: %w", key, err)
		}
	}
	logger.Debug("analysis snapshot archived", "project_id", snap.ProjectID, "key", key)
	return nil
}

// ListRuns returns a project's archived runs, newest first. limit <= 0
// returns all of them.
func (a *Archive) ListRuns(ctx context.Context, projectID string, limit int) ([]RunRecord, error) {
	if a.index != nil {
		return a.index.ListRuns(ctx, projectID, limit)
	}

	keys, err := a.blobs.List(ctx, path.Join(a.prefix, projectID)+"/")
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	runs := make([]RunRecord, 0, len(keys))
	for _, k := range keys {
		ts, err := time.Parse(keyTimeLayout, strings.TrimSuffix(path.Base(k), ".json"))
		if err != nil {
			continue
		}
		runs = append(runs, RunRecord{ProjectID: projectID, Key: k, CompletedAt: ts})
		if limit > 0 && len(runs) == limit {
			break
		}
	}
	return runs, nil
}

// GetSnapshot loads an archived snapshot by key.
func (a *Archive) GetSnapshot(ctx context.Context, key string) (*domain.AnalysisSnapshot, error) {
	data, err := a.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var snap domain.AnalysisSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot %s: %w", key, err)
	}
	return &snap, nil
}

// localStore keeps blobs as files under root.
type localStore struct {
	root string
}

func (s *localStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

func (s *localStore) Put(_ context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0644)
}

func (s *localStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %s: %w", key, domain.ErrNotFound)
	}
	return data, err
}

func (s *localStore) List(_ context.Context, prefix string) ([]string, error) {
	dir, err := s.path(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".json") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	return keys, err
}
