// Package ingest is the entry boundary: it stores a receipt file, creates
// the pending receipt record, and hands the job to the dispatch gateway.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/expensobot/receipts-engine/constants"
	"github.com/expensobot/receipts-engine/internal/entity"
	"github.com/expensobot/receipts-engine/internal/repository"
	"github.com/expensobot/receipts-engine/internal/storage"
)

// Submitter is the dispatch slice ingestion needs.
type Submitter interface {
	Submit(job entity.Job) (string, error)
}

// Result is the per-file outcome of an ingest.
type Result struct {
	Path       string
	ReceiptID  uuid.UUID
	StorageKey string
	JobRef     string
	Err        string
}

// DirStats aggregates a directory ingest.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

type Service struct {
	repo    repository.ReceiptRepository
	store   storage.Store
	gateway Submitter
	logger  *slog.Logger
}

func NewService(repo repository.ReceiptRepository, store storage.Store, gateway Submitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, store: store, gateway: gateway, logger: logger}
}

// IngestFile stores one file, creates the pending receipt, and submits the
// processing job. A submission failure leaves the receipt pending; the
// returned Result still carries the receipt id so the caller can resubmit.
func (s *Service) IngestFile(ctx context.Context, userID uuid.UUID, path string) (Result, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return Result{Path: path}, fmt.Errorf("unsupported file extension %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Path: path}, fmt.Errorf("read %s: %w", path, err)
	}

	var (
		filename = filepath.Base(path)
		size     = int64(len(data))
		ctype    = contentType(ext)
	)
	rec := &entity.Receipt{
		ID:               uuid.New(),
		UserID:           userID,
		OriginalFilename: &filename,
		FileSize:         &size,
		ContentType:      &ctype,
	}
	key := fmt.Sprintf("%s/%s.%s", userID, rec.ID, ext)
	rec.StorageKey = &key

	if err := s.store.Put(ctx, key, data, ctype); err != nil {
		return Result{Path: path}, fmt.Errorf("store %s: %w", path, err)
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return Result{Path: path}, fmt.Errorf("create receipt: %w", err)
	}

	res := Result{Path: path, ReceiptID: rec.ID, StorageKey: key}
	ref, err := s.gateway.Submit(entity.Job{
		ReceiptID:  rec.ID,
		StorageKey: key,
		UserID:     userID,
		Metadata: map[string]string{
			"filename": filename,
			"format":   constants.MapExtToFormat(ext),
		},
	})
	if err != nil {
		// Receipt stays pending; resubmission is the caller's call.
		s.logger.Warn("ingest.submit.failed", "receipt_id", rec.ID, "error", err)
		res.Err = err.Error()
		return res, err
	}
	res.JobRef = ref

	s.logger.Info("ingest.file.ok", "receipt_id", rec.ID, "path", path, "job_ref", ref)
	return res, nil
}

// IngestDirectory walks root, ingesting every file with an allowed extension.
// Hidden files and directories are skipped. Per-file failures are recorded
// and the walk continues.
func (s *Service) IngestDirectory(ctx context.Context, userID uuid.UUID, root string) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []Result
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			results = append(results, Result{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		stats.Scanned++

		ext := constants.NormalizeExt(filepath.Ext(path))
		if _, ok := constants.AllowedExtensions[ext]; !ok {
			return nil
		}
		stats.Matched++

		res, ferr := s.IngestFile(ctx, userID, path)
		results = append(results, res)
		if ferr != nil {
			stats.Failed++
			return nil
		}
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk %s: %w", root, err)
	}

	s.logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return base != "." && strings.HasPrefix(base, ".")
}

func contentType(ext string) string {
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	// HEIC is routinely missing from system mime tables.
	if constants.IsHEICExt(ext) {
		return "image/heic"
	}
	return "application/octet-stream"
}
