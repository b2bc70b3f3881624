package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensobot/receipts-engine/constants"
	"github.com/expensobot/receipts-engine/internal/common"
	"github.com/expensobot/receipts-engine/internal/dedup"
	"github.com/expensobot/receipts-engine/internal/entity"
	"github.com/expensobot/receipts-engine/internal/llm"
	"github.com/expensobot/receipts-engine/internal/ocr"
	"github.com/expensobot/receipts-engine/internal/repository"
)

type fakeRepo struct {
	receipts map[uuid.UUID]*entity.Receipt

	checksums  map[uuid.UUID]string
	ocrTexts   map[uuid.UUID]string
	failures   map[uuid.UUID]string
	saved      map[uuid.UUID]*repository.ExtractionUpdate
	statuses   map[uuid.UUID][]constants.ReceiptStatus
	markFailed error
	saveErr    error
}

func newFakeRepo(recs ...*entity.Receipt) *fakeRepo {
	f := &fakeRepo{
		receipts:  map[uuid.UUID]*entity.Receipt{},
		checksums: map[uuid.UUID]string{},
		ocrTexts:  map[uuid.UUID]string{},
		failures:  map[uuid.UUID]string{},
		saved:     map[uuid.UUID]*repository.ExtractionUpdate{},
		statuses:  map[uuid.UUID][]constants.ReceiptStatus{},
	}
	for _, r := range recs {
		f.receipts[r.ID] = r
	}
	return f
}

func (f *fakeRepo) Create(_ context.Context, rec *entity.Receipt) error {
	f.receipts[rec.ID] = rec
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Receipt, error) {
	rec, ok := f.receipts[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRepo) FindByChecksum(_ context.Context, digest string, excludingID uuid.UUID) (*entity.Receipt, error) {
	for id, d := range f.checksums {
		if d == digest && id != excludingID {
			return f.receipts[id], nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) MarkProcessing(_ context.Context, id uuid.UUID) error {
	f.receipts[id].Status = constants.StatusProcessing
	f.statuses[id] = append(f.statuses[id], constants.StatusProcessing)
	return nil
}

func (f *fakeRepo) SetChecksum(_ context.Context, id uuid.UUID, digest string) error {
	f.checksums[id] = digest
	return nil
}

func (f *fakeRepo) SetOCRText(_ context.Context, id uuid.UUID, text string) error {
	f.ocrTexts[id] = text
	return nil
}

func (f *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, processedAt time.Time) error {
	if f.markFailed != nil {
		return f.markFailed
	}
	rec := f.receipts[id]
	rec.Status = constants.StatusError
	rec.ErrorMessage = &errMsg
	rec.ProcessedAt = &processedAt
	f.failures[id] = errMsg
	f.statuses[id] = append(f.statuses[id], constants.StatusError)
	return nil
}

func (f *fakeRepo) SaveExtraction(_ context.Context, id uuid.UUID, upd *repository.ExtractionUpdate, processedAt time.Time) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	rec := f.receipts[id]
	rec.Status = constants.StatusDone
	rec.ProcessedAt = &processedAt
	f.saved[id] = upd
	f.statuses[id] = append(f.statuses[id], constants.StatusDone)
	return nil
}

type fakeStore struct {
	objects map[string][]byte
	getErr  error
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (f *fakeStore) Put(_ context.Context, key string, data []byte, _ string) error {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "file:///" + key, nil
}

type fakeText struct {
	result ocr.Result
	err    error
}

func (f *fakeText) Extract(_ context.Context, _ []byte) (ocr.Result, error) {
	return f.result, f.err
}

type fakeModel struct {
	cand   *llm.Candidate
	source llm.Source
	err    error
}

func (f *fakeModel) ExtractHybrid(_ context.Context, _ []byte, _, _ string) (*llm.Candidate, llm.Source, error) {
	return f.cand, f.source, f.err
}

func (f *fakeModel) ModelVersion() string { return "fake-model-1" }

func strPtr(s string) *string { return &s }

func pendingReceipt(key string) *entity.Receipt {
	return &entity.Receipt{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Status:     constants.StatusPending,
		StorageKey: &key,
	}
}

func TestProcessHappyPath(t *testing.T) {
	rec := pendingReceipt("u/receipt.png")
	repo := newFakeRepo(rec)
	store := &fakeStore{objects: map[string][]byte{"u/receipt.png": []byte("image bytes")}}
	text := &fakeText{result: ocr.Result{Text: "TOTAL 42.50", Confidence: 92, Engine: "tesseract"}}
	model := &fakeModel{
		cand: &llm.Candidate{
			Vendor:      strPtr("Monoprix"),
			Date:        strPtr("2024-03-15"),
			TotalAmount: strPtr("42.50"),
			Currency:    strPtr("tnd"),
			Category:    strPtr("Food"),
		},
		source: llm.SourceImage,
	}

	proc := NewProcessor(repo, store, text, model, nil, nil)
	err := proc.Process(context.Background(), entity.Job{ReceiptID: rec.ID, StorageKey: *rec.StorageKey})
	require.NoError(t, err)

	assert.Equal(t, constants.StatusDone, rec.Status)
	require.NotNil(t, rec.ProcessedAt)

	assert.Equal(t, dedup.Checksum([]byte("image bytes")), repo.checksums[rec.ID])
	assert.Equal(t, "TOTAL 42.50", repo.ocrTexts[rec.ID])

	upd := repo.saved[rec.ID]
	require.NotNil(t, upd)
	require.NotNil(t, upd.Vendor)
	assert.Equal(t, "Monoprix", *upd.Vendor)
	require.NotNil(t, upd.Currency)
	assert.Equal(t, "TND", *upd.Currency)
	require.NotNil(t, upd.Category)
	assert.Equal(t, "food", *upd.Category)
	require.NotNil(t, upd.TotalAmount)
	assert.Equal(t, "42.5", upd.TotalAmount.String())
	assert.Equal(t, "fake-model-1", upd.ModelVersion)

	// pending -> processing -> done, nothing else
	assert.Equal(t, []constants.ReceiptStatus{constants.StatusProcessing, constants.StatusDone}, repo.statuses[rec.ID])
}

func TestProcessReceiptMissing(t *testing.T) {
	repo := newFakeRepo()
	proc := NewProcessor(repo, &fakeStore{}, &fakeText{}, &fakeModel{}, nil, nil)

	err := proc.Process(context.Background(), entity.Job{ReceiptID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Empty(t, repo.failures, "no receipt row to persist an error onto")
}

func TestProcessFetchFailure(t *testing.T) {
	rec := pendingReceipt("u/missing.png")
	repo := newFakeRepo(rec)
	store := &fakeStore{getErr: errors.New("bucket unavailable")}

	proc := NewProcessor(repo, store, &fakeText{}, &fakeModel{}, nil, nil)
	err := proc.Process(context.Background(), entity.Job{ReceiptID: rec.ID, StorageKey: *rec.StorageKey})
	require.Error(t, err)

	assert.Equal(t, constants.StatusError, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "bucket unavailable")
	require.NotNil(t, rec.ProcessedAt)
	assert.False(t, rec.HasOutput(), "failed run must not touch output fields")
}

func TestProcessDuplicate(t *testing.T) {
	payload := []byte("identical bytes")

	original := pendingReceipt("u/a.png")
	repo := newFakeRepo(original)
	repo.checksums[original.ID] = dedup.Checksum(payload)

	second := pendingReceipt("u/b.png")
	repo.receipts[second.ID] = second

	store := &fakeStore{objects: map[string][]byte{"u/b.png": payload}}
	proc := NewProcessor(repo, store, &fakeText{}, &fakeModel{}, nil, nil)

	err := proc.Process(context.Background(), entity.Job{ReceiptID: second.ID, StorageKey: *second.StorageKey})
	require.NoError(t, err, "duplicate is a normal terminal outcome")

	assert.Equal(t, constants.StatusError, second.Status)
	require.NotNil(t, second.ErrorMessage)
	assert.Contains(t, *second.ErrorMessage, original.ID.String())
	assert.False(t, second.HasOutput())
	assert.Nil(t, repo.saved[second.ID])
	assert.Empty(t, repo.ocrTexts[second.ID], "pipeline stops before OCR on a duplicate")
}

func TestProcessOCRFailure(t *testing.T) {
	rec := pendingReceipt("u/r.png")
	repo := newFakeRepo(rec)
	store := &fakeStore{objects: map[string][]byte{"u/r.png": []byte("bytes")}}
	text := &fakeText{err: common.WrapError(common.ErrDecode, "corrupt image")}

	proc := NewProcessor(repo, store, text, &fakeModel{}, nil, nil)
	err := proc.Process(context.Background(), entity.Job{ReceiptID: rec.ID, StorageKey: *rec.StorageKey})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDecode)
	assert.Equal(t, constants.StatusError, rec.Status)
}

func TestProcessExtractionFailure(t *testing.T) {
	rec := pendingReceipt("u/r.png")
	repo := newFakeRepo(rec)
	store := &fakeStore{objects: map[string][]byte{"u/r.png": []byte("bytes")}}
	text := &fakeText{result: ocr.Result{Text: "some text", Confidence: 80, Engine: "tesseract"}}
	model := &fakeModel{err: common.WrapError(common.ErrInvalidResponse, "no JSON object")}

	proc := NewProcessor(repo, store, text, model, nil, nil)
	err := proc.Process(context.Background(), entity.Job{ReceiptID: rec.ID, StorageKey: *rec.StorageKey})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidResponse)

	assert.Equal(t, constants.StatusError, rec.Status)
	assert.Equal(t, "some text", repo.ocrTexts[rec.ID], "recognized text persists even when extraction fails")
}

func TestProcessStatusGuard(t *testing.T) {
	rec := pendingReceipt("u/done.png")
	rec.Status = constants.StatusDone
	repo := newFakeRepo(rec)
	store := &fakeStore{objects: map[string][]byte{"u/done.png": []byte("bytes")}}
	text := &fakeText{result: ocr.Result{Text: "TOTAL 9.99", Confidence: 90, Engine: "tesseract"}}
	model := &fakeModel{cand: &llm.Candidate{TotalAmount: strPtr("9.99")}, source: llm.SourceImage}
	proc := NewProcessor(repo, store, text, model, nil, nil)

	// A redelivered job for a finished receipt is dropped untouched.
	err := proc.Process(context.Background(), entity.Job{ReceiptID: rec.ID, StorageKey: *rec.StorageKey})
	require.Error(t, err)
	assert.Empty(t, repo.statuses[rec.ID], "no transition may be persisted")
	assert.Equal(t, constants.StatusDone, rec.Status)

	// The explicit reprocess flag resets and runs to a fresh terminal status.
	err = proc.Process(context.Background(), entity.Job{ReceiptID: rec.ID, StorageKey: *rec.StorageKey, Reprocess: true})
	require.NoError(t, err)
	assert.Equal(t, []constants.ReceiptStatus{constants.StatusProcessing, constants.StatusDone}, repo.statuses[rec.ID])
}

func TestProcessErrorPersistFailure(t *testing.T) {
	rec := pendingReceipt("u/r.png")
	repo := newFakeRepo(rec)
	repo.markFailed = errors.New("db down")
	store := &fakeStore{getErr: errors.New("fetch failed")}

	proc := NewProcessor(repo, store, &fakeText{}, &fakeModel{}, nil, nil)
	err := proc.Process(context.Background(), entity.Job{ReceiptID: rec.ID, StorageKey: *rec.StorageKey})
	// The original failure propagates; the unpersistable status is logged only.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch failed")
}
