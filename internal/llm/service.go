package llm

import (
	"context"
	"log/slog"
)

// Source tells downstream consumers which path produced an extraction.
type Source string

const (
	SourceImage Source = "image"
	SourceText  Source = "ocr_text"
)

// Service wraps an Extractor with the hybrid strategy: try the image
// directly, fall back to OCR text when the image path fails.
type Service struct {
	extractor Extractor
	logger    *slog.Logger
}

func NewService(extractor Extractor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{extractor: extractor, logger: logger}
}

// ExtractHybrid prefers image extraction; when it fails and OCR text is
// available, retries from text. The returned Source records which succeeded.
func (s *Service) ExtractHybrid(ctx context.Context, imageData []byte, mimeType, ocrText string) (*Candidate, Source, error) {
	cand, err := s.extractor.ExtractFromImage(ctx, imageData, mimeType)
	if err == nil {
		return cand, SourceImage, nil
	}

	if ocrText == "" {
		return nil, "", err
	}
	s.logger.Warn("llm.image_extraction.failed", "error", err, "fallback", "ocr_text")

	cand, terr := s.extractor.ExtractFromText(ctx, ocrText)
	if terr != nil {
		s.logger.Error("llm.text_extraction.failed", "error", terr)
		return nil, "", terr
	}
	return cand, SourceText, nil
}

// ModelVersion reports the underlying extractor's version string for audit
// persistence.
func (s *Service) ModelVersion() string {
	return s.extractor.ModelVersion()
}
