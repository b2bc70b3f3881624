// Package ocr turns raw receipt images into recognized text. Extraction is
// polymorphic over two exec-backed engines (tesseract, easyocr) behind the
// Engine interface; both receive the same preprocessed image.
package ocr

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"time"
)

// Config selects and parameterizes the recognition engine.
type Config struct {
	Engine           string // "tesseract" | "easyocr"
	TesseractCmd     string
	EasyOCRCmd       string
	Language         string
	TessdataDir      string
	ArtifactCacheDir string
}

// Result is the outcome of one text extraction.
type Result struct {
	Text       string
	Confidence float32 // 0..100
	Engine     string
	Duration   time.Duration
}

// Engine recognizes text in an already-preprocessed image file.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, imagePath string) (Result, error)
}

// Extractor preprocesses raw bytes and runs the configured engine.
type Extractor struct {
	cfg    Config
	engine Engine
	logger *slog.Logger
}

// NewExtractor wires an engine from configuration. The choice is fixed for
// the process lifetime.
func NewExtractor(cfg Config, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TesseractCmd == "" {
		cfg.TesseractCmd = "tesseract"
	}
	if cfg.EasyOCRCmd == "" {
		cfg.EasyOCRCmd = "easyocr"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.ArtifactCacheDir == "" {
		cfg.ArtifactCacheDir = "./tmp"
	}

	var engine Engine
	switch cfg.Engine {
	case "", "tesseract":
		engine = &TesseractEngine{
			Cmd:         cfg.TesseractCmd,
			Language:    cfg.Language,
			TessdataDir: cfg.TessdataDir,
			Runner:      execRunner{logger: logger},
			Logger:      logger,
		}
	case "easyocr":
		engine = &EasyOCREngine{
			Cmd:      cfg.EasyOCRCmd,
			Language: cfg.Language,
			Runner:   execRunner{logger: logger},
			Logger:   logger,
		}
	default:
		return nil, fmt.Errorf("unsupported ocr engine: %q", cfg.Engine)
	}
	return &Extractor{cfg: cfg, engine: engine, logger: logger}, nil
}

// NewExtractorWithEngine injects an engine directly; used by tests and tools.
func NewExtractorWithEngine(cfg Config, engine Engine, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ArtifactCacheDir == "" {
		cfg.ArtifactCacheDir = "./tmp"
	}
	return &Extractor{cfg: cfg, engine: engine, logger: logger}
}

// Extract runs the full pipeline: preprocess raw bytes, stage the cleaned
// image in the artifact cache, recognize. Decode failures are fatal for the
// run; the caller does not retry here.
func (e *Extractor) Extract(ctx context.Context, data []byte) (Result, error) {
	start := time.Now()

	img, err := Preprocess(data)
	if err != nil {
		e.logger.Error("ocr.preprocess.failed", "error", err, "bytes", len(data))
		return Result{}, err
	}

	if err := os.MkdirAll(e.cfg.ArtifactCacheDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("artifact cache dir: %w", err)
	}
	f, err := os.CreateTemp(e.cfg.ArtifactCacheDir, "prep-*.png")
	if err != nil {
		return Result{}, fmt.Errorf("artifact temp file: %w", err)
	}
	path := f.Name()
	defer func() {
		if rerr := os.Remove(path); rerr != nil {
			e.logger.Warn("artifact cleanup failed", "path", path, "error", rerr)
		}
	}()

	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("encode preprocessed image: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("close artifact: %w", err)
	}

	res, err := e.engine.Recognize(ctx, path)
	if err != nil {
		e.logger.Error("ocr.recognize.failed", "engine", e.engine.Name(), "error", err)
		return Result{}, err
	}
	res.Duration = time.Since(start)

	e.logger.Info("ocr.extract.ok",
		"engine", res.Engine,
		"confidence", res.Confidence,
		"text_len", len(res.Text),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
