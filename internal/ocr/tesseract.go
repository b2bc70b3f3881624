package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// TesseractEngine shells out to the tesseract CLI in TSV mode, which carries
// a per-token confidence column alongside the recognized text.
type TesseractEngine struct {
	Cmd         string
	Language    string
	TessdataDir string
	Runner      Runner
	Logger      *slog.Logger
}

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) Recognize(ctx context.Context, imagePath string) (Result, error) {
	args := []string{imagePath, "stdout", "-l", e.Language, "--oem", "3", "--psm", "6"}
	if e.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.TessdataDir)
	}
	args = append(args, "tsv")

	stdout, stderr, err := e.Runner.Run(ctx, e.Cmd, args...)
	if err != nil {
		return Result{}, fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	text, conf := parseTSV(string(stdout))
	return Result{Text: text, Confidence: conf, Engine: e.Name()}, nil
}

// parseTSV walks tesseract TSV output, keeping tokens with positive
// confidence. Structural rows (page/block/line markers) carry conf -1 and are
// skipped. Returns space-joined text and the mean token confidence (0..100).
func parseTSV(out string) (string, float32) {
	var tokens []string
	var sum float64
	var n int

	for i, line := range strings.Split(out, "\n") {
		if i == 0 || line == "" { // header row
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf <= 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		tokens = append(tokens, word)
		sum += conf
		n++
	}

	if n == 0 {
		return "", 0
	}
	return strings.Join(tokens, " "), float32(sum / float64(n))
}
