package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// EasyOCREngine shells out to a thin easyocr wrapper script. The wrapper
// prints one detected region per line as "<confidence>\t<text>" with
// confidence in 0..1.
type EasyOCREngine struct {
	Cmd      string
	Language string
	Runner   Runner
	Logger   *slog.Logger
}

func (e *EasyOCREngine) Name() string { return "easyocr" }

func (e *EasyOCREngine) Recognize(ctx context.Context, imagePath string) (Result, error) {
	stdout, stderr, err := e.Runner.Run(ctx, e.Cmd, "--lang", e.Language, imagePath)
	if err != nil {
		return Result{}, fmt.Errorf("easyocr: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	text, conf := parseRegions(string(stdout))
	return Result{Text: text, Confidence: conf, Engine: e.Name()}, nil
}

// parseRegions joins region texts with newlines and scales the mean region
// confidence to the common 0..100 range.
func parseRegions(out string) (string, float32) {
	var lines []string
	var sum float64
	var n int

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		conf, text, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		c, err := strconv.ParseFloat(strings.TrimSpace(conf), 64)
		if err != nil || c < 0 || c > 1 {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		lines = append(lines, text)
		sum += c
		n++
	}

	if n == 0 {
		return "", 0
	}
	return strings.Join(lines, "\n"), float32(sum / float64(n) * 100)
}
