package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// Runner abstracts external process execution so engines can be exercised
// without the real binaries installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	err := cmd.Run()
	if r.logger != nil {
		r.logger.Debug("ocr.exec",
			"cmd", name,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"ok", err == nil,
		)
	}
	return out.Bytes(), errBuf.Bytes(), err
}
