package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/depthflow/pkg/models"
)

const (
	stderrTailLines = 20
	killGrace       = 5 * time.Second
)

// CLIRenderer runs the depthflow command line tool as a child process.
type CLIRenderer struct {
	path string
}

var _ Renderer = (*CLIRenderer)(nil)

func NewCLIRenderer(path string) *CLIRenderer {
	return &CLIRenderer{path: path}
}

func (c *CLIRenderer) Name() string { return "cli" }

func (c *CLIRenderer) Probe(_ context.Context) error {
	if _, err := exec.LookPath(c.path); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	return nil
}

// Args builds the depthflow argument list for req.
func Args(req Request) []string {
	p := req.Params
	args := []string{
		"--image", req.InputPath,
		"--output", req.OutputPath,
		"--backend", "headless",
		"--time", formatFloat(p.AnimationDuration),
		"--fps", strconv.Itoa(p.FPS),
	}
	if p.Resolution != nil {
		args = append(args, "--ssaa", "1.5")
	}

	switch p.CameraMovement {
	case models.CameraZoom:
		args = append(args, "zoom", "--intensity", formatFloat(p.DepthStrength*0.3))
		if p.Loop {
			args = append(args, "--loop")
		}
	case models.CameraDolly:
		args = append(args, "dolly", "--intensity", formatFloat(p.DepthStrength*0.5))
	case models.CameraStatic:
		args = append(args, "circle", "--intensity", "0")
	default:
		args = append(args, "circle", "--intensity", formatFloat(p.DepthStrength))
	}
	return args
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var percentRe = regexp.MustCompile(`(\d{1,3})%`)

func (c *CLIRenderer) Render(ctx context.Context, req Request, progress ProgressFunc) error {
	out := &stderrWatcher{tail: newTail(stderrTailLines), progress: progress}
	cmd := exec.CommandContext(ctx, c.path, Args(req)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = out
	// A grandchild holding stderr open must not stall Wait after the kill.
	cmd.WaitDelay = killGrace

	slog.Debug("running depthflow cli", "path", c.path, "args", strings.Join(cmd.Args[1:], " "))
	report(progress, 30, "rendering with depthflow cli")
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
		return fmt.Errorf("%w: start depthflow: %v", ErrRenderFailed, err)
	}

	err := cmd.Wait()
	out.flush()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: depthflow exited: %v: %s", ErrRenderFailed, err, out.tail.String())
	}
	if err := checkOutput(req.OutputPath); err != nil {
		return err
	}
	report(progress, 90, "render complete")
	return nil
}

// stderrWatcher keeps the last lines of stderr and turns "NN%" markers into progress reports.
// Lines end at \n or \r so progress bars that redraw in place are seen.
type stderrWatcher struct {
	mu       sync.Mutex
	partial  []byte
	tail     *tailBuffer
	progress ProgressFunc
}

func (w *stderrWatcher) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.line(string(w.partial))
			w.partial = w.partial[:0]
			continue
		}
		w.partial = append(w.partial, b)
	}
	return len(p), nil
}

func (w *stderrWatcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.line(string(w.partial))
		w.partial = nil
	}
}

func (w *stderrWatcher) line(line string) {
	w.tail.add(line)
	if m := percentRe.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil && pct <= 100 {
			// Map 0..100 from the tool onto the 30..90 render band.
			report(w.progress, 30+pct*60/100, "rendering")
		}
	}
}

type tailBuffer struct {
	max   int
	lines []string
}

func newTail(n int) *tailBuffer { return &tailBuffer{max: n} }

func (t *tailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string { return strings.Join(t.lines, "\n") }

func checkOutput(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: output not produced: %v", ErrRenderFailed, err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("%w: output %s is empty", ErrRenderFailed, path)
	}
	return nil
}
