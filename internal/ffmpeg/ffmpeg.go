package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/keagan/panelreel/pkg/util"
	"github.com/rs/zerolog"
)

// ErrEncoder marks a failed ffmpeg run.
var ErrEncoder = errors.New("encoder failed")

// tailLines is how much encoder output is kept for error messages.
const tailLines = 8

// Executor handles all ffmpeg operations with progress streaming
type Executor struct {
	logger     zerolog.Logger
	ffmpegPath string
	threads    int
}

// New creates a new ffmpeg executor. An empty binaryPath looks ffmpeg up in
// PATH.
func New(logger zerolog.Logger, binaryPath string, threads int) (*Executor, error) {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	ffmpegPath, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	return &Executor{
		logger:     logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath: ffmpegPath,
		threads:    threads,
	}, nil
}

// Path returns the resolved ffmpeg binary.
func (e *Executor) Path() string {
	return e.ffmpegPath
}

// Run executes ffmpeg with the given arguments and streams progress
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	// Build args with threads BEFORE other arguments
	baseArgs := []string{"-y", "-hide_banner", "-loglevel", "info"}

	if e.threads > 0 {
		baseArgs = append(baseArgs, "-threads", fmt.Sprintf("%d", e.threads))
	}

	baseArgs = append(baseArgs, "-progress", "pipe:2")
	args := append(baseArgs, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Str("dir", opts.Dir).
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Dir = opts.Dir

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	tail := &logTail{}
	var wg sync.WaitGroup
	wg.Add(2)

	// Stream stderr (progress + logs)
	go func() {
		defer wg.Done()
		e.streamOutput(stderr, opts, tail)
	}()

	// Stream stdout
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if opts.LogHandler != nil {
				opts.LogHandler(scanner.Text())
			}
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w: %s", ErrEncoder, err, tail.String())
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// streamOutput parses ffmpeg output and calls handlers
func (e *Executor) streamOutput(r io.Reader, opts RunOptions, tail *logTail) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	progressData := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()
		key, value, isKV := strings.Cut(line, "=")
		if !isKV || strings.Contains(key, " ") {
			tail.add(line)
			if opts.LogHandler != nil {
				opts.LogHandler(line)
			}
			continue
		}
		value = strings.TrimSpace(value)

		// Parse progress lines
		switch key {
		case "frame":
			fmt.Sscanf(value, "%d", &progressData.Frame)
		case "fps":
			fmt.Sscanf(value, "%f", &progressData.FPS)
		case "bitrate":
			progressData.Bitrate = value
		case "out_time":
			progressData.Time = value
		case "speed":
			progressData.Speed = value
		case "progress":
			// End of progress block
			if opts.ProgressHandler != nil && progressData.Frame > 0 {
				progressData.Percentage = percentage(progressData.Time, opts.TotalDuration, value == "end")
				opts.ProgressHandler(progressData)
			}
			progressData = &Progress{}
		}
	}
}

func percentage(outTime string, total float64, done bool) float64 {
	if done {
		return 100
	}
	if total <= 0 || outTime == "" {
		return 0
	}
	elapsed, err := util.ParseTimestamp(outTime)
	if err != nil || elapsed < 0 {
		return 0
	}
	pct := elapsed.Seconds() / total * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// logTail keeps the last few non-progress lines of encoder output.
type logTail struct {
	mu    sync.Mutex
	lines []string
}

func (t *logTail) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > tailLines {
		t.lines = t.lines[len(t.lines)-tailLines:]
	}
}

func (t *logTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, " | ")
}
