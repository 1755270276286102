package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/ffmpeg"
	"github.com/keagan/panelreel/internal/timeline"
	"github.com/keagan/panelreel/pkg/util"
	"github.com/rs/zerolog"
)

// Encoder runs one ffmpeg invocation.
type Encoder interface {
	Run(ctx context.Context, opts ffmpeg.RunOptions) error
}

// Options configures the process-wide runtime.
type Options struct {
	BinaryPath string
	Threads    int
	// TempDir is where the private workspace is created. Empty uses the
	// system temp dir.
	TempDir string
}

// Runtime is a loaded encoder plus the private workspace it reads inputs
// from and writes output to. Renders on one runtime never overlap.
type Runtime struct {
	logger    zerolog.Logger
	encoder   Encoder
	workspace string
	mu        sync.Mutex
}

var (
	sharedMu sync.Mutex
	shared   *Runtime

	// swapped in tests
	load        = loadRuntime
	removeFiles = util.RemoveFiles
)

// Acquire returns the process-wide runtime, loading it on first use. Later
// calls return the same instance. A failed load is retried on the next call.
func Acquire(logger zerolog.Logger, opts Options) (*Runtime, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared, nil
	}

	rt, err := load(logger, opts)
	if err != nil {
		return nil, fmt.Errorf("load encoder runtime: %w", err)
	}
	shared = rt
	return shared, nil
}

func loadRuntime(logger zerolog.Logger, opts Options) (*Runtime, error) {
	exec, err := ffmpeg.New(logger, resolveBinary(opts.BinaryPath), opts.Threads)
	if err != nil {
		return nil, err
	}

	workspace, err := newWorkspace(opts.TempDir)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("ffmpeg", exec.Path()).
		Str("workspace", workspace).
		Msg("encoder runtime loaded")

	return NewRuntime(logger, exec, workspace), nil
}

// newWorkspace creates a private directory under base, creating base first
// when it is configured but missing.
func newWorkspace(base string) (string, error) {
	if base != "" {
		if err := util.EnsureDir(base); err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
	}
	workspace, err := os.MkdirTemp(base, "panelreel-")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return workspace, nil
}

// NewRuntime wraps an encoder and an existing workspace directory. Most
// callers want Acquire.
func NewRuntime(logger zerolog.Logger, encoder Encoder, workspace string) *Runtime {
	return &Runtime{
		logger:    logger.With().Str("component", "render").Logger(),
		encoder:   encoder,
		workspace: workspace,
	}
}

// Workspace returns the directory render files are written to.
func (r *Runtime) Workspace() string {
	return r.workspace
}

// Request is everything one render needs.
type Request struct {
	Timeline clips.RenderTimeline
	Settings clips.VideoSettings
	Encoding ffmpeg.Encoding
	// Audio is the narration as a WAV file.
	Audio []byte
}

// Callbacks receive progress while a render runs. Either may be nil.
type Callbacks struct {
	Progress func(percent float64)
	Status   func(message string)
}

func (c Callbacks) progress(p float64) {
	if c.Progress != nil {
		c.Progress(p)
	}
}

func (c Callbacks) status(msg string) {
	if c.Status != nil {
		c.Status(msg)
	}
}

// Plan assembles the render command without running it.
func Plan(logger zerolog.Logger, req Request) (*ffmpeg.Command, timeline.Assets, error) {
	assets := timeline.Dedupe(req.Timeline.Clips)
	asm, err := ffmpeg.NewAssembler(logger, req.Settings, req.Encoding)
	if err != nil {
		return nil, assets, err
	}
	cmd, err := asm.Assemble(req.Timeline, assets)
	if err != nil {
		return nil, assets, err
	}
	return cmd, assets, nil
}

// Render writes the inputs into the workspace, runs the encoder and returns
// the produced MP4. Files written for the render are removed afterwards
// whether or not it succeeded.
func (r *Runtime) Render(ctx context.Context, req Request, cb Callbacks) ([]byte, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("narration audio is empty")
	}

	cb.status("Preparing timeline")
	cmd, assets, err := Plan(r.logger, req)
	if err != nil {
		return nil, fmt.Errorf("assemble command: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	written := []string{r.path(ffmpeg.OutputName)}
	defer func() {
		r.cleanup(written)
	}()

	cb.status("Writing input files")
	for slot, img := range assets.Images {
		name := ffmpeg.InputName(slot, img.MimeType)
		written = append(written, r.path(name))
		if err := os.WriteFile(r.path(name), img.Data, 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	written = append(written, r.path(ffmpeg.AudioInputName))
	if err := os.WriteFile(r.path(ffmpeg.AudioInputName), req.Audio, 0644); err != nil {
		return nil, fmt.Errorf("write narration: %w", err)
	}

	r.logger.Info().
		Int("clips", len(req.Timeline.Clips)).
		Int("images", len(assets.Images)).
		Float64("duration", cmd.Duration).
		Str("transition", string(req.Settings.Transition)).
		Msg("rendering video")

	cb.status("Encoding video")
	cb.progress(0)
	err = r.encoder.Run(ctx, ffmpeg.RunOptions{
		Args:          cmd.Args(),
		Dir:           r.workspace,
		TotalDuration: cmd.Duration,
		ProgressHandler: func(p *ffmpeg.Progress) {
			cb.progress(p.Percentage)
		},
		LogHandler: func(line string) {
			r.logger.Trace().Str("ffmpeg", line).Msg("encoder output")
		},
	})
	if err != nil {
		cb.status("Render failed")
		return nil, fmt.Errorf("render: %w", err)
	}

	cb.status("Reading output")
	data, err := os.ReadFile(r.path(ffmpeg.OutputName))
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("encoder produced an empty file")
	}

	cb.progress(100)
	cb.status("Done")

	r.logger.Info().
		Int("bytes", len(data)).
		Msg("render complete")

	return data, nil
}

func (r *Runtime) path(name string) string {
	return filepath.Join(r.workspace, name)
}

// cleanup removes render files. Failures are logged only.
func (r *Runtime) cleanup(paths []string) {
	for path, err := range removeFiles(paths...) {
		r.logger.Warn().
			Err(err).
			Str("path", path).
			Msg("failed to remove render file")
	}
}
