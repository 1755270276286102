package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/panelreel/internal/audio"
	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/ffmpeg"
	"github.com/keagan/panelreel/internal/timeline"
	"github.com/keagan/panelreel/internal/video"
	"github.com/rs/zerolog"
)

// Pipeline orchestrates the entire comic-to-video workflow
type Pipeline struct {
	logger   zerolog.Logger
	config   *Config
	services Services
	builder  *timeline.Builder
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, cfg *Config, services Services) *Pipeline {
	if cfg == nil {
		cfg = &Config{Workers: 4}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Pipeline{
		logger:   logger.With().Str("component", "pipeline").Logger(),
		config:   cfg,
		services: services,
		builder:  timeline.NewBuilder(logger),
	}
}

// Close releases pipeline resources
func (p *Pipeline) Close() error {
	if p.services.Cache != nil {
		return p.services.Cache.Close()
	}
	return nil
}

// NewProject creates a project from panel images in reading order.
func NewProject(name string, images []*clips.SourceImage) (*Project, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("project needs at least one panel")
	}
	panels := make([]clips.Panel, len(images))
	for i, img := range images {
		if img == nil {
			return nil, fmt.Errorf("panel %d has no image", i+1)
		}
		panels[i] = clips.Panel{Image: img}
	}
	if name == "" {
		name = fmt.Sprintf("project_%d", time.Now().Unix())
	}
	now := time.Now()
	return &Project{
		ID:        uuid.NewString(),
		Name:      name,
		Panels:    panels,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetNarration stores existing narration audio on the project, skipping the
// script and voice steps.
func (p *Project) SetNarration(wav []byte, duration float64) error {
	if len(wav) == 0 || duration <= 0 {
		return fmt.Errorf("narration must be non-empty with a positive duration")
	}
	p.Narration = wav
	p.NarrationDuration = duration
	p.UpdatedAt = time.Now()
	return nil
}

// Run executes every step whose artifact is missing, in order. It stops at
// the first failure and returns a *StepError naming it.
func (p *Pipeline) Run(ctx context.Context, project *Project, opts Options, cb video.Callbacks) error {
	p.logger.Info().
		Str("project", project.Name).
		Int("panels", len(project.Panels)).
		Msg("starting pipeline")

	for _, step := range Steps {
		if project.Done(step) {
			p.logger.Debug().Str("step", string(step)).Msg("artifact present, skipping")
			continue
		}
		// supplied narration and timings leave nothing for a script to do
		if step == StepScript && project.Done(StepVoice) && project.Done(StepTiming) {
			continue
		}
		if step == StepEdit && !opts.RemoveText && !opts.DetectSubjects {
			continue
		}
		if err := p.RunStep(ctx, step, project, opts, cb); err != nil {
			return err
		}
	}

	p.logger.Info().
		Str("project", project.Name).
		Int("video_bytes", len(project.Video)).
		Msg("pipeline complete")
	return nil
}

// RunStep executes one step, replacing its previous artifact.
func (p *Pipeline) RunStep(ctx context.Context, step Step, project *Project, opts Options, cb video.Callbacks) error {
	if cb.Status != nil {
		cb.Status(fmt.Sprintf("Running %s step", step))
	}
	start := time.Now()

	var err error
	switch step {
	case StepScript:
		err = p.script(ctx, project, opts)
	case StepVoice:
		err = p.voice(ctx, project, opts)
	case StepTiming:
		err = p.timing(ctx, project)
	case StepEdit:
		err = p.edit(ctx, project, opts)
	case StepRender:
		err = p.render(ctx, project, opts, cb)
	default:
		err = fmt.Errorf("unknown step %q", step)
	}
	if err != nil {
		p.logger.Error().Err(err).Str("step", string(step)).Msg("step failed")
		return &StepError{Step: step, Err: err}
	}

	project.UpdatedAt = time.Now()
	p.logger.Info().
		Str("step", string(step)).
		Dur("took", time.Since(start)).
		Msg("step complete")
	return nil
}

func (p *Pipeline) script(ctx context.Context, project *Project, opts Options) error {
	if p.services.Script == nil {
		return fmt.Errorf("no script writer configured")
	}
	script, err := p.services.Script.GenerateScript(ctx, project.Images(), opts.Language, opts.BatchSize)
	if err != nil {
		return err
	}
	project.Script = script
	return nil
}

func (p *Pipeline) voice(ctx context.Context, project *Project, opts Options) error {
	if p.services.Voice == nil {
		return fmt.Errorf("no narrator configured")
	}
	if project.Script == "" {
		return fmt.Errorf("project has no script")
	}

	pcm, err := p.services.Voice.Synthesize(ctx, project.Script, opts.Voice)
	if err != nil {
		return err
	}
	format := audio.SpeechFormat()
	wav, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		return fmt.Errorf("wrap narration: %w", err)
	}
	return project.SetNarration(wav, audio.PCMDuration(pcm, format))
}

func (p *Pipeline) timing(ctx context.Context, project *Project) error {
	if p.services.Timing == nil {
		return fmt.Errorf("no timing model configured")
	}
	if project.Script == "" || project.NarrationDuration <= 0 {
		return fmt.Errorf("timing needs a script and narration")
	}
	timings, err := p.services.Timing.InferTimings(ctx, project.Script, len(project.Panels), project.NarrationDuration)
	if err != nil {
		return err
	}
	project.Timings = timings
	return nil
}

// Timeline builds the render timeline from the project's timings.
func (p *Pipeline) Timeline(project *Project) (clips.RenderTimeline, error) {
	if len(project.Timings) == 0 {
		return clips.RenderTimeline{}, fmt.Errorf("project has no panel timings")
	}
	if project.NarrationDuration <= 0 {
		return clips.RenderTimeline{}, fmt.Errorf("project has no narration")
	}
	return p.builder.Build(project.Timings, project.Panels, project.NarrationDuration)
}

// Plan builds the timeline and the encoder command without rendering.
func (p *Pipeline) Plan(project *Project, opts Options) (*ffmpeg.Command, clips.RenderTimeline, error) {
	tl, err := p.Timeline(project)
	if err != nil {
		return nil, tl, err
	}
	cmd, _, err := video.Plan(p.logger, video.Request{
		Timeline: tl,
		Settings: opts.Settings,
		Encoding: opts.Encoding,
		Audio:    project.Narration,
	})
	return cmd, tl, err
}

func (p *Pipeline) render(ctx context.Context, project *Project, opts Options, cb video.Callbacks) error {
	if p.services.Renderer == nil {
		return fmt.Errorf("no renderer configured")
	}
	tl, err := p.Timeline(project)
	if err != nil {
		return err
	}

	data, err := p.services.Renderer.Render(ctx, video.Request{
		Timeline: tl,
		Settings: opts.Settings,
		Encoding: opts.Encoding,
		Audio:    project.Narration,
	}, cb)
	if err != nil {
		return err
	}
	project.Video = data

	if opts.Publish && p.services.Publisher != nil {
		key := p.services.Publisher.Key(fmt.Sprintf("%s/%s", project.ID, ffmpeg.DownloadName))
		if err := p.services.Publisher.Put(ctx, key, data, "video/mp4"); err != nil {
			return fmt.Errorf("publish video: %w", err)
		}
		project.VideoKey = key
		p.logger.Info().Str("key", key).Msg("video published")
	}
	return nil
}
