package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/keagan/panelreel/internal/cache"
	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/ffmpeg"
	"github.com/keagan/panelreel/internal/video"
)

// Step names one stage of the workflow.
type Step string

const (
	StepScript Step = "script"
	StepVoice  Step = "voice"
	StepTiming Step = "timing"
	StepEdit   Step = "edit"
	StepRender Step = "render"
)

// Steps lists the workflow in execution order.
var Steps = []Step{StepScript, StepVoice, StepTiming, StepEdit, StepRender}

// StepError reports which step failed. Artifacts of earlier steps are kept
// on the project so only this step needs to be retried.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Project holds the artifacts produced so far for one comic.
type Project struct {
	ID     string
	Name   string
	Panels []clips.Panel

	Script string
	// Narration is a WAV file.
	Narration         []byte
	NarrationDuration float64
	Timings           []clips.PanelTiming
	Edited            bool

	Video []byte
	// VideoKey is the object key the video was published under, if any.
	VideoKey string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Done reports whether the artifact of step is present.
func (p *Project) Done(step Step) bool {
	switch step {
	case StepScript:
		return p.Script != ""
	case StepVoice:
		return len(p.Narration) > 0 && p.NarrationDuration > 0
	case StepTiming:
		return len(p.Timings) > 0
	case StepEdit:
		return p.Edited
	case StepRender:
		return len(p.Video) > 0
	}
	return false
}

// Images returns the panel images in panel order.
func (p *Project) Images() []*clips.SourceImage {
	out := make([]*clips.SourceImage, len(p.Panels))
	for i, panel := range p.Panels {
		out[i] = panel.Image
	}
	return out
}

// Options configures one workflow run.
type Options struct {
	Language       string
	Voice          string
	BatchSize      int
	RemoveText     bool
	DetectSubjects bool
	Settings       clips.VideoSettings
	Encoding       ffmpeg.Encoding
	// Publish uploads the rendered video when a publisher is configured.
	Publish bool
}

// Config holds pipeline-specific configuration
type Config struct {
	Workers int
}

// ScriptWriter narrates panels.
type ScriptWriter interface {
	GenerateScript(ctx context.Context, images []*clips.SourceImage, language string, batchSize int) (string, error)
}

// Narrator turns a script into raw 24 kHz mono PCM.
type Narrator interface {
	Synthesize(ctx context.Context, script, voice string) ([]byte, error)
}

// Timer maps narration to panel start times.
type Timer interface {
	InferTimings(ctx context.Context, script string, panelCount int, duration float64) ([]clips.PanelTiming, error)
}

// PanelEditor edits individual panel images.
type PanelEditor interface {
	RemoveText(ctx context.Context, img *clips.SourceImage) (*clips.SourceImage, error)
	DetectSubjects(ctx context.Context, img *clips.SourceImage) ([]clips.CropRegion, error)
}

// Renderer produces the MP4.
type Renderer interface {
	Render(ctx context.Context, req video.Request, cb video.Callbacks) ([]byte, error)
}

// Publisher stores finished videos.
type Publisher interface {
	Key(name string) string
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Services are the collaborators a pipeline calls. Any may be nil if the
// steps needing it are never run.
type Services struct {
	Script    ScriptWriter
	Voice     Narrator
	Timing    Timer
	Editor    PanelEditor
	Renderer  Renderer
	Cache     cache.Store
	Publisher Publisher
}
