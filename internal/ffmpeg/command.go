package ffmpeg

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/timeline"
	"github.com/keagan/panelreel/pkg/util"
	"github.com/rs/zerolog"
)

const (
	// AudioInputName is the narration file name inside the workspace.
	AudioInputName = "narration.wav"
	// OutputName is the rendered file name inside the workspace.
	OutputName = "output.mp4"
	// DownloadName is the name offered to users for the rendered file.
	DownloadName = "manhwa-video.mp4"

	audioBitrate = "192k"
)

// InputName is the deterministic workspace name for the image in a slot.
func InputName(slot int, mime string) string {
	ext, err := util.ExtensionForMime(mime)
	if err != nil {
		ext = ".png"
	}
	return fmt.Sprintf("input_%d%s", slot, ext)
}

var inputSpecifier = regexp.MustCompile(`^\d+(:[a-z]+)?$`)

// CanonicalLabel strips decorative brackets and whitespace from a stream
// reference.
func CanonicalLabel(ref string) Label {
	s := strings.TrimSpace(ref)
	s = strings.TrimLeft(s, "[")
	s = strings.TrimRight(s, "]")
	return Label(strings.TrimSpace(s))
}

// MapArg renders a stream reference for -map. Input specifiers such as
// "1:a" stay bare; filter graph labels are bracketed exactly once.
func MapArg(ref string) string {
	l := CanonicalLabel(ref)
	if inputSpecifier.MatchString(string(l)) {
		return string(l)
	}
	return l.String()
}

// Input is one -i declaration.
type Input struct {
	Name string
	// Options precede -i, e.g. -loop 1 for still images.
	Options []string
}

// Command is an assembled ffmpeg invocation.
type Command struct {
	Inputs     []Input
	Graph      *Graph
	Maps       []string
	OutputArgs []string
	Output     string
	// Duration is the clamped output length in seconds.
	Duration float64
}

// Args returns the command tokens, without the binary name.
func (c *Command) Args() []string {
	var args []string
	for _, in := range c.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Name)
	}
	if c.Graph != nil && len(c.Graph.Nodes()) > 0 {
		args = append(args, "-filter_complex", c.Graph.String())
	}
	for _, m := range c.Maps {
		args = append(args, "-map", MapArg(m))
	}
	args = append(args, c.OutputArgs...)
	return append(args, c.Output)
}

// String renders the command for display.
func (c *Command) String() string {
	args := c.Args()
	quoted := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " ;[]'(),") {
			quoted[i] = strconv.Quote(a)
		} else {
			quoted[i] = a
		}
	}
	return "ffmpeg " + strings.Join(quoted, " ")
}

// Encoding holds output encoder options.
type Encoding struct {
	Preset string
	CRF    int
}

// Assembler builds the full render command for a timeline.
type Assembler struct {
	logger   zerolog.Logger
	compiler *Compiler
	settings clips.VideoSettings
	encoding Encoding
}

// NewAssembler creates an assembler for one set of settings.
func NewAssembler(logger zerolog.Logger, settings clips.VideoSettings, encoding Encoding) (*Assembler, error) {
	compiler, err := NewCompiler(logger, settings)
	if err != nil {
		return nil, err
	}
	if encoding.Preset == "" {
		encoding.Preset = DefaultPreset
	}
	if encoding.CRF <= 0 {
		encoding.CRF = DefaultCRF
	}
	return &Assembler{
		logger:   logger.With().Str("component", "assembler").Logger(),
		compiler: compiler,
		settings: settings,
		encoding: encoding,
	}, nil
}

// Assemble compiles the timeline and wraps it in a command reading the
// slot images and the narration, writing OutputName.
func (a *Assembler) Assemble(tl clips.RenderTimeline, assets timeline.Assets) (*Command, error) {
	if err := tl.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timeline: %w", err)
	}

	plan := PlanTransitions(tl.Durations(), a.settings.Transition)

	g := NewGraph()
	streams, err := a.compiler.Compile(g, tl, assets, plan.Lengths)
	if err != nil {
		return nil, err
	}
	video, err := Composite(g, streams, plan, a.settings.Transition)
	if err != nil {
		return nil, err
	}

	fps := strconv.Itoa(a.settings.FrameRate)
	cmd := &Command{Graph: g, Output: OutputName, Duration: tl.TotalDuration}
	for slot, img := range assets.Images {
		cmd.Inputs = append(cmd.Inputs, Input{
			Name:    InputName(slot, img.MimeType),
			Options: []string{"-loop", "1", "-framerate", fps},
		})
	}
	audioIndex := len(assets.Images)
	cmd.Inputs = append(cmd.Inputs, Input{Name: AudioInputName})

	cmd.Maps = []string{string(video), string(InputStream(audioIndex, "a"))}
	cmd.OutputArgs = []string{
		"-c:v", DefaultVideoCodec,
		"-preset", a.encoding.Preset,
		"-crf", strconv.Itoa(a.encoding.CRF),
		"-r", fps,
		"-pix_fmt", "yuv420p",
		"-c:a", DefaultAudioCodec,
		"-b:a", audioBitrate,
		"-t", util.FormatSeconds(tl.TotalDuration),
		"-movflags", "+faststart",
	}

	if drift := plan.Total - tl.TotalDuration; drift > clips.DurationTolerance || drift < -clips.DurationTolerance {
		a.logger.Warn().
			Float64("composited", plan.Total).
			Float64("target", tl.TotalDuration).
			Msg("composited length differs from narration, clamping output")
	}

	a.logger.Debug().
		Int("inputs", len(cmd.Inputs)).
		Int("nodes", len(g.Nodes())).
		Float64("duration", tl.TotalDuration).
		Msg("command assembled")

	return cmd, nil
}
