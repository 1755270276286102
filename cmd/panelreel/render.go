package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/keagan/panelreel/internal/audio"
	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/config"
	"github.com/keagan/panelreel/internal/ffmpeg"
	"github.com/keagan/panelreel/internal/pipeline"
	"github.com/keagan/panelreel/internal/storage"
	"github.com/keagan/panelreel/internal/video"
	"github.com/keagan/panelreel/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	audioFile   string
	timingsFile string
	regionsFile string
	outputFile  string
	publish     bool

	resolution  string
	aspectRatio string
	frameRate   int
	transition  string
	animation   string
)

func addSettingsFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution preset (480p, 720p, 1080p)")
	cmd.Flags().StringVar(&aspectRatio, "aspect", "", "aspect ratio (16:9, 9:16, 1:1, 4:3, 3:4)")
	cmd.Flags().IntVar(&frameRate, "fps", 0, "frame rate")
	cmd.Flags().StringVar(&transition, "transition", "", "transition between clips (cut or an xfade name)")
	cmd.Flags().StringVar(&animation, "animation", "", "per-clip animation (none, zoom, pan)")
}

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&audioFile, "audio", "a", "", "narration audio file")
	cmd.Flags().StringVarP(&timingsFile, "timings", "t", "", "panel timings JSON file")
	cmd.Flags().StringVar(&regionsFile, "regions", "", "crop regions JSON file, one list per panel")
}

func init() {
	addInputFlags(renderCmd)
	addSettingsFlags(renderCmd)
	renderCmd.Flags().StringVarP(&outputFile, "output", "o", ffmpeg.DownloadName, "output file")
	renderCmd.Flags().BoolVar(&publish, "publish", false, "upload the video to the configured bucket")
	_ = renderCmd.MarkFlagRequired("audio")
	_ = renderCmd.MarkFlagRequired("timings")

	addInputFlags(planCmd)
	addSettingsFlags(planCmd)
	_ = planCmd.MarkFlagRequired("audio")
	_ = planCmd.MarkFlagRequired("timings")
}

var renderCmd = &cobra.Command{
	Use:   "render [panel images...]",
	Short: "Render panels, narration and timings into an MP4",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		project, err := loadProject(args)
		if err != nil {
			return err
		}
		if err := loadTimings(project); err != nil {
			return err
		}

		rt, err := video.Acquire(log.Logger, runtimeOptions(cfg))
		if err != nil {
			return err
		}

		services := pipeline.Services{Renderer: rt}
		if publish {
			store, err := storage.NewS3(cmd.Context(), log.Logger, cfg.Storage)
			if err != nil {
				return err
			}
			services.Publisher = store
		}

		pipe := pipeline.New(log.Logger, &pipeline.Config{Workers: cfg.Concurrency}, services)
		defer pipe.Close()

		opts := pipeline.Options{
			Settings: settingsFromFlags(cmd, cfg),
			Encoding: encoding(cfg),
			Publish:  publish,
		}

		bar := newProgressBar("Rendering")
		if err := pipe.Run(cmd.Context(), project, opts, barCallbacks(bar)); err != nil {
			return err
		}
		_ = bar.Finish()

		if err := os.WriteFile(outputFile, project.Video, 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}

		log.Info().
			Str("output", outputFile).
			Int("bytes", len(project.Video)).
			Str("key", project.VideoKey).
			Msg("video written")
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan [panel images...]",
	Short: "Print the ffmpeg command a render would run",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		project, err := loadProject(args)
		if err != nil {
			return err
		}
		if err := loadTimings(project); err != nil {
			return err
		}

		pipe := pipeline.New(log.Logger, nil, pipeline.Services{})
		command, tl, err := pipe.Plan(project, pipeline.Options{
			Settings: settingsFromFlags(cmd, cfg),
			Encoding: encoding(cfg),
		})
		if err != nil {
			return err
		}

		for i, c := range tl.Clips {
			fmt.Printf("clip %-3d panel %-3d start %8ss  duration %8ss  regions %d\n",
				i+1, c.Panel, util.FormatSeconds(c.StartTime), util.FormatSeconds(c.Duration), len(c.EffectiveRegions()))
		}
		fmt.Println()
		fmt.Println(command.String())
		return nil
	},
}

// loadProject reads panel images, narration and regions from the flags.
func loadProject(paths []string) (*pipeline.Project, error) {
	images := make([]*clips.SourceImage, 0, len(paths))
	// the same file listed twice is one image
	byPath := make(map[string]*clips.SourceImage)
	for _, path := range paths {
		if img, ok := byPath[path]; ok {
			images = append(images, img)
			continue
		}
		img, err := loadImage(path)
		if err != nil {
			return nil, err
		}
		byPath[path] = img
		images = append(images, img)
	}

	project, err := pipeline.NewProject("", images)
	if err != nil {
		return nil, err
	}

	if audioFile != "" {
		wav, duration, err := loadNarration(audioFile)
		if err != nil {
			return nil, err
		}
		if err := project.SetNarration(wav, duration); err != nil {
			return nil, err
		}
	}

	if regionsFile != "" {
		var regions [][]clips.CropRegion
		if err := readJSON(regionsFile, &regions); err != nil {
			return nil, err
		}
		for i := range project.Panels {
			if i >= len(regions) {
				break
			}
			for _, r := range regions[i] {
				project.Panels[i].Regions = append(project.Panels[i].Regions, clips.NewCropRegion(r.X, r.Y, r.Width, r.Height))
			}
		}
	}
	return project, nil
}

func loadTimings(project *pipeline.Project) error {
	var timings []clips.PanelTiming
	if err := readJSON(timingsFile, &timings); err != nil {
		return err
	}
	project.Timings = timings
	if project.NarrationDuration <= 0 {
		return fmt.Errorf("narration audio is required to size the timeline")
	}
	return nil
}

func loadImage(path string) (*clips.SourceImage, error) {
	mime, err := util.MimeForExtension(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := clips.NewSourceImage(mime, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// loadNarration reads the audio and its duration. WAV headers are read
// directly; anything else is probed.
func loadNarration(path string) ([]byte, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if format, pcm, err := audio.DecodeWAV(data); err == nil {
		return data, audio.PCMDuration(pcm, format), nil
	}
	info, err := ffmpeg.ProbeAudio(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read narration duration: %w", err)
	}
	return data, info.Duration, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// settingsFromFlags starts from the configured defaults and applies any
// settings flags that were set.
func settingsFromFlags(cmd *cobra.Command, cfg *config.Config) clips.VideoSettings {
	s := cfg.Video.Settings()
	if cmd.Flags().Changed("resolution") {
		s.Resolution = resolution
	}
	if cmd.Flags().Changed("aspect") {
		s.AspectRatio = aspectRatio
	}
	if cmd.Flags().Changed("fps") {
		s.FrameRate = frameRate
	}
	if cmd.Flags().Changed("transition") {
		s.Transition = clips.Transition(transition)
	}
	if cmd.Flags().Changed("animation") {
		s.Animation = clips.Animation(animation)
	}
	return s
}

func encoding(cfg *config.Config) ffmpeg.Encoding {
	return ffmpeg.Encoding{Preset: cfg.FFmpeg.Preset, CRF: cfg.FFmpeg.CRF}
}

func runtimeOptions(cfg *config.Config) video.Options {
	return video.Options{
		BinaryPath: cfg.FFmpeg.BinaryPath,
		Threads:    cfg.FFmpeg.Threads,
		TempDir:    cfg.TempDir,
	}
}

func newProgressBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
	)
}

func barCallbacks(bar *progressbar.ProgressBar) video.Callbacks {
	return video.Callbacks{
		Progress: func(p float64) {
			_ = bar.Set(int(p))
		},
		Status: func(msg string) {
			bar.Describe(msg)
		},
	}
}
