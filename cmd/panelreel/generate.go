package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/keagan/panelreel/internal/ai"
	"github.com/keagan/panelreel/internal/cache"
	"github.com/keagan/panelreel/internal/config"
	"github.com/keagan/panelreel/internal/ffmpeg"
	"github.com/keagan/panelreel/internal/pipeline"
	"github.com/keagan/panelreel/internal/storage"
	"github.com/keagan/panelreel/internal/video"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	voice        string
	language     string
	noRemoveText bool
	noDetect     bool
	scriptOut    string
)

func init() {
	generateCmd.Flags().StringVarP(&audioFile, "audio", "a", "", "existing narration, used with --timings; skips script and voice generation")
	generateCmd.Flags().StringVarP(&timingsFile, "timings", "t", "", "existing panel timings JSON; skips timing inference")
	generateCmd.Flags().StringVar(&regionsFile, "regions", "", "crop regions JSON file, one list per panel")
	generateCmd.Flags().StringVar(&voice, "voice", "", "narration voice (see list voices)")
	generateCmd.Flags().StringVar(&language, "language", "", "narration language")
	generateCmd.Flags().BoolVar(&noRemoveText, "keep-text", false, "do not remove text from panels")
	generateCmd.Flags().BoolVar(&noDetect, "no-detect", false, "do not crop panels around detected subjects")
	generateCmd.Flags().StringVar(&scriptOut, "script-out", "", "also write the narration script to this file")
	generateCmd.Flags().StringVarP(&outputFile, "output", "o", ffmpeg.DownloadName, "output file")
	generateCmd.Flags().BoolVar(&publish, "publish", false, "upload the video to the configured bucket")
	addSettingsFlags(generateCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate [panel images...]",
	Short: "Write, narrate, time, edit and render a video from panels",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		if audioFile != "" && timingsFile == "" {
			return fmt.Errorf("--audio needs --timings: timings cannot be inferred without the script that was narrated")
		}

		project, err := loadProject(args)
		if err != nil {
			return err
		}
		if timingsFile != "" {
			if err := loadTimings(project); err != nil {
				return err
			}
		}

		client, err := ai.NewClient(log.Logger, cfg.AI)
		if err != nil {
			return err
		}
		rt, err := video.Acquire(log.Logger, runtimeOptions(cfg))
		if err != nil {
			return err
		}

		services := pipeline.Services{
			Script:   client,
			Voice:    client,
			Timing:   client,
			Editor:   client,
			Renderer: rt,
			Cache:    openCache(ctx, cfg),
		}
		if publish {
			store, err := storage.NewS3(ctx, log.Logger, cfg.Storage)
			if err != nil {
				return err
			}
			services.Publisher = store
		}

		pipe := pipeline.New(log.Logger, &pipeline.Config{Workers: cfg.Concurrency}, services)
		defer pipe.Close()

		opts := pipeline.Options{
			Language:       pick(language, cfg.AI.Language),
			Voice:          pick(voice, cfg.AI.Voice),
			BatchSize:      cfg.AI.BatchSize,
			RemoveText:     cfg.AI.RemoveText && !noRemoveText,
			DetectSubjects: cfg.AI.DetectSubjects && !noDetect,
			Settings:       settingsFromFlags(cmd, cfg),
			Encoding:       encoding(cfg),
			Publish:        publish,
		}
		if !ai.ValidVoice(opts.Voice) {
			return fmt.Errorf("unknown voice %q", opts.Voice)
		}

		bar := newProgressBar("Starting")
		err = pipe.Run(ctx, project, opts, barCallbacks(bar))
		if project.Script != "" && scriptOut != "" {
			if werr := os.WriteFile(scriptOut, []byte(project.Script), 0644); werr != nil {
				log.Warn().Err(werr).Str("path", scriptOut).Msg("failed to write script")
			}
		}
		if err != nil {
			var stepErr *pipeline.StepError
			if errors.As(err, &stepErr) {
				log.Error().
					Str("step", string(stepErr.Step)).
					Msg("generation stopped; earlier steps can be reused with --audio/--timings")
			}
			return err
		}
		_ = bar.Finish()

		if err := os.WriteFile(outputFile, project.Video, 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		log.Info().
			Str("output", outputFile).
			Float64("duration", project.NarrationDuration).
			Str("key", project.VideoKey).
			Msg("video generated")
		return nil
	},
}

// openCache prefers redis when configured and falls back to memory.
func openCache(ctx context.Context, cfg *config.Config) cache.Store {
	ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
	if cfg.Cache.RedisAddr != "" {
		store, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
			TTL:  ttl,
		})
		if err == nil {
			return store
		}
		log.Warn().Err(err).Msg("redis unavailable, caching in memory")
	}
	return cache.NewMemory(ttl)
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
