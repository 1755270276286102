package queue

import (
	"context"
	"encoding/json"
	"errors"
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

// PanelRef points at a panel image in object storage.
type PanelRef struct {
	Key     string             `json:"key"`
	Regions []clips.CropRegion `json:"regions,omitempty"`
}

// RenderRequest is the message body of a render job.
type RenderRequest struct {
	ID       string               `json:"id"`
	Panels   []PanelRef           `json:"panels"`
	AudioKey string               `json:"audioKey"`
	Timings  []clips.PanelTiming  `json:"timings"`
	Settings *clips.VideoSettings `json:"settings,omitempty"`
	// OutputKey overrides where the video is stored.
	OutputKey string `json:"outputKey,omitempty"`
}

// Validate checks the fields a job cannot do without.
func (r *RenderRequest) Validate() error {
	if len(r.Panels) == 0 {
		return errors.New("render request has no panels")
	}
	for i, p := range r.Panels {
		if p.Key == "" {
			return fmt.Errorf("panel %d has no key", i+1)
		}
	}
	if r.AudioKey == "" {
		return errors.New("render request has no audio key")
	}
	if len(r.Timings) == 0 {
		return errors.New("render request has no timings")
	}
	return nil
}

// ObjectStore reads job inputs and stores results.
type ObjectStore interface {
	Key(name string) string
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Renderer produces the MP4.
type Renderer interface {
	Render(ctx context.Context, req video.Request, cb video.Callbacks) ([]byte, error)
}

// Worker turns render requests into published videos.
type Worker struct {
	logger   zerolog.Logger
	store    ObjectStore
	renderer Renderer
	builder  *timeline.Builder
	settings clips.VideoSettings
	encoding ffmpeg.Encoding
}

// NewWorker creates a worker using settings for requests that carry none.
func NewWorker(logger zerolog.Logger, store ObjectStore, renderer Renderer, settings clips.VideoSettings, encoding ffmpeg.Encoding) *Worker {
	return &Worker{
		logger:   logger.With().Str("component", "worker").Logger(),
		store:    store,
		renderer: renderer,
		builder:  timeline.NewBuilder(logger),
		settings: settings,
		encoding: encoding,
	}
}

// HandleMessage implements MessageHandler. Jobs are not retried: every
// message is marked unless the context was cancelled mid-job.
func (w *Worker) HandleMessage(ctx context.Context, message []byte) (bool, error) {
	var req RenderRequest
	if err := json.Unmarshal(message, &req); err != nil {
		w.logger.Warn().Err(err).Msg("skipping unreadable render request")
		return true, nil
	}
	if err := req.Validate(); err != nil {
		w.logger.Warn().Err(err).Str("job", req.ID).Msg("skipping invalid render request")
		return true, nil
	}

	key, err := w.Process(ctx, &req)
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		return true, err
	}
	w.logger.Info().Str("job", req.ID).Str("key", key).Msg("render job complete")
	return true, nil
}

// Process runs one job and returns the key the video was stored under.
func (w *Worker) Process(ctx context.Context, req *RenderRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	start := time.Now()
	logger := w.logger.With().Str("job", req.ID).Logger()

	key := req.OutputKey
	if key == "" {
		key = w.store.Key(fmt.Sprintf("%s/%s", req.ID, ffmpeg.DownloadName))
	}
	// a redelivered job whose video was already stored is done
	if done, err := w.store.Exists(ctx, key); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cannot check for existing video")
	} else if done {
		logger.Info().Str("key", key).Msg("video already stored, skipping")
		return key, nil
	}

	panels := make([]clips.Panel, len(req.Panels))
	for i, ref := range req.Panels {
		data, mime, err := w.store.Get(ctx, ref.Key)
		if err != nil {
			return "", fmt.Errorf("fetch panel %d: %w", i+1, err)
		}
		img, err := clips.NewSourceImage(mime, data)
		if err != nil {
			return "", fmt.Errorf("panel %d: %w", i+1, err)
		}
		regions := make([]clips.CropRegion, len(ref.Regions))
		for j, r := range ref.Regions {
			regions[j] = clips.NewCropRegion(r.X, r.Y, r.Width, r.Height)
		}
		panels[i] = clips.Panel{Image: img, Regions: regions}
	}

	wav, _, err := w.store.Get(ctx, req.AudioKey)
	if err != nil {
		return "", fmt.Errorf("fetch narration: %w", err)
	}
	format, pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return "", fmt.Errorf("narration: %w", err)
	}

	tl, err := w.builder.Build(req.Timings, panels, audio.PCMDuration(pcm, format))
	if err != nil {
		return "", err
	}

	settings := w.settings
	if req.Settings != nil {
		settings = *req.Settings
	}

	data, err := w.renderer.Render(ctx, video.Request{
		Timeline: tl,
		Settings: settings,
		Encoding: w.encoding,
		Audio:    wav,
	}, video.Callbacks{
		Status: func(msg string) {
			logger.Debug().Str("status", msg).Msg("render status")
		},
	})
	if err != nil {
		return "", err
	}

	if err := w.store.Put(ctx, key, data, "video/mp4"); err != nil {
		return "", fmt.Errorf("store video: %w", err)
	}

	logger.Info().
		Int("clips", len(tl.Clips)).
		Int("bytes", len(data)).
		Dur("took", time.Since(start)).
		Msg("video stored")
	return key, nil
}
