package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/keagan/panelreel/internal/ai"
	"github.com/keagan/panelreel/internal/audio"
	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/ffmpeg"
	"github.com/keagan/panelreel/internal/video"
	"github.com/keagan/panelreel/pkg/util"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PanelInput is one panel of a plan request.
type PanelInput struct {
	MimeType string             `json:"mimeType"`
	Data     []byte             `json:"data"`
	Regions  []clips.CropRegion `json:"regions,omitempty"`
}

// PlanRequest asks for the encoder command of a render without running it.
type PlanRequest struct {
	Panels   []PanelInput         `json:"panels"`
	Timings  []clips.PanelTiming  `json:"timings"`
	Duration float64              `json:"duration"`
	Settings *clips.VideoSettings `json:"settings,omitempty"`
}

// PlanResponse carries the assembled command.
type PlanResponse struct {
	Args          []string `json:"args"`
	FilterComplex string   `json:"filterComplex"`
	Duration      float64  `json:"duration"`
	Clips         int      `json:"clips"`
	Images        int      `json:"images"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"renderer": s.renderer != nil,
	})
}

func (s *Server) handleVoices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"voices": ai.Voices})
}

func (s *Server) handlePresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"resolutions":  clips.Resolutions(),
		"aspectRatios": clips.AspectRatios(),
		"transitions":  clips.Transitions(),
		"defaults":     s.config.Settings,
	})
}

func (s *Server) handlePlan(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, requestStatus(err), "invalid_request", err)
		return
	}

	panels := make([]clips.Panel, len(req.Panels))
	for i, in := range req.Panels {
		img, err := clips.NewSourceImage(in.MimeType, in.Data)
		if err != nil {
			s.fail(c, http.StatusBadRequest, "invalid_panel", fmt.Errorf("panel %d: %w", i+1, err))
			return
		}
		panels[i] = clips.Panel{Image: img, Regions: freshRegions(in.Regions)}
	}

	settings := s.config.Settings
	if req.Settings != nil {
		settings = *req.Settings
	}

	tl, err := s.builder.Build(req.Timings, panels, req.Duration)
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, "invalid_timeline", err)
		return
	}
	cmd, assets, err := video.Plan(s.logger, video.Request{
		Timeline: tl,
		Settings: settings,
		Encoding: s.config.Encoding,
	})
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, "plan_failed", err)
		return
	}

	c.JSON(http.StatusOK, PlanResponse{
		Args:          cmd.Args(),
		FilterComplex: cmd.Graph.String(),
		Duration:      cmd.Duration,
		Clips:         len(tl.Clips),
		Images:        len(assets.Images),
	})
}

// handleRender accepts multipart fields:
//
//	panels[]  image files in reading order
//	audio     narration WAV
//	timings   JSON array of {panel, startTime}
//	regions   optional JSON array of region lists, one per panel
//	settings  optional JSON video settings
func (s *Server) handleRender(c *gin.Context) {
	if s.renderer == nil {
		s.fail(c, http.StatusServiceUnavailable, "renderer_unavailable", errors.New("encoder is not available"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		s.fail(c, requestStatus(err), "invalid_request", err)
		return
	}

	panels, err := readPanels(form.File["panels[]"])
	if err != nil {
		s.fail(c, http.StatusBadRequest, "invalid_panel", err)
		return
	}

	audioHeader, err := c.FormFile("audio")
	if err != nil {
		s.fail(c, http.StatusBadRequest, "missing_audio", errors.New("no narration provided in 'audio' field"))
		return
	}
	wav, err := readUpload(audioHeader)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "invalid_audio", err)
		return
	}
	format, pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "invalid_audio", err)
		return
	}
	duration := audio.PCMDuration(pcm, format)

	var timings []clips.PanelTiming
	if err := json.Unmarshal([]byte(c.PostForm("timings")), &timings); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid_timings", err)
		return
	}

	if raw := c.PostForm("regions"); raw != "" {
		var regions [][]clips.CropRegion
		if err := json.Unmarshal([]byte(raw), &regions); err != nil {
			s.fail(c, http.StatusBadRequest, "invalid_regions", err)
			return
		}
		for i := range panels {
			if i < len(regions) {
				panels[i].Regions = freshRegions(regions[i])
			}
		}
	}

	settings := s.config.Settings
	if raw := c.PostForm("settings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			s.fail(c, http.StatusBadRequest, "invalid_settings", err)
			return
		}
	}

	tl, err := s.builder.Build(timings, panels, duration)
	if err != nil {
		s.fail(c, http.StatusUnprocessableEntity, "invalid_timeline", err)
		return
	}

	data, err := s.renderer.Render(c.Request.Context(), video.Request{
		Timeline: tl,
		Settings: settings,
		Encoding: s.config.Encoding,
		Audio:    wav,
	}, video.Callbacks{
		Status: func(msg string) {
			s.logger.Debug().Str("status", msg).Msg("render status")
		},
	})
	if err != nil {
		status := http.StatusInternalServerError
		if !errors.Is(err, ffmpeg.ErrEncoder) {
			status = http.StatusUnprocessableEntity
		}
		s.fail(c, status, "render_failed", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ffmpeg.DownloadName))
	c.Data(http.StatusOK, "video/mp4", data)
}

func (s *Server) fail(c *gin.Context, status int, code string, err error) {
	s.logger.Warn().Err(err).Str("error", code).Int("status", status).Msg("request failed")
	c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

func readPanels(headers []*multipart.FileHeader) ([]clips.Panel, error) {
	if len(headers) == 0 {
		return nil, errors.New("no panels provided in 'panels[]' field")
	}
	panels := make([]clips.Panel, len(headers))
	for i, h := range headers {
		data, err := readUpload(h)
		if err != nil {
			return nil, fmt.Errorf("panel %d: %w", i+1, err)
		}
		mime := h.Header.Get("Content-Type")
		if mime == "" || !strings.HasPrefix(mime, "image/") {
			if mime, err = util.MimeForExtension(h.Filename); err != nil {
				return nil, fmt.Errorf("panel %d: %w", i+1, err)
			}
		}
		img, err := clips.NewSourceImage(mime, data)
		if err != nil {
			return nil, fmt.Errorf("panel %d: %w", i+1, err)
		}
		panels[i] = clips.Panel{Image: img}
	}
	return panels, nil
}

// requestStatus maps a body read error to 413 when the size cap was hit.
func requestStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func readUpload(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func freshRegions(regions []clips.CropRegion) []clips.CropRegion {
	if len(regions) == 0 {
		return nil
	}
	out := make([]clips.CropRegion, len(regions))
	for i, r := range regions {
		out[i] = clips.NewCropRegion(r.X, r.Y, r.Width, r.Height)
	}
	return out
}
