package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/keagan/panelreel/internal/config"
	"github.com/rs/zerolog"
)

// ErrEmptyResponse is returned when the model answers without usable content.
var ErrEmptyResponse = errors.New("model returned no content")

// Client talks to the Gemini generateContent REST API.
type Client struct {
	logger  zerolog.Logger
	http    *http.Client
	apiKey  string
	baseURL string
	cfg     config.AIConfig
}

// NewClient creates a client from the AI configuration.
func NewClient(logger zerolog.Logger, cfg config.AIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Client{
		logger:  logger.With().Str("component", "ai").Logger(),
		http:    &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		cfg:     cfg,
	}, nil
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type generationConfig struct {
	ResponseMimeType   string        `json:"responseMimeType,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func textPart(s string) part {
	return part{Text: s}
}

func dataPart(mime string, data []byte) part {
	return part{InlineData: &inlineData{
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

// generate issues one generateContent call and returns the first candidate.
func (c *Client) generate(ctx context.Context, model string, body generateRequest) (content, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return content{}, fmt.Errorf("marshalling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return content{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return content{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return content{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return content{}, fmt.Errorf("%s request failed with status %d: %s", model, resp.StatusCode, truncate(string(data), 300))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return content{}, fmt.Errorf("unmarshalling response: %w", err)
	}

	c.logger.Debug().
		Str("model", model).
		Int("bytes", len(data)).
		Dur("took", time.Since(start)).
		Msg("generateContent")

	if out.PromptFeedback.BlockReason != "" {
		return content{}, fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return content{}, ErrEmptyResponse
	}
	return out.Candidates[0].Content, nil
}

// text joins the text parts of a response.
func (ct content) text() (string, error) {
	var sb strings.Builder
	for _, p := range ct.Parts {
		sb.WriteString(p.Text)
	}
	s := strings.TrimSpace(sb.String())
	if s == "" {
		return "", ErrEmptyResponse
	}
	return s, nil
}

// inline returns the first binary part of a response.
func (ct content) inline() (string, []byte, error) {
	for _, p := range ct.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return "", nil, fmt.Errorf("decoding inline data: %w", err)
		}
		return p.InlineData.MimeType, data, nil
	}
	return "", nil, ErrEmptyResponse
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
