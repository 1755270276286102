package ai

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Voices is the fixed set of prebuilt speech voices.
var Voices = []string{
	"Kore", "Puck", "Charon", "Fenrir", "Aoede", "Zephyr",
	"Leda", "Orus", "Callirrhoe", "Autonoe", "Enceladus", "Iapetus",
}

// ValidVoice reports whether name is one of Voices.
func ValidVoice(name string) bool {
	return slices.Contains(Voices, name)
}

// Synthesize reads the script aloud and returns raw mono 16-bit PCM at
// 24 kHz.
func (c *Client) Synthesize(ctx context.Context, script, voice string) ([]byte, error) {
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("script is empty")
	}
	if !ValidVoice(voice) {
		return nil, fmt.Errorf("unknown voice %q", voice)
	}

	reply, err := c.generate(ctx, c.cfg.VoiceModel, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{textPart(script)}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}

	_, pcm, err := reply.inline()
	if err != nil {
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}

	c.logger.Info().
		Str("voice", voice).
		Int("bytes", len(pcm)).
		Msg("narration synthesized")

	return pcm, nil
}
