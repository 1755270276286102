package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/pkg/util"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Core settings
	TempDir     string `yaml:"temp_dir"`
	Concurrency int    `yaml:"concurrency"`

	AI      AIConfig      `yaml:"ai"`
	FFmpeg  FFmpegConfig  `yaml:"ffmpeg"`
	Video   VideoConfig   `yaml:"video"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Server  ServerConfig  `yaml:"server"`
}

type AIConfig struct {
	APIKey     string `yaml:"-"`
	BaseURL    string `yaml:"base_url"`
	TextModel  string `yaml:"text_model"`
	ImageModel string `yaml:"image_model"`
	VoiceModel string `yaml:"voice_model"`
	Voice      string `yaml:"voice"`
	Language   string `yaml:"language"`
	// BatchSize is the number of panels sent per script-generation turn.
	BatchSize      int  `yaml:"batch_size"`
	RemoveText     bool `yaml:"remove_text"`
	DetectSubjects bool `yaml:"detect_subjects"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path"`
	Threads    int    `yaml:"threads"`
	Preset     string `yaml:"preset"`
	CRF        int    `yaml:"crf"`
}

type VideoConfig struct {
	Resolution  string `yaml:"resolution"`
	AspectRatio string `yaml:"aspect_ratio"`
	FrameRate   int    `yaml:"frame_rate"`
	Transition  string `yaml:"transition"`
	Animation   string `yaml:"animation"`
}

// Settings converts the configured defaults into render settings.
func (v VideoConfig) Settings() clips.VideoSettings {
	return clips.VideoSettings{
		Resolution:  v.Resolution,
		AspectRatio: v.AspectRatio,
		FrameRate:   v.FrameRate,
		Transition:  clips.Transition(v.Transition),
		Animation:   clips.Animation(v.Animation),
	}
}

type StorageConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Profile      string `yaml:"profile"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type CacheConfig struct {
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
	StructuredLog bool   `yaml:"structured_log"`
}

// Load reads configuration from file or returns defaults, then applies
// environment overrides (including a .env file when present).
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()
	applyEnv(cfg)

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		TempDir:     "",
		Concurrency: 4,
		AI: AIConfig{
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			TextModel:      "gemini-2.5-flash",
			ImageModel:     "gemini-2.5-flash-image",
			VoiceModel:     "gemini-2.5-flash-preview-tts",
			Voice:          "Kore",
			Language:       "English",
			BatchSize:      10,
			RemoveText:     true,
			DetectSubjects: true,
			TimeoutSeconds: 120,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "",
			Threads:    0,
			Preset:     "veryfast",
			CRF:        23,
		},
		Video: VideoConfig{
			Resolution:  "720p",
			AspectRatio: "16:9",
			FrameRate:   30,
			Transition:  "fade",
			Animation:   "zoom",
		},
		Storage: StorageConfig{
			Prefix: "renders/",
		},
		Cache: CacheConfig{
			TTLMinutes: 24 * 60,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9093"},
			Topic:   "render-requests",
			GroupID: "panelreel-render",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MaxUploadMB: 200,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		cfg.FFmpeg.BinaryPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Storage.Bucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("S3_PROFILE"); v != "" {
		cfg.Storage.Profile = v
	}
	if v := os.Getenv("S3_PREFIX"); v != "" {
		cfg.Storage.Prefix = v
	}
	if v, err := strconv.ParseBool(os.Getenv("S3_USE_PATH_STYLE")); err == nil {
		cfg.Storage.UsePathStyle = v
	}
	if v := os.Getenv("KAFKA_BOOTSTRAP_SERVERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC_RENDER_REQUESTS"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("KAFKA_CONSUMER_GROUP_ID"); v != "" {
		cfg.Kafka.GroupID = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".panelreel", "config.yaml"),
	}

	for _, path := range candidates {
		if util.FileExists(path) {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
