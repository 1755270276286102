package ffmpeg

// AudioInfo contains metadata about an audio file
type AudioInfo struct {
	FilePath   string
	Duration   float64
	Codec      string
	SampleRate int
	Channels   int
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame      int
	FPS        float64
	Bitrate    string
	Time       string
	Speed      string
	Percentage float64
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args []string
	// Dir is the working directory relative input and output names resolve
	// against.
	Dir string
	// TotalDuration in seconds lets progress be reported as a percentage.
	TotalDuration   float64
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// Default encoding settings
const (
	DefaultCRF        = 23
	DefaultPreset     = "veryfast"
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
)
