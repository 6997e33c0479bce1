package ffmpeg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ZacxDev/video-editor/internal/format"
	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// ErrNoVideoStream is returned for files without a video track.
var ErrNoVideoStream = errors.New("no video stream found")

// VideoMetadata contains metadata about a local file or remote resource
type VideoMetadata struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	FormatName string
	Bitrate    int64
	HasAudio   bool
}

// ProbeFunc runs ffprobe on a path or URL and returns its JSON output.
type ProbeFunc func(input string, timeout time.Duration) (string, error)

func defaultProbe(input string, timeout time.Duration) (string, error) {
	return ffmpeg.ProbeWithTimeout(input, timeout, ffmpeg.KwArgs{})
}

// Processor wraps ffprobe. Nothing here encodes; all rendering happens on
// the remote service.
type Processor struct {
	logger  *zap.Logger
	timeout time.Duration
	probe   ProbeFunc
}

// NewProcessor creates a new probe processor
func NewProcessor(logger *zap.Logger, timeout time.Duration) *Processor {
	return &Processor{
		logger:  logger,
		timeout: timeout,
		probe:   defaultProbe,
	}
}

// WithProbe swaps the ffprobe runner, for tests and alternate binaries.
func (p *Processor) WithProbe(fn ProbeFunc) *Processor {
	p.probe = fn
	return p
}

// GetVideoMetadata retrieves metadata about a video file or URL
func (p *Processor) GetVideoMetadata(input string) (*VideoMetadata, error) {
	out, err := p.probe(input, p.timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "error probing %s", input)
	}

	metadata, err := ParseProbe(out)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading probe output for %s", input)
	}

	p.logger.Debug("Probed video",
		zap.String("input", input),
		zap.Float64("duration", metadata.Duration),
		zap.Int("width", metadata.Width),
		zap.Int("height", metadata.Height),
		zap.String("codec", metadata.Codec),
		zap.String("container", metadata.FormatName))

	return metadata, nil
}

// IsPlayable reports whether the probed codec plays in the named delivery
// format. With an unknown format name the probed container list decides.
func IsPlayable(metadata *VideoMetadata, formatName string) bool {
	if f, err := format.Get(formatName); err == nil {
		return f.IsPlayable(metadata.Codec)
	}
	for _, name := range strings.Split(metadata.FormatName, ",") {
		if f, err := format.Get(name); err == nil && f.IsPlayable(metadata.Codec) {
			return true
		}
	}
	return false
}

// ParseProbe extracts metadata from ffprobe's JSON output
func ParseProbe(probe string) (*VideoMetadata, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(probe), &data); err != nil {
		return nil, errors.WithStack(err)
	}

	streams, ok := data["streams"].([]interface{})
	if !ok || len(streams) == 0 {
		return nil, fmt.Errorf("no streams found in video")
	}

	metadata := &VideoMetadata{}
	var videoStream map[string]interface{}
	for _, stream := range streams {
		s, ok := stream.(map[string]interface{})
		if !ok {
			continue
		}
		switch s["codec_type"] {
		case "video":
			if videoStream == nil {
				videoStream = s
			}
		case "audio":
			metadata.HasAudio = true
		}
	}

	if videoStream == nil {
		return nil, ErrNoVideoStream
	}

	formatSection, _ := data["format"].(map[string]interface{})

	// First try video stream duration
	metadata.Duration = parseFloatField(videoStream, "duration")

	// If stream duration is not available, try format duration
	if metadata.Duration == 0 && formatSection != nil {
		metadata.Duration = parseFloatField(formatSection, "duration")
	}

	// If still no duration found, try calculating from frames and frame rate
	if metadata.Duration == 0 {
		frames := parseFloatField(videoStream, "nb_frames")
		if rate := parseFrameRate(videoStream["r_frame_rate"]); frames > 0 && rate > 0 {
			metadata.Duration = frames / rate
		}
	}

	if metadata.Duration == 0 {
		return nil, fmt.Errorf("could not determine video duration")
	}

	if w, ok := videoStream["width"].(float64); ok {
		metadata.Width = int(w)
	}
	if h, ok := videoStream["height"].(float64); ok {
		metadata.Height = int(h)
	}
	metadata.Codec, _ = videoStream["codec_name"].(string)

	if formatSection != nil {
		metadata.FormatName, _ = formatSection["format_name"].(string)
		metadata.Bitrate = int64(parseFloatField(formatSection, "bit_rate"))
	}
	if metadata.Bitrate == 0 {
		metadata.Bitrate = int64(parseFloatField(videoStream, "bit_rate"))
	}

	return metadata, nil
}

func parseFloatField(section map[string]interface{}, key string) float64 {
	raw, ok := section[key].(string)
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFrameRate(raw interface{}) float64 {
	s, ok := raw.(string)
	if !ok {
		return 0
	}
	nums := strings.Split(s, "/")
	if len(nums) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(nums[0], 64)
	den, err2 := strconv.ParseFloat(nums[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
