package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/ZacxDev/video-editor/internal/ffmpeg"
	"github.com/ZacxDev/video-editor/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNoFallbackAvailable is returned when every candidate URL failed.
var ErrNoFallbackAvailable = errors.New("no fallback url available")

// Helper probes delivery URLs and walks the fallback list after a
// playback failure.
type Helper struct {
	client       *http.Client
	logger       *zap.Logger
	delay        time.Duration
	probeTimeout time.Duration
	prober       *ffmpeg.Processor
	sleep        func(ctx context.Context, d time.Duration) error
}

// Options configure a Helper.
type Options struct {
	HTTPClient   *http.Client
	Logger       *zap.Logger
	Delay        time.Duration
	ProbeTimeout time.Duration
	Prober       *ffmpeg.Processor
}

// NewHelper creates a retry helper
func NewHelper(opts Options) *Helper {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.Prober == nil {
		opts.Prober = ffmpeg.NewProcessor(opts.Logger, opts.ProbeTimeout)
	}
	return &Helper{
		client:       opts.HTTPClient,
		logger:       opts.Logger,
		delay:        opts.Delay,
		probeTimeout: opts.ProbeTimeout,
		prober:       opts.Prober,
		sleep:        sleepContext,
	}
}

// Recover tries each fallback for url in order and returns the first one
// the delivery endpoint serves. Attempts are spaced by the fixed delay.
func (h *Helper) Recover(ctx context.Context, url string, kind types.FailureKind) (string, error) {
	candidates, err := FallbackURLs(url, kind)
	if err != nil {
		return "", err
	}

	for i, candidate := range candidates {
		if i > 0 && h.delay > 0 {
			if err := h.sleep(ctx, h.delay); err != nil {
				return "", errors.Wrap(err, "recovery cancelled")
			}
		}

		res, err := h.Probe(ctx, candidate)
		if err == nil && res.Pending {
			// The derivation is still being generated; give it one more
			// delay before moving down the list.
			h.logger.Debug("Fallback still deriving, waiting",
				zap.Int("attempt", i+1),
				zap.String("url", candidate))
			if err := h.sleep(ctx, h.delay); err != nil {
				return "", errors.Wrap(err, "recovery cancelled")
			}
			res, err = h.Probe(ctx, candidate)
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", errors.Wrap(ctx.Err(), "recovery cancelled")
			}
			h.logger.Warn("Fallback probe failed",
				zap.Int("attempt", i+1),
				zap.String("url", candidate),
				zap.Error(err))
			continue
		}
		if res.Available {
			h.logger.Info("Recovered playback url",
				zap.String("kind", string(kind)),
				zap.Int("attempt", i+1),
				zap.String("url", candidate))
			return candidate, nil
		}

		h.logger.Debug("Fallback not available",
			zap.Int("attempt", i+1),
			zap.String("url", candidate),
			zap.Int("status", res.StatusCode))
	}

	return "", errors.Wrapf(ErrNoFallbackAvailable, "tried %d urls for %s", len(candidates), url)
}

// InspectResult reports what ffprobe found at a delivery URL.
type InspectResult struct {
	URL      string                `json:"url"`
	Metadata *ffmpeg.VideoMetadata `json:"metadata"`
	Playable bool                  `json:"playable"`
}

// Inspect probes the delivered resource with ffprobe to tell whether a
// decode failure is the codec's fault.
func (h *Helper) Inspect(ctx context.Context, url, formatName string) (*InspectResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	metadata, err := h.prober.GetVideoMetadata(url)
	if err != nil {
		return nil, err
	}
	return &InspectResult{
		URL:      url,
		Metadata: metadata,
		Playable: ffmpeg.IsPlayable(metadata, formatName),
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
