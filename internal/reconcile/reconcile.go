package reconcile

import (
	"context"
	"strings"

	"github.com/ZacxDev/video-editor/internal/format"
	"github.com/ZacxDev/video-editor/internal/transform"
	"github.com/ZacxDev/video-editor/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/constraints"
)

// Player is the media element being driven. The browser adapter, the HTTP
// session and tests each provide one.
type Player interface {
	Source() string
	CurrentTime() float64
	Paused() bool
	Load(src string) error
	Seek(t float64)
	Play() error
	Pause()
	ApplyStyle(s Style)
}

// Recoverer finds a working alternative for a URL that failed to play.
type Recoverer interface {
	Recover(ctx context.Context, url string, kind types.FailureKind) (string, error)
}

// Decision is what a transformation change requires of the player.
type Decision struct {
	Action types.Action `json:"action"`
	URL    string       `json:"url"`
	Style  Style        `json:"style"`
}

// Decide compares two states. Border changes are restyled in place; any
// change that alters the preview URL needs a reload.
func Decide(prev, next transform.State, asset transform.Asset) Decision {
	return DecideWith(prev, next, asset, transform.PreviewOptions())
}

// DecideWith is Decide for a player whose source uses opts, e.g. a forced
// delivery format after a decode failure.
func DecideWith(prev, next transform.State, asset transform.Asset, opts transform.Options) Decision {
	nextURL := transform.BuildURL(asset, next, opts)
	d := Decision{Action: types.ActionNone, URL: nextURL, Style: StyleFor(next.Border)}

	if prev.Equal(next) {
		return d
	}
	if prev.OnlyBorderDiffers(next) {
		d.Action = types.ActionRestyle
		return d
	}

	prevURL := transform.BuildURL(asset, prev, opts)
	switch {
	case prevURL != nextURL:
		d.Action = types.ActionReload
	case StyleFor(prev.Border) != d.Style:
		d.Action = types.ActionRestyle
	}
	return d
}

// Reconciler keeps a Player in step with the current transformation.
type Reconciler struct {
	player    Player
	asset     transform.Asset
	state     transform.State
	recoverer Recoverer
	logger    *zap.Logger

	// previewFormat is the delivery format a decode recovery settled on.
	// Empty serves the uploaded container.
	previewFormat string
}

// New creates a reconciler for an asset shown in player.
func New(player Player, asset transform.Asset, recoverer Recoverer, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		player:    player,
		asset:     asset,
		recoverer: recoverer,
		logger:    logger,
	}
}

// Start loads the untransformed preview into the player.
func (r *Reconciler) Start() error {
	if err := r.player.Load(r.PreviewURL()); err != nil {
		return errors.Wrap(err, "failed to load preview")
	}
	r.player.ApplyStyle(StyleFor(r.state.Border))
	return nil
}

// State returns the transformation currently applied.
func (r *Reconciler) State() transform.State {
	return r.state
}

// PreviewURL is the player source for the current state.
func (r *Reconciler) PreviewURL() string {
	return transform.BuildURL(r.asset, r.state, r.previewOptions())
}

// PreviewFormat returns the delivery format forced by a decode recovery,
// or "" when the uploaded container is served.
func (r *Reconciler) PreviewFormat() string {
	return r.previewFormat
}

func (r *Reconciler) previewOptions() transform.Options {
	opts := transform.PreviewOptions()
	opts.Format = r.previewFormat
	return opts
}

// Asset returns the asset being edited.
func (r *Reconciler) Asset() transform.Asset {
	return r.asset
}

// Apply reconciles the player with next. A reload keeps the playhead on
// the same source frame when it is still inside the new trim window and
// resumes playback if the player was playing.
func (r *Reconciler) Apply(next transform.State) (Decision, error) {
	if err := next.Validate(); err != nil {
		return Decision{}, err
	}

	d := DecideWith(r.state, next, r.asset, r.previewOptions())
	switch d.Action {
	case types.ActionNone:
		return d, nil

	case types.ActionRestyle:
		r.player.ApplyStyle(d.Style)

	case types.ActionReload:
		sourceTime := r.player.CurrentTime() + r.state.Trim.Start
		target := clamp(sourceTime-next.Trim.Start, 0, r.windowLength(next.Trim))
		if err := r.reload(d.URL, target, d.Style); err != nil {
			return Decision{}, err
		}
	}

	r.logger.Debug("Applied transformation",
		zap.String("action", string(d.Action)),
		zap.String("url", d.URL),
		zap.String("border", d.Style.Border))

	r.state = next
	return d, nil
}

// HandleError reacts to a playback failure by loading the first working
// fallback URL at the same playhead position.
func (r *Reconciler) HandleError(ctx context.Context, kind types.FailureKind) (string, error) {
	if r.recoverer == nil {
		return "", errors.New("no recoverer configured")
	}

	failed := r.player.Source()
	r.logger.Warn("Playback failed, trying fallbacks",
		zap.String("kind", string(kind)),
		zap.String("url", failed))

	fallback, err := r.recoverer.Recover(ctx, failed, kind)
	if err != nil {
		return "", err
	}
	if err := r.reload(fallback, r.player.CurrentTime(), StyleFor(r.state.Border)); err != nil {
		return "", err
	}

	if kind == types.FailureDecode {
		if name := deliveredFormat(fallback); name != "" && name != r.previewFormat {
			r.logger.Info("Switching preview format",
				zap.String("from", r.previewFormat),
				zap.String("to", name))
			r.previewFormat = name
		}
	}
	return fallback, nil
}

// deliveredFormat names the registered format a delivery URL is served
// in: its f_ parameter, or else its extension.
func deliveredFormat(raw string) string {
	u, err := transform.ParseURL(raw)
	if err != nil {
		return ""
	}
	name := u.Extension
	for _, c := range u.Components {
		if !transform.IsDeliveryComponent(c) {
			continue
		}
		for _, p := range strings.Split(c, ",") {
			if strings.HasPrefix(p, "f_") {
				name = strings.TrimPrefix(p, "f_")
			}
		}
	}
	if _, err := format.Get(name); err != nil {
		return ""
	}
	return name
}

func (r *Reconciler) reload(url string, at float64, style Style) error {
	wasPlaying := !r.player.Paused()
	if wasPlaying {
		r.player.Pause()
	}

	if err := r.player.Load(url); err != nil {
		return errors.Wrapf(err, "failed to load %s", url)
	}
	r.player.Seek(at)
	r.player.ApplyStyle(style)

	if wasPlaying {
		if err := r.player.Play(); err != nil {
			return errors.Wrap(err, "failed to resume playback")
		}
	}
	return nil
}

// windowLength is the playable length under trim t. Zero duration means
// the asset length is unknown and nothing bounds the playhead.
func (r *Reconciler) windowLength(t transform.Trim) float64 {
	end := t.End
	if end == 0 || (r.asset.Duration > 0 && end > r.asset.Duration) {
		end = r.asset.Duration
	}
	if end == 0 {
		return maxPlayhead
	}
	if end < t.Start {
		return 0
	}
	return end - t.Start
}

const maxPlayhead = 1 << 30

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
