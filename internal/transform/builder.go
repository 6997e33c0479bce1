package transform

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZacxDev/video-editor/internal/format"
	"github.com/pkg/errors"
)

const resourcePath = "video/upload"

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// Asset identifies an uploaded video on the remote service.
type Asset struct {
	CloudName       string  `json:"cloud_name"`
	PublicID        string  `json:"public_id"`
	Version         int64   `json:"version"`
	Format          string  `json:"format"`
	DeliveryBaseURL string  `json:"delivery_base_url"`
	Duration        float64 `json:"duration"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Bytes           int64   `json:"bytes"`
}

// Options control the parts of a URL that are not user edits.
type Options struct {
	// IncludeBorder bakes the border into the video. Preview leaves it to CSS.
	IncludeBorder bool
	// Format forces a delivery container and codec, e.g. "mp4".
	Format string
	// AutoQuality lets the service pick the compression level.
	AutoQuality bool
	// Attachment asks the service to serve a download.
	Attachment bool
}

// PreviewOptions is used for the in-editor player source.
func PreviewOptions() Options {
	return Options{}
}

// DownloadOptions is used for the exported file.
func DownloadOptions(formatName string) Options {
	return Options{IncludeBorder: true, Format: formatName, AutoQuality: true, Attachment: true}
}

// BuildTransformation renders the state as an ordered transformation
// string. Components are joined with "/", parameters with ",".
func BuildTransformation(s State, opts Options) string {
	var components []string
	add := func(params ...string) {
		if len(params) > 0 {
			components = append(components, strings.Join(params, ","))
		}
	}

	// trim
	var trim []string
	if s.Trim.Start > 0 {
		trim = append(trim, "so_"+formatNumber(s.Trim.Start))
	}
	if s.Trim.End > 0 {
		trim = append(trim, "eo_"+formatNumber(s.Trim.End))
	}
	add(trim...)

	// crop
	if s.Crop.Enabled && s.Crop.Width > 0 && s.Crop.Height > 0 {
		crop := []string{"c_crop", fmt.Sprintf("w_%d", s.Crop.Width), fmt.Sprintf("h_%d", s.Crop.Height)}
		if s.Crop.X > 0 || s.Crop.Y > 0 {
			crop = append(crop, fmt.Sprintf("x_%d", s.Crop.X), fmt.Sprintf("y_%d", s.Crop.Y))
		}
		if s.Crop.Gravity != "" {
			crop = append(crop, "g_"+s.Crop.Gravity)
		}
		add(crop...)
	}

	// rotate
	if angle := NormalizeAngle(s.Rotate.Angle); angle != 0 {
		add(fmt.Sprintf("a_%d", angle))
	}
	if s.Rotate.FlipHorizontal {
		add("a_hflip")
	}
	if s.Rotate.FlipVertical {
		add("a_vflip")
	}

	// effects, one action per component
	e := s.Effects
	for _, effect := range []struct {
		name  string
		value int
	}{
		{"brightness", e.Brightness},
		{"contrast", e.Contrast},
		{"saturation", e.Saturation},
		{"gamma", e.Gamma},
		{"blur", e.Blur},
		{"volume", e.Volume},
		{"accelerate", e.Speed},
	} {
		if effect.value != 0 {
			add(fmt.Sprintf("e_%s:%d", effect.name, effect.value))
		}
	}
	if e.FadeIn > 0 {
		add(fmt.Sprintf("e_fade:%d", e.FadeIn))
	}
	if e.FadeOut > 0 {
		add(fmt.Sprintf("e_fade:-%d", e.FadeOut))
	}
	if e.Reverse {
		add("e_reverse")
	}

	// text overlay
	if s.Text.Content != "" {
		add(textOverlay(s.Text)...)
	}

	// border
	if opts.IncludeBorder && s.Border.Width > 0 {
		add(fmt.Sprintf("bo_%dpx_solid_rgb:%s", s.Border.Width, normalizeHex(s.Border.Color)))
	}

	add(deliveryParams(opts)...)

	return strings.Join(components, "/")
}

// BuildURL appends the transformation for s to the asset's delivery URL.
func BuildURL(a Asset, s State, opts Options) string {
	ext := a.Format
	if opts.Format != "" {
		if f, err := format.Get(opts.Format); err == nil {
			ext = f.GetExtension()
		}
	}
	u := DeliveryURL{
		Base:       deliveryBase(a),
		Components: splitComponents(BuildTransformation(s, opts)),
		Version:    a.Version,
		PublicID:   a.PublicID,
		Extension:  ext,
	}
	return u.String()
}

// OriginalURL is the untransformed delivery URL of the asset.
func OriginalURL(a Asset) string {
	return BuildURL(a, State{}, Options{})
}

// NormalizeAngle maps any angle into [0, 360).
func NormalizeAngle(angle int) int {
	return ((angle % 360) + 360) % 360
}

// EscapeText percent-encodes overlay text. Commas and slashes are
// double-escaped because the service decodes the path once before it
// splits the transformation.
func EscapeText(text string) string {
	escaped := url.PathEscape(text)
	escaped = strings.ReplaceAll(escaped, "%2F", "%252F")
	escaped = strings.ReplaceAll(escaped, "%2C", "%252C")
	return escaped
}

func textOverlay(t Text) []string {
	font := t.Font
	if font == "" {
		font = DefaultFont
	}
	size := t.Size
	if size == 0 {
		size = DefaultTextSize
	}
	color := t.Color
	if color == "" {
		color = DefaultTextColor
	}
	gravity := t.Gravity
	if gravity == "" {
		gravity = DefaultGravity
	}

	style := fmt.Sprintf("%s_%d", strings.ReplaceAll(font, " ", "%20"), size)
	if t.Bold {
		style += "_bold"
	}

	params := []string{
		fmt.Sprintf("l_text:%s:%s", style, EscapeText(t.Content)),
		"co_rgb:" + normalizeHex(color),
		"g_" + gravity,
	}
	if t.X != 0 || t.Y != 0 {
		params = append(params, fmt.Sprintf("x_%d", t.X), fmt.Sprintf("y_%d", t.Y))
	}
	if t.Start > 0 {
		params = append(params, "so_"+formatNumber(t.Start))
	}
	if t.End > 0 {
		params = append(params, "eo_"+formatNumber(t.End))
	}
	return params
}

func deliveryParams(opts Options) []string {
	var params []string
	if opts.Format != "" {
		if f, err := format.Get(opts.Format); err == nil {
			params = append(params, "f_"+f.GetExtension(), "vc_"+f.GetVideoCodec())
		}
	}
	if opts.AutoQuality {
		params = append(params, "q_auto")
	}
	if opts.Attachment {
		params = append(params, "fl_attachment")
	}
	return params
}

// IsDeliveryComponent reports whether a component only carries delivery
// parameters (format, codec, quality, flags) rather than edits.
func IsDeliveryComponent(component string) bool {
	for _, p := range strings.Split(component, ",") {
		switch {
		case strings.HasPrefix(p, "f_"), strings.HasPrefix(p, "vc_"),
			strings.HasPrefix(p, "q_"), strings.HasPrefix(p, "fl_"):
		default:
			return false
		}
	}
	return component != ""
}

// DeliveryURL is a parsed delivery URL.
type DeliveryURL struct {
	Base       string // scheme, host and cloud name
	Components []string
	Version    int64
	PublicID   string
	Extension  string
	RawQuery   string
}

// String renders the URL. An empty transformation leaves no empty segment.
func (u DeliveryURL) String() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSuffix(u.Base, "/"))
	sb.WriteString("/" + resourcePath + "/")
	for _, c := range u.Components {
		if c == "" {
			continue
		}
		sb.WriteString(c)
		sb.WriteString("/")
	}
	version := u.Version
	if version <= 0 {
		version = 1
	}
	sb.WriteString(fmt.Sprintf("v%d/%s", version, u.PublicID))
	if u.Extension != "" {
		sb.WriteString("." + u.Extension)
	}
	if u.RawQuery != "" {
		sb.WriteString("?" + u.RawQuery)
	}
	return sb.String()
}

// WithExtension returns a copy with another file extension.
func (u DeliveryURL) WithExtension(ext string) DeliveryURL {
	u.Extension = ext
	return u
}

// ParseURL splits a delivery URL built by BuildURL back into its parts.
func ParseURL(raw string) (DeliveryURL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return DeliveryURL{}, errors.Wrap(err, "invalid delivery url")
	}

	marker := "/" + resourcePath + "/"
	path := parsed.EscapedPath()
	idx := strings.Index(path, marker)
	if idx < 0 {
		return DeliveryURL{}, errors.Errorf("not a video delivery url: %s", raw)
	}

	u := DeliveryURL{
		Base:     fmt.Sprintf("%s://%s%s", parsed.Scheme, parsed.Host, path[:idx]),
		RawQuery: parsed.RawQuery,
	}

	rest := strings.Split(path[idx+len(marker):], "/")
	versionAt := -1
	for i, seg := range rest {
		if versionSegment.MatchString(seg) {
			versionAt = i
			break
		}
	}
	if versionAt < 0 {
		return DeliveryURL{}, errors.Errorf("delivery url has no version segment: %s", raw)
	}

	u.Components = append([]string(nil), rest[:versionAt]...)
	u.Version, _ = strconv.ParseInt(strings.TrimPrefix(rest[versionAt], "v"), 10, 64)

	id := strings.Join(rest[versionAt+1:], "/")
	if dot := strings.LastIndex(id, "."); dot > strings.LastIndex(id, "/") {
		u.PublicID, u.Extension = id[:dot], id[dot+1:]
	} else {
		u.PublicID = id
	}
	if u.PublicID == "" {
		return DeliveryURL{}, errors.Errorf("delivery url has no public id: %s", raw)
	}
	return u, nil
}

func deliveryBase(a Asset) string {
	base := a.DeliveryBaseURL
	if base == "" {
		base = "https://res.cloudinary.com"
	}
	return strings.TrimSuffix(base, "/") + "/" + a.CloudName
}

func splitComponents(transformation string) []string {
	if transformation == "" {
		return nil
	}
	return strings.Split(transformation, "/")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
