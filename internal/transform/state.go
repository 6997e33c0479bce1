package transform

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidTransformation is the cause of every validation failure.
var ErrInvalidTransformation = errors.New("invalid transformation")

// Text overlay defaults
const (
	DefaultFont      = "Arial"
	DefaultTextSize  = 40
	DefaultTextColor = "ffffff"
	DefaultGravity   = "south"
)

var (
	hexColor = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)
	fontName = regexp.MustCompile(`^[A-Za-z0-9 ]+$`)

	gravities = map[string]bool{
		"center": true, "north": true, "south": true, "east": true, "west": true,
		"north_east": true, "north_west": true, "south_east": true, "south_west": true,
		"auto": true,
	}
)

// Border is presentational in preview and baked in on download.
type Border struct {
	Width int    `json:"width" yaml:"width"`
	Color string `json:"color" yaml:"color"`
}

// Crop cuts a pixel rectangle out of the source.
type Crop struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	X       int    `json:"x" yaml:"x"`
	Y       int    `json:"y" yaml:"y"`
	Gravity string `json:"gravity,omitempty" yaml:"gravity,omitempty"`
}

// Rotate turns and mirrors the frame.
type Rotate struct {
	Angle          int  `json:"angle" yaml:"angle"`
	FlipHorizontal bool `json:"flip_horizontal" yaml:"flip_horizontal"`
	FlipVertical   bool `json:"flip_vertical" yaml:"flip_vertical"`
}

// Effects holds colour and playback adjustments. Zero leaves a setting
// untouched.
type Effects struct {
	Brightness int  `json:"brightness" yaml:"brightness"`
	Contrast   int  `json:"contrast" yaml:"contrast"`
	Saturation int  `json:"saturation" yaml:"saturation"`
	Gamma      int  `json:"gamma" yaml:"gamma"`
	Blur       int  `json:"blur" yaml:"blur"`
	Volume     int  `json:"volume" yaml:"volume"`
	Speed      int  `json:"speed" yaml:"speed"`
	FadeIn     int  `json:"fade_in" yaml:"fade_in"`   // milliseconds
	FadeOut    int  `json:"fade_out" yaml:"fade_out"` // milliseconds
	Reverse    bool `json:"reverse" yaml:"reverse"`
}

// Trim selects a window of the source in seconds. End 0 plays to the end.
type Trim struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Text is a caption burned into the delivered video.
type Text struct {
	Content string  `json:"content" yaml:"content"`
	Font    string  `json:"font,omitempty" yaml:"font,omitempty"`
	Size    int     `json:"size,omitempty" yaml:"size,omitempty"`
	Color   string  `json:"color,omitempty" yaml:"color,omitempty"`
	Bold    bool    `json:"bold,omitempty" yaml:"bold,omitempty"`
	Gravity string  `json:"gravity,omitempty" yaml:"gravity,omitempty"`
	X       int     `json:"x,omitempty" yaml:"x,omitempty"`
	Y       int     `json:"y,omitempty" yaml:"y,omitempty"`
	Start   float64 `json:"start,omitempty" yaml:"start,omitempty"`
	End     float64 `json:"end,omitempty" yaml:"end,omitempty"`
}

// State is every edit parameter the user can choose.
type State struct {
	Border  Border  `json:"border" yaml:"border"`
	Crop    Crop    `json:"crop" yaml:"crop"`
	Rotate  Rotate  `json:"rotate" yaml:"rotate"`
	Effects Effects `json:"effects" yaml:"effects"`
	Trim    Trim    `json:"trim" yaml:"trim"`
	Text    Text    `json:"text" yaml:"text"`
}

// Equal reports whether two states produce the same output.
func (s State) Equal(other State) bool {
	return s == other
}

// OnlyBorderDiffers reports whether the states differ and every difference
// is in the border, which the player can restyle without a reload.
func (s State) OnlyBorderDiffers(other State) bool {
	if s == other {
		return false
	}
	s.Border = other.Border
	return s == other
}

// Validate checks every field range and returns all problems at once.
func (s State) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(s.Border.Width >= 0 && s.Border.Width <= 100, "border width %d out of range 0..100", s.Border.Width)
	if s.Border.Width > 0 {
		check(hexColor.MatchString(s.Border.Color), "border color %q is not a hex color", s.Border.Color)
	}

	if s.Crop.Enabled {
		check(s.Crop.Width > 0 && s.Crop.Height > 0, "crop size %dx%d must be positive", s.Crop.Width, s.Crop.Height)
		check(s.Crop.X >= 0 && s.Crop.Y >= 0, "crop offset %d,%d must not be negative", s.Crop.X, s.Crop.Y)
		check(s.Crop.Gravity == "" || gravities[s.Crop.Gravity], "unknown crop gravity %q", s.Crop.Gravity)
	}

	e := s.Effects
	check(inRange(e.Brightness, -99, 100), "brightness %d out of range -99..100", e.Brightness)
	check(inRange(e.Contrast, -100, 100), "contrast %d out of range -100..100", e.Contrast)
	check(inRange(e.Saturation, -100, 100), "saturation %d out of range -100..100", e.Saturation)
	check(inRange(e.Gamma, -50, 150), "gamma %d out of range -50..150", e.Gamma)
	check(inRange(e.Blur, 0, 2000), "blur %d out of range 0..2000", e.Blur)
	check(inRange(e.Volume, -100, 400), "volume %d out of range -100..400", e.Volume)
	check(inRange(e.Speed, -50, 100), "speed %d out of range -50..100", e.Speed)
	check(e.FadeIn >= 0 && e.FadeOut >= 0, "fade durations must not be negative")

	check(s.Trim.Start >= 0, "trim start %v must not be negative", s.Trim.Start)
	check(s.Trim.End >= 0, "trim end %v must not be negative", s.Trim.End)
	if s.Trim.End > 0 {
		check(s.Trim.End > s.Trim.Start, "trim end %v must be after start %v", s.Trim.End, s.Trim.Start)
	}

	if s.Text.Content != "" {
		t := s.Text
		check(t.Font == "" || fontName.MatchString(t.Font), "font %q contains unsupported characters", t.Font)
		check(inRange(t.Size, 0, 500), "text size %d out of range 0..500", t.Size)
		check(t.Color == "" || hexColor.MatchString(t.Color), "text color %q is not a hex color", t.Color)
		check(t.Gravity == "" || gravities[t.Gravity], "unknown text gravity %q", t.Gravity)
		check(t.Start >= 0 && t.End >= 0, "text timing must not be negative")
		if t.End > 0 {
			check(t.End > t.Start, "text end %v must be after start %v", t.End, t.Start)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Wrap(ErrInvalidTransformation, strings.Join(problems, "; "))
}

// LoadState reads a state from a JSON or YAML file, picked by extension.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, errors.Wrap(err, "failed to read state file")
	}

	var s State
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &s)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	default:
		return State{}, errors.Errorf("unsupported state file type: %s (supported: json, yaml)", filepath.Ext(path))
	}
	if err != nil {
		return State{}, errors.Wrapf(err, "failed to parse state file %s", path)
	}
	return s, nil
}

func inRange(v, lo, hi int) bool {
	return v >= lo && v <= hi
}

func normalizeHex(c string) string {
	return strings.ToLower(strings.TrimPrefix(c, "#"))
}
