package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsZeroState(t *testing.T) {
	assert.NoError(t, State{}.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	s := State{
		Border:  Border{Width: 5, Color: "red"},
		Crop:    Crop{Enabled: true, Width: 0, Height: 10},
		Effects: Effects{Brightness: -100, Blur: 5000},
		Trim:    Trim{Start: 5, End: 3},
		Text:    Text{Content: "x", Gravity: "middle"},
	}

	err := s.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrInvalidTransformation, errors.Cause(err))
	for _, fragment := range []string{
		"border color",
		"crop size",
		"brightness -100",
		"blur 5000",
		"trim end 3 must be after start 5",
		"unknown text gravity",
	} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestValidateIgnoresDisabledSections(t *testing.T) {
	s := State{
		Border: Border{Width: 0, Color: "not-a-color"},
		Crop:   Crop{Enabled: false, Width: -1},
		Text:   Text{Content: "", Gravity: "nowhere"},
	}
	assert.NoError(t, s.Validate())
}

func TestOnlyBorderDiffers(t *testing.T) {
	base := State{Trim: Trim{Start: 1}}

	bordered := base
	bordered.Border = Border{Width: 3, Color: "ffffff"}
	assert.True(t, base.OnlyBorderDiffers(bordered))

	rotated := bordered
	rotated.Rotate.Angle = 90
	assert.False(t, base.OnlyBorderDiffers(rotated))

	assert.False(t, base.OnlyBorderDiffers(base))
	assert.True(t, base.Equal(base))
}

func TestLoadState(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "edit.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
border:
  width: 2
  color: "#123456"
trim:
  start: 1.5
text:
  content: Launch day
  bold: true
`), 0o644))

	s, err := LoadState(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Border.Width)
	assert.Equal(t, 1.5, s.Trim.Start)
	assert.Equal(t, "Launch day", s.Text.Content)
	assert.True(t, s.Text.Bold)

	jsonPath := filepath.Join(dir, "edit.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"rotate":{"angle":180},"effects":{"contrast":15}}`), 0o644))
	s, err = LoadState(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 180, s.Rotate.Angle)
	assert.Equal(t, 15, s.Effects.Contrast)

	_, err = LoadState(filepath.Join(dir, "edit.toml"))
	assert.Error(t, err)
}
