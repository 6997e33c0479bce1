package reconcile

import (
	"fmt"
	"strings"

	"github.com/ZacxDev/video-editor/internal/transform"
)

// Style is the presentational state of the player element.
type Style struct {
	Border string `json:"border"`
}

// StyleFor renders a border as a CSS border shorthand.
func StyleFor(b transform.Border) Style {
	if b.Width <= 0 {
		return Style{Border: "none"}
	}
	color := strings.ToLower(strings.TrimPrefix(b.Color, "#"))
	if color == "" {
		color = "000000"
	}
	return Style{Border: fmt.Sprintf("%dpx solid #%s", b.Width, color)}
}
