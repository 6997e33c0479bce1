package editor

import "github.com/ZacxDev/video-editor/internal/reconcile"

// SessionPlayer is the server side mirror of the browser's video element.
// The reconciler drives it; the browser reads it back and reports its
// playhead through UpdatePlayback.
type SessionPlayer struct {
	src    string
	time   float64
	paused bool
	style  reconcile.Style
	loads  int
}

// PlayerView is what the browser must mirror.
type PlayerView struct {
	Source      string          `json:"source"`
	CurrentTime float64         `json:"current_time"`
	Paused      bool            `json:"paused"`
	Style       reconcile.Style `json:"style"`
	Loads       int             `json:"loads"`
}

func newSessionPlayer() *SessionPlayer {
	return &SessionPlayer{paused: true, style: reconcile.Style{Border: "none"}}
}

func (p *SessionPlayer) Source() string       { return p.src }
func (p *SessionPlayer) CurrentTime() float64 { return p.time }
func (p *SessionPlayer) Paused() bool         { return p.paused }
func (p *SessionPlayer) Seek(t float64)       { p.time = t }
func (p *SessionPlayer) Pause()               { p.paused = true }

func (p *SessionPlayer) Play() error {
	p.paused = false
	return nil
}

func (p *SessionPlayer) Load(src string) error {
	p.src = src
	p.time = 0
	p.loads++
	return nil
}

func (p *SessionPlayer) ApplyStyle(s reconcile.Style) {
	p.style = s
}

func (p *SessionPlayer) view() PlayerView {
	return PlayerView{
		Source:      p.src,
		CurrentTime: p.time,
		Paused:      p.paused,
		Style:       p.style,
		Loads:       p.loads,
	}
}
