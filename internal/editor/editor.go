package editor

import (
	"context"
	"sync"
	"time"

	"github.com/ZacxDev/video-editor/internal/cloud"
	"github.com/ZacxDev/video-editor/internal/format"
	"github.com/ZacxDev/video-editor/internal/reconcile"
	"github.com/ZacxDev/video-editor/internal/transform"
	"github.com/ZacxDev/video-editor/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// DefaultDownloadFormat is used when a download names no format.
const DefaultDownloadFormat = "mp4"

// Remote is the part of the media API client sessions need.
type Remote interface {
	Upload(ctx context.Context, req cloud.UploadRequest) (*transform.Asset, error)
	Destroy(ctx context.Context, publicID string) error
}

// Session is one asset open in the editor.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	player     *SessionPlayer
	reconciler *reconcile.Reconciler
}

// View is a snapshot of a session.
type View struct {
	ID          string          `json:"id"`
	Asset       transform.Asset `json:"asset"`
	State       transform.State `json:"state"`
	Player      PlayerView      `json:"player"`
	PreviewURL  string          `json:"preview_url"`
	DownloadURL string          `json:"download_url"`
	OriginalURL string          `json:"original_url"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Recovery is the outcome of a reported playback failure.
type Recovery struct {
	Kind   types.FailureKind `json:"kind"`
	URL    string            `json:"url"`
	Player PlayerView        `json:"player"`
}

// Service keeps editing sessions in memory.
type Service struct {
	remote    Remote
	recoverer reconcile.Recoverer
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates a session service
func NewService(remote Remote, recoverer reconcile.Recoverer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		remote:    remote,
		recoverer: recoverer,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Upload sends a file to the media API and opens a session for it.
func (s *Service) Upload(ctx context.Context, req cloud.UploadRequest) (*View, error) {
	if s.remote == nil {
		return nil, errors.New("no media api client configured")
	}
	asset, err := s.remote.Upload(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Create(*asset)
}

// Create opens a session for an already uploaded asset.
func (s *Service) Create(asset transform.Asset) (*View, error) {
	if asset.CloudName == "" || asset.PublicID == "" {
		return nil, errors.New("asset needs a cloud name and public id")
	}

	player := newSessionPlayer()
	sess := &Session{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		player:     player,
		reconciler: reconcile.New(player, asset, s.recoverer, s.logger),
	}
	if err := sess.reconciler.Start(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("Opened session",
		zap.String("session", sess.ID),
		zap.String("public_id", asset.PublicID))

	return sess.snapshot(), nil
}

// Get returns a snapshot of a session.
func (s *Service) Get(id string) (*View, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot(), nil
}

// Apply reconciles a session with a new transformation state.
func (s *Service) Apply(id string, state transform.State) (reconcile.Decision, *View, error) {
	sess, err := s.session(id)
	if err != nil {
		return reconcile.Decision{}, nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	d, err := sess.reconciler.Apply(state)
	if err != nil {
		return reconcile.Decision{}, nil, err
	}
	return d, sess.snapshot(), nil
}

// UpdatePlayback records the playhead reported by the browser so the next
// reload resumes from it.
func (s *Service) UpdatePlayback(id string, currentTime float64, paused bool) (*View, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	if currentTime < 0 {
		return nil, errors.Errorf("current time %v must not be negative", currentTime)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.player.time = currentTime
	sess.player.paused = paused
	return sess.snapshot(), nil
}

// ReportError walks the fallback list for a failure the browser observed.
// The session is locked while fallbacks are probed.
func (s *Service) ReportError(ctx context.Context, id string, kind types.FailureKind) (*Recovery, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	url, err := sess.reconciler.HandleError(ctx, kind)
	if err != nil {
		return nil, err
	}
	return &Recovery{Kind: kind, URL: url, Player: sess.player.view()}, nil
}

// DownloadURL returns the export URL of a session in the given format.
func (s *Service) DownloadURL(id, formatName string) (string, error) {
	if formatName == "" {
		formatName = DefaultDownloadFormat
	}
	if _, err := format.Get(formatName); err != nil {
		return "", err
	}

	sess, err := s.session(id)
	if err != nil {
		return "", err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	r := sess.reconciler
	return transform.BuildURL(r.Asset(), r.State(), transform.DownloadOptions(formatName)), nil
}

// Delete destroys the remote asset and closes the session. An asset that
// is already gone remotely still closes the session.
func (s *Service) Delete(ctx context.Context, id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}

	publicID := sess.reconciler.Asset().PublicID
	if s.remote != nil {
		if err := s.remote.Destroy(ctx, publicID); err != nil && errors.Cause(err) != cloud.ErrNotFound {
			return err
		}
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	s.logger.Info("Closed session",
		zap.String("session", id),
		zap.String("public_id", publicID))
	return nil
}

// Len returns the number of open sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Service) session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	return sess, nil
}

// snapshot must be called with sess.mu held or before sess is shared.
func (sess *Session) snapshot() *View {
	r := sess.reconciler
	asset, state := r.Asset(), r.State()
	return &View{
		ID:          sess.ID,
		Asset:       asset,
		State:       state,
		Player:      sess.player.view(),
		PreviewURL:  r.PreviewURL(),
		DownloadURL: transform.BuildURL(asset, state, transform.DownloadOptions(DefaultDownloadFormat)),
		OriginalURL: transform.OriginalURL(asset),
		CreatedAt:   sess.CreatedAt,
	}
}
