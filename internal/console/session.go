package console

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/naming"
	"github.com/fpang/traffic-console/internal/objectstore"
	"github.com/fpang/traffic-console/internal/store"
	"github.com/fpang/traffic-console/internal/vectors"
)

// SaveVectorsRequest carries the drawn shapes and their direction labels.
type SaveVectorsRequest struct {
	SessionID string
	// InputKey defaults to the session's selected video.
	InputKey string
	Shapes   []vectors.LineShape
	Labels   []string
}

// VectorsResult is a stored vectors file.
type VectorsResult struct {
	InputKey string            `json:"inputKey"`
	Key      string            `json:"key"`
	Text     string            `json:"text"`
	Vectors  vectors.VectorSet `json:"vectors"`
}

// ValidSessionID reports whether id is a UUID.
func ValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewSession creates and stores an empty session context.
func (s *Service) NewSession(ctx context.Context, client string) (*store.Session, error) {
	if s.deps.Sessions == nil {
		return nil, fmt.Errorf("%w: sessions are not configured", ErrInvalid)
	}
	session := &store.Session{ID: uuid.NewString(), Client: client}
	if err := s.deps.Sessions.PutSession(ctx, session); err != nil {
		return nil, err
	}
	log.Info().Str("sessionId", session.ID).Str("client", client).Msg("Session created")
	return session, nil
}

// GetSession loads a session context.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: sessionId must be a UUID", ErrInvalid)
	}
	if s.deps.Sessions == nil {
		return nil, fmt.Errorf("%w: sessions are not configured", ErrInvalid)
	}
	session, err := s.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// SelectVideo sets the session's selected video after confirming it exists.
// Drawing state from a different video is cleared.
func (s *Service) SelectVideo(ctx context.Context, sessionID, key string) (*store.Session, error) {
	if _, err := s.confirmObject(ctx, key); err != nil {
		return nil, err
	}
	if err := s.selectVideo(ctx, sessionID, "", key); err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Service) selectVideo(ctx context.Context, sessionID, client, key string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.SelectedVideo != key {
		session.Shapes = nil
		session.Labels = nil
		session.VectorsKey = ""
	}
	session.SelectedVideo = key
	if client != "" {
		session.Client = client
	}
	return s.deps.Sessions.PutSession(ctx, session)
}

// SaveVectors labels the drawn shapes, writes the vectors file next to the
// submission, and stores the drawing on the session.
func (s *Service) SaveVectors(ctx context.Context, req SaveVectorsRequest) (*VectorsResult, error) {
	var session *store.Session
	if req.SessionID != "" {
		var err error
		if session, err = s.GetSession(ctx, req.SessionID); err != nil {
			return nil, err
		}
		if req.InputKey == "" {
			req.InputKey = session.SelectedVideo
		}
	}
	if req.InputKey == "" {
		return nil, fmt.Errorf("%w: no video selected", ErrInvalid)
	}

	set, err := vectors.Label(vectors.LinesToVectors(req.Shapes), req.Labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	key := naming.VectorsKey(req.InputKey)
	text := set.Text()
	if err := s.deps.Objects.PutText(ctx, s.opts.UnprocessedBucket, key, text); err != nil {
		return nil, fmt.Errorf("write vectors %s: %w", key, err)
	}

	if session != nil {
		session.SelectedVideo = req.InputKey
		session.Shapes = req.Shapes
		session.Labels = req.Labels
		session.VectorsKey = key
		if err := s.deps.Sessions.PutSession(ctx, session); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("inputKey", req.InputKey).
		Str("key", key).
		Int("vectors", len(set)).
		Msg("Direction vectors saved")
	return &VectorsResult{InputKey: req.InputKey, Key: key, Text: text, Vectors: set}, nil
}

// GetVectors reads back the vectors file stored for an input. ok is false
// when none has been written.
func (s *Service) GetVectors(ctx context.Context, inputKey string) (*VectorsResult, bool, error) {
	key := naming.VectorsKey(inputKey)
	text, err := s.deps.Objects.GetText(ctx, s.opts.UnprocessedBucket, key)
	if err != nil {
		if objectstore.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read vectors %s: %w", key, err)
	}
	set, err := vectors.ParseText(text)
	if err != nil {
		return nil, false, fmt.Errorf("parse vectors %s: %w", key, err)
	}
	return &VectorsResult{InputKey: inputKey, Key: key, Text: text, Vectors: set}, true, nil
}
