package console

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/launcher"
	"github.com/fpang/traffic-console/internal/naming"
	"github.com/fpang/traffic-console/internal/notify"
	"github.com/fpang/traffic-console/internal/objectstore"
	"github.com/fpang/traffic-console/internal/store"
)

// SubmitRequest asks for one processing job.
type SubmitRequest struct {
	SessionID string
	// InputKey defaults to the session's selected video.
	InputKey string
	Client   string
	// VectorsKey overrides vectors discovery. When empty the session's
	// vectors are used, then a vectors file stored next to the submission.
	VectorsKey string
	Env        map[string]string
}

// Submit confirms the upload, launches exactly one job, and records it.
//
// Calling Submit twice for the same input creates two jobs. The session
// records the last job so a UI can disable its submit control.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*launcher.JobHandle, error) {
	var session *store.Session
	if req.SessionID != "" {
		var err error
		if session, err = s.GetSession(ctx, req.SessionID); err != nil {
			return nil, err
		}
		if req.InputKey == "" {
			req.InputKey = session.SelectedVideo
		}
		if req.Client == "" {
			req.Client = session.Client
		}
	}
	if req.InputKey == "" {
		return nil, fmt.Errorf("%w: no video selected", ErrInvalid)
	}

	if _, err := s.confirmObject(ctx, req.InputKey); err != nil {
		return nil, err
	}
	if err := s.checkSoleInput(ctx, req.InputKey); err != nil {
		return nil, err
	}

	vectorsKey, err := s.resolveVectors(ctx, req, session)
	if err != nil {
		return nil, err
	}

	client := s.clientOrDefault(req.Client)
	handle, err := s.deps.Launcher.Submit(ctx, launcher.SubmitRequest{
		InputKey:   req.InputKey,
		Client:     client,
		VectorsKey: vectorsKey,
		Env:        req.Env,
	})
	if err != nil {
		return nil, err
	}

	// The job exists from here on; bookkeeping failures are logged only.
	if s.deps.Ledger != nil {
		rec := &store.JobRecord{
			Client:       client,
			JobName:      handle.JobName,
			JobARN:       handle.JobARN,
			InputKey:     handle.InputKey,
			Digest:       string(handle.Digest),
			InstanceType: handle.InstanceType,
			Version:      handle.Version,
			OutputPrefix: handle.OutputPrefix,
			VectorsKey:   handle.VectorsKey,
			SessionID:    req.SessionID,
			CreatedAt:    handle.CreatedAt.Unix(),
		}
		if err := s.deps.Ledger.PutJob(ctx, rec); err != nil {
			log.Error().Err(err).Str("jobName", handle.JobName).Msg("Failed to record job in ledger")
		}
	}
	if session != nil {
		if err := s.deps.Sessions.RecordSubmission(ctx, session.ID, handle.JobName, handle.CreatedAt); err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Str("jobName", handle.JobName).Msg("Failed to record submission on session")
		}
	}

	s.notify(ctx, notify.Event{
		Kind:         notify.KindJobSubmitted,
		Client:       client,
		SessionID:    req.SessionID,
		InputKey:     handle.InputKey,
		JobName:      handle.JobName,
		InstanceType: handle.InstanceType,
		At:           handle.CreatedAt,
	})
	return handle, nil
}

// checkSoleInput rejects an input key that is also a prefix of other
// uploads. The job downloads its input by S3 prefix and would copy them all.
func (s *Service) checkSoleInput(ctx context.Context, key string) error {
	objects, err := s.deps.Objects.List(ctx, s.opts.UnprocessedBucket, key)
	if err != nil {
		return fmt.Errorf("list %s: %w", key, err)
	}
	for _, o := range objects {
		if o.Key != key {
			return fmt.Errorf("%w: input %s is a prefix of %s, rename one of them", ErrInvalid, key, o.Key)
		}
	}
	return nil
}

func (s *Service) resolveVectors(ctx context.Context, req SubmitRequest, session *store.Session) (string, error) {
	if req.VectorsKey != "" {
		return req.VectorsKey, nil
	}
	if session != nil && session.SelectedVideo == req.InputKey && session.VectorsKey != "" {
		return session.VectorsKey, nil
	}
	key := naming.VectorsKey(req.InputKey)
	if _, err := s.deps.Objects.Head(ctx, s.opts.UnprocessedBucket, key); err != nil {
		if objectstore.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("check vectors %s: %w", key, err)
	}
	return key, nil
}
