package console

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/naming"
	"github.com/fpang/traffic-console/internal/notify"
	"github.com/fpang/traffic-console/internal/objectstore"
	"github.com/fpang/traffic-console/internal/store"
)

// safeFilenameRegex allows alphanumeric, dots, hyphens, underscores, spaces, and parentheses.
var safeFilenameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ ()-]{0,254}$`)

// allowedContentTypes maps each accepted video extension to the content
// types a browser may send for it.
var allowedContentTypes = map[string][]string{
	".mp4":  {"video/mp4"},
	".h264": {"video/h264", "application/octet-stream"},
}

// VideoExtensions are the extensions ListVideos returns by default.
var VideoExtensions = []string{".mp4", ".h264"}

// Upload sources recorded on submissions.
const (
	SourceBrowser = "browser"
	SourceS3Event = "s3-event"
)

// SourceMetadataKey is the object metadata entry stamped on uploads made
// through a presigned URL. The browser sends it as x-amz-meta-source.
const SourceMetadataKey = "source"

// UploadTicket is a presigned PUT for one upload. Headers must be sent
// verbatim with the PUT; they are part of the signature.
type UploadTicket struct {
	Key         string            `json:"key"`
	UploadURL   string            `json:"uploadUrl"`
	ContentType string            `json:"contentType"`
	Headers     map[string]string `json:"headers"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// ConfirmRequest identifies an upload to confirm.
type ConfirmRequest struct {
	Key       string
	Client    string
	SessionID string
	// Source is SourceBrowser or SourceS3Event.
	Source string
}

// SanitizeFilename strips directory components and validates the result.
func SanitizeFilename(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || base == "." || base == "/" {
		return "", fmt.Errorf("%w: filename is required", ErrInvalid)
	}
	if strings.Contains(base, "..") || !safeFilenameRegex.MatchString(base) {
		return "", fmt.Errorf("%w: filename contains invalid characters", ErrInvalid)
	}
	return base, nil
}

// ResolveContentType checks contentType against the allowlist for the
// file's extension. An empty contentType takes the extension's default.
func ResolveContentType(filename, contentType string) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	allowed, ok := allowedContentTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrInvalid, ext)
	}
	if contentType == "" {
		return allowed[0], nil
	}
	for _, ct := range allowed {
		if strings.EqualFold(ct, contentType) {
			return ct, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported content type %q for %s", ErrInvalid, contentType, ext)
}

// PresignUpload returns a presigned PUT URL for client_upload/{filename}.
func (s *Service) PresignUpload(ctx context.Context, filename, contentType string) (*UploadTicket, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, err
	}
	ct, err := ResolveContentType(name, contentType)
	if err != nil {
		return nil, err
	}

	key := naming.UploadKey(name)
	meta := map[string]string{SourceMetadataKey: SourceBrowser}
	url, err := s.deps.Objects.PresignPut(ctx, s.opts.UnprocessedBucket, key, ct, meta, s.opts.UploadURLTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload %s: %w", key, err)
	}
	log.Debug().Str("key", key).Str("contentType", ct).Msg("Upload URL issued")
	return &UploadTicket{
		Key:         key,
		UploadURL:   url,
		ContentType: ct,
		Headers:     map[string]string{"Content-Type": ct, "x-amz-meta-" + SourceMetadataKey: SourceBrowser},
		ExpiresAt:   s.now().Add(s.opts.UploadURLTTL),
	}, nil
}

// ConfirmUpload verifies the uploaded object exists, records it in the
// ledger, selects it on the session, and announces it.
//
// Objects stamped as browser uploads are confirmed by the browser itself;
// a SourceS3Event request for one returns ErrBrowserUpload and records
// nothing.
func (s *Service) ConfirmUpload(ctx context.Context, req ConfirmRequest) (*store.Submission, error) {
	if !strings.HasPrefix(req.Key, naming.UploadPrefix) || strings.Contains(req.Key, "..") {
		return nil, fmt.Errorf("%w: key must be under %s", ErrInvalid, naming.UploadPrefix)
	}

	obj, err := s.confirmObject(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if req.Source == SourceS3Event && obj.Metadata[SourceMetadataKey] == SourceBrowser {
		return nil, ErrBrowserUpload
	}

	sub := &store.Submission{
		Client:     s.clientOrDefault(req.Client),
		InputKey:   req.Key,
		Digest:     string(naming.Digest(req.Key)),
		Size:       obj.Size,
		Source:     req.Source,
		UploadedAt: obj.LastModified.Unix(),
	}
	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.PutSubmission(ctx, sub); err != nil {
			return nil, fmt.Errorf("record upload %s: %w", req.Key, err)
		}
	}

	if req.SessionID != "" {
		if err := s.selectVideo(ctx, req.SessionID, req.Client, req.Key); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("key", req.Key).
		Str("client", sub.Client).
		Int64("size", obj.Size).
		Str("source", req.Source).
		Msg("Upload confirmed")

	s.notify(ctx, notify.Event{
		Kind:      notify.KindUploadCompleted,
		Client:    sub.Client,
		SessionID: req.SessionID,
		InputKey:  req.Key,
	})
	return sub, nil
}

// confirmObject heads key in the unprocessed bucket. A missing or empty
// object is an UploadTransportError.
func (s *Service) confirmObject(ctx context.Context, key string) (objectstore.Object, error) {
	obj, err := s.deps.Objects.Head(ctx, s.opts.UnprocessedBucket, key)
	if err != nil {
		if objectstore.IsNotFound(err) {
			return objectstore.Object{}, &UploadTransportError{Key: key, Err: err}
		}
		return objectstore.Object{}, fmt.Errorf("head %s: %w", key, err)
	}
	if obj.Size == 0 {
		return objectstore.Object{}, &UploadTransportError{Key: key, Err: fmt.Errorf("object is empty")}
	}
	return obj, nil
}

// ListVideos lists uploads whose extension is in exts (VideoExtensions when
// empty), newest first.
func (s *Service) ListVideos(ctx context.Context, exts ...string) ([]objectstore.Object, error) {
	if len(exts) == 0 {
		exts = VideoExtensions
	}
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		want[e] = true
	}

	objects, err := s.deps.Objects.List(ctx, s.opts.UnprocessedBucket, naming.UploadPrefix)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	videos := make([]objectstore.Object, 0, len(objects))
	for _, o := range objects {
		if want[strings.ToLower(path.Ext(o.Key))] {
			videos = append(videos, o)
		}
	}
	sort.SliceStable(videos, func(i, j int) bool {
		if !videos[i].LastModified.Equal(videos[j].LastModified) {
			return videos[i].LastModified.After(videos[j].LastModified)
		}
		return videos[i].Key < videos[j].Key
	})
	return videos, nil
}
