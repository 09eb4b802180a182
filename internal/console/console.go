// Package console composes the naming, vector, object store, launcher,
// reconciler, store, and notification packages into the operations the
// browser console and the operator CLI call.
//
// Every operation takes an explicit session ID instead of relying on
// process-wide UI state. Sessions and the job ledger are optional: without
// a table the console still uploads, submits, and reports status.
package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/traffic-console/internal/launcher"
	"github.com/fpang/traffic-console/internal/notify"
	"github.com/fpang/traffic-console/internal/objectstore"
	"github.com/fpang/traffic-console/internal/reconcile"
	"github.com/fpang/traffic-console/internal/store"
)

// DefaultUploadURLTTL bounds presigned upload URLs when Options leaves it unset.
const DefaultUploadURLTTL = 15 * time.Minute

// ErrInvalid marks caller mistakes. Handlers map it to 400.
var ErrInvalid = errors.New("invalid request")

// ErrSessionNotFound is returned when a session ID has no stored context.
var ErrSessionNotFound = errors.New("session not found")

// ErrBrowserUpload is returned when an S3 event names an object the browser
// uploaded and confirms on its own.
var ErrBrowserUpload = errors.New("upload is confirmed by the browser")

// UploadTransportError reports an upload that cannot be confirmed in the
// object store. No job is ever launched for such an input.
type UploadTransportError struct {
	Key string
	Err error
}

func (e *UploadTransportError) Error() string {
	return fmt.Sprintf("upload %s not confirmed: %v", e.Key, e.Err)
}

func (e *UploadTransportError) Unwrap() error { return e.Err }

// Objects is the object store surface the console uses.
// *objectstore.Client implements it.
type Objects interface {
	List(ctx context.Context, bucket, prefix string) ([]objectstore.Object, error)
	Head(ctx context.Context, bucket, key string) (objectstore.Object, error)
	PutText(ctx context.Context, bucket, key, body string) error
	GetText(ctx context.Context, bucket, key string) (string, error)
	PresignPut(ctx context.Context, bucket, key, contentType string, metadata map[string]string, ttl time.Duration) (string, error)
}

// Launcher submits processing jobs. *launcher.Launcher implements it.
type Launcher interface {
	Submit(ctx context.Context, req launcher.SubmitRequest) (*launcher.JobHandle, error)
}

// StatusSource builds the status table. *reconcile.Reconciler implements it.
type StatusSource interface {
	Refresh(ctx context.Context, client string) *reconcile.Report
}

// Deps are the collaborators of a Service. Sessions, Ledger, and Notifier
// may be nil.
type Deps struct {
	Objects  Objects
	Launcher Launcher
	Status   StatusSource
	Sessions store.SessionStore
	Ledger   store.Ledger
	Notifier notify.Sink
}

// Options configure a Service.
type Options struct {
	UnprocessedBucket string
	UploadURLTTL      time.Duration
	// DefaultClient attributes submissions that name no client.
	DefaultClient string
}

// Service implements the console operations.
type Service struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a Service.
func New(deps Deps, opts Options) *Service {
	if opts.UploadURLTTL <= 0 {
		opts.UploadURLTTL = DefaultUploadURLTTL
	}
	return &Service{deps: deps, opts: opts, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Status returns the reconciled status report, optionally filtered to one
// client. It never fails; degraded sources are listed on the report.
func (s *Service) Status(ctx context.Context, client string) *reconcile.Report {
	return s.deps.Status.Refresh(ctx, client)
}

// Jobs returns the ledger entries for a client.
func (s *Service) Jobs(ctx context.Context, client string) ([]store.JobRecord, error) {
	if s.deps.Ledger == nil {
		return nil, fmt.Errorf("%w: job ledger is not configured", ErrInvalid)
	}
	return s.deps.Ledger.ListJobs(ctx, s.clientOrDefault(client))
}

func (s *Service) clientOrDefault(client string) string {
	if client != "" {
		return client
	}
	if s.opts.DefaultClient != "" {
		return s.opts.DefaultClient
	}
	return store.UnassignedClient
}

func (s *Service) notify(ctx context.Context, e notify.Event) {
	if s.deps.Notifier == nil {
		return
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.deps.Notifier.Notify(ctx, e)
}
