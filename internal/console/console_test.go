package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fpang/traffic-console/internal/launcher"
	"github.com/fpang/traffic-console/internal/naming"
	"github.com/fpang/traffic-console/internal/notify"
	"github.com/fpang/traffic-console/internal/objectstore"
	"github.com/fpang/traffic-console/internal/reconcile"
	"github.com/fpang/traffic-console/internal/store"
	"github.com/fpang/traffic-console/internal/vectors"
)

const bucket = "unprocessed"

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// --- fakes ---

type fakeObjects struct {
	objects   map[string]objectstore.Object
	texts     map[string]string
	headErr   error
	presigned []string
	putMeta   map[string]string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string]objectstore.Object{}, texts: map[string]string{}}
}

func (f *fakeObjects) add(key string, size int64, at time.Time) {
	f.objects[key] = objectstore.Object{Key: key, Size: size, LastModified: at}
}

func (f *fakeObjects) List(_ context.Context, _, prefix string) ([]objectstore.Object, error) {
	var out []objectstore.Object
	for k, o := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeObjects) Head(_ context.Context, b, key string) (objectstore.Object, error) {
	if f.headErr != nil {
		return objectstore.Object{}, f.headErr
	}
	o, ok := f.objects[key]
	if !ok {
		return objectstore.Object{}, fmt.Errorf("%s/%s: %w", b, key, objectstore.ErrNotFound)
	}
	return o, nil
}

func (f *fakeObjects) PutText(_ context.Context, _, key, body string) error {
	f.texts[key] = body
	f.objects[key] = objectstore.Object{Key: key, Size: int64(len(body)), LastModified: fixedNow}
	return nil
}

func (f *fakeObjects) GetText(_ context.Context, b, key string) (string, error) {
	t, ok := f.texts[key]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", b, key, objectstore.ErrNotFound)
	}
	return t, nil
}

func (f *fakeObjects) PresignPut(_ context.Context, b, key, contentType string, metadata map[string]string, ttl time.Duration) (string, error) {
	f.presigned = append(f.presigned, key)
	f.putMeta = metadata
	return fmt.Sprintf("https://%s.example/%s?ct=%s&ttl=%d", b, key, contentType, int(ttl.Seconds())), nil
}

type fakeLauncher struct {
	calls []launcher.SubmitRequest
	err   error
}

func (f *fakeLauncher) Submit(_ context.Context, req launcher.SubmitRequest) (*launcher.JobHandle, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &launcher.JobHandle{
		JobName:      naming.DeriveJobNameAt(req.InputKey, "1.0.58", fixedNow),
		InstanceType: "ml.c5.xlarge",
		InputKey:     req.InputKey,
		Digest:       naming.Digest(req.InputKey),
		OutputPrefix: naming.OutputPrefixFor(req.InputKey, fixedNow),
		VectorsKey:   req.VectorsKey,
		Version:      "1.0.58",
		CreatedAt:    fixedNow,
		Attempts:     1,
	}, nil
}

type fakeSessions struct {
	sessions  map[string]*store.Session
	submitted map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]*store.Session{}, submitted: map[string]string{}}
}

func (f *fakeSessions) PutSession(_ context.Context, s *store.Session) error {
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*store.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) RecordSubmission(_ context.Context, id, jobName string, at time.Time) error {
	f.submitted[id] = jobName
	if s, ok := f.sessions[id]; ok {
		s.LastJobName = jobName
		s.LastJobAt = at.Unix()
	}
	return nil
}

type fakeLedger struct {
	subs []*store.Submission
	jobs []*store.JobRecord
}

func (f *fakeLedger) PutSubmission(_ context.Context, s *store.Submission) error {
	f.subs = append(f.subs, s)
	return nil
}

func (f *fakeLedger) PutJob(_ context.Context, j *store.JobRecord) error {
	f.jobs = append(f.jobs, j)
	return nil
}

func (f *fakeLedger) ListJobs(_ context.Context, client string) ([]store.JobRecord, error) {
	var out []store.JobRecord
	for _, j := range f.jobs {
		if j.Client == client {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeLedger) JobNamesForClient(ctx context.Context, client string) (map[string]bool, error) {
	jobs, _ := f.ListJobs(ctx, client)
	names := map[string]bool{}
	for _, j := range jobs {
		names[j.JobName] = true
	}
	return names, nil
}

type fakeSink struct{ events []notify.Event }

func (f *fakeSink) Notify(_ context.Context, e notify.Event) { f.events = append(f.events, e) }

type fakeStatus struct{ clients []string }

func (f *fakeStatus) Refresh(_ context.Context, client string) *reconcile.Report {
	f.clients = append(f.clients, client)
	return &reconcile.Report{GeneratedAt: fixedNow}
}

type fixture struct {
	objects  *fakeObjects
	launcher *fakeLauncher
	sessions *fakeSessions
	ledger   *fakeLedger
	sink     *fakeSink
	status   *fakeStatus
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		objects:  newFakeObjects(),
		launcher: &fakeLauncher{},
		sessions: newFakeSessions(),
		ledger:   &fakeLedger{},
		sink:     &fakeSink{},
		status:   &fakeStatus{},
	}
	f.svc = New(Deps{
		Objects:  f.objects,
		Launcher: f.launcher,
		Status:   f.status,
		Sessions: f.sessions,
		Ledger:   f.ledger,
		Notifier: f.sink,
	}, Options{UnprocessedBucket: bucket}).WithClock(func() time.Time { return fixedNow })
	return f
}

// --- upload ---

func TestPresignUpload(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		wantKey     string
		wantCT      string
		wantErr     bool
	}{
		{"mp4", "video1.mp4", "video/mp4", "client_upload/video1.mp4", "video/mp4", false},
		{"mp4 default type", "video1.mp4", "", "client_upload/video1.mp4", "video/mp4", false},
		{"h264 octet stream", "cam 2.h264", "application/octet-stream", "client_upload/cam 2.h264", "application/octet-stream", false},
		{"directory stripped", "../../etc/video1.mp4", "video/mp4", "client_upload/video1.mp4", "video/mp4", false},
		{"unsupported extension", "clip.mov", "video/quicktime", "", "", true},
		{"mismatched type", "video1.mp4", "video/h264", "", "", true},
		{"empty", "", "video/mp4", "", "", true},
		{"bad characters", "vid$eo.mp4", "video/mp4", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ticket, err := f.svc.PresignUpload(context.Background(), tt.filename, tt.contentType)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				if len(f.objects.presigned) != 0 {
					t.Error("expected no presign call")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ticket.Key != tt.wantKey {
				t.Errorf("expected key %q, got %q", tt.wantKey, ticket.Key)
			}
			if ticket.ContentType != tt.wantCT {
				t.Errorf("expected content type %q, got %q", tt.wantCT, ticket.ContentType)
			}
			if !strings.Contains(ticket.UploadURL, "ttl=900") {
				t.Errorf("expected default 15m TTL in %s", ticket.UploadURL)
			}
			if !ticket.ExpiresAt.Equal(fixedNow.Add(15 * time.Minute)) {
				t.Errorf("unexpected expiry %v", ticket.ExpiresAt)
			}
			if f.objects.putMeta[SourceMetadataKey] != SourceBrowser {
				t.Errorf("expected browser source metadata, got %v", f.objects.putMeta)
			}
			if ticket.Headers["x-amz-meta-source"] != SourceBrowser || ticket.Headers["Content-Type"] != tt.wantCT {
				t.Errorf("unexpected upload headers %v", ticket.Headers)
			}
		})
	}
}

func TestConfirmUpload_Missing(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ConfirmUpload(context.Background(), ConfirmRequest{Key: "client_upload/video1.mp4"})

	var uerr *UploadTransportError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UploadTransportError, got %v", err)
	}
	if uerr.Key != "client_upload/video1.mp4" {
		t.Errorf("unexpected key %q", uerr.Key)
	}
	if len(f.ledger.subs) != 0 || len(f.sink.events) != 0 {
		t.Error("expected no ledger write or notification for a missing upload")
	}
}

func TestConfirmUpload_Empty(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 0, fixedNow)
	_, err := f.svc.ConfirmUpload(context.Background(), ConfirmRequest{Key: "client_upload/video1.mp4"})
	var uerr *UploadTransportError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UploadTransportError for empty object, got %v", err)
	}
}

func TestConfirmUpload_OtherHeadError(t *testing.T) {
	f := newFixture()
	f.objects.headErr = errors.New("access denied")
	_, err := f.svc.ConfirmUpload(context.Background(), ConfirmRequest{Key: "client_upload/video1.mp4"})
	var uerr *UploadTransportError
	if err == nil || errors.As(err, &uerr) {
		t.Fatalf("expected a plain error, got %v", err)
	}
}

func TestConfirmUpload_RejectsForeignKey(t *testing.T) {
	f := newFixture()
	for _, key := range []string{"outputs/x.mp4", "client_upload/../secret"} {
		if _, err := f.svc.ConfirmUpload(context.Background(), ConfirmRequest{Key: key}); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", key, err)
		}
	}
}

func TestConfirmUpload_RecordsAndNotifies(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 2048, fixedNow.Add(-time.Minute))
	session, err := f.svc.NewSession(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, err := f.svc.ConfirmUpload(context.Background(), ConfirmRequest{
		Key:       "client_upload/video1.mp4",
		Client:    "acme",
		SessionID: session.ID,
		Source:    "browser",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Client != "acme" || sub.Size != 2048 || sub.Digest != string(naming.Digest("video1")) {
		t.Errorf("unexpected submission %+v", sub)
	}
	if len(f.ledger.subs) != 1 {
		t.Fatalf("expected 1 ledger submission, got %d", len(f.ledger.subs))
	}
	if len(f.sink.events) != 1 || f.sink.events[0].Kind != notify.KindUploadCompleted {
		t.Errorf("expected one upload.completed event, got %+v", f.sink.events)
	}
	stored := f.sessions.sessions[session.ID]
	if stored.SelectedVideo != "client_upload/video1.mp4" || stored.Client != "acme" {
		t.Errorf("expected session to select the upload, got %+v", stored)
	}
}

func TestConfirmUpload_DefaultClient(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	sub, err := f.svc.ConfirmUpload(context.Background(), ConfirmRequest{Key: "client_upload/video1.mp4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Client != store.UnassignedClient {
		t.Errorf("expected %q, got %q", store.UnassignedClient, sub.Client)
	}
	if len(f.sink.events) != 1 || f.sink.events[0].Client != store.UnassignedClient {
		t.Errorf("expected event attributed to %q, got %+v", store.UnassignedClient, f.sink.events)
	}
}

func TestConfirmUpload_DefaultClientOption(t *testing.T) {
	f := newFixture()
	f.svc.opts.DefaultClient = "acme"
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	if _, err := f.svc.ConfirmUpload(context.Background(), ConfirmRequest{Key: "client_upload/video1.mp4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sink.events) != 1 || f.sink.events[0].Client != "acme" {
		t.Errorf("expected event attributed to acme, got %+v", f.sink.events)
	}
}

func TestConfirmUpload_S3EventSkipsBrowserUpload(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		meta     map[string]string
		wantSkip bool
	}{
		{"s3 event for browser upload", SourceS3Event, map[string]string{SourceMetadataKey: SourceBrowser}, true},
		{"s3 event for sftp upload", SourceS3Event, nil, false},
		{"browser confirms its own upload", SourceBrowser, map[string]string{SourceMetadataKey: SourceBrowser}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.objects.objects["client_upload/video1.mp4"] = objectstore.Object{
				Key: "client_upload/video1.mp4", Size: 10, LastModified: fixedNow, Metadata: tt.meta,
			}
			_, err := f.svc.ConfirmUpload(context.Background(), ConfirmRequest{Key: "client_upload/video1.mp4", Source: tt.source})
			if tt.wantSkip {
				if !errors.Is(err, ErrBrowserUpload) {
					t.Fatalf("expected ErrBrowserUpload, got %v", err)
				}
				if len(f.ledger.subs) != 0 || len(f.sink.events) != 0 {
					t.Error("expected no ledger write or notification")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(f.ledger.subs) != 1 || len(f.sink.events) != 1 {
				t.Errorf("expected one ledger write and one event, got %d and %d", len(f.ledger.subs), len(f.sink.events))
			}
		})
	}
}

func TestListVideos(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/old.mp4", 1, fixedNow.Add(-2*time.Hour))
	f.objects.add("client_upload/new.H264", 1, fixedNow)
	f.objects.add("client_upload/notes.txt", 1, fixedNow)
	f.objects.add("submissions/old/vectors.txt", 1, fixedNow)

	videos, err := f.svc.ListVideos(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
	if videos[0].Key != "client_upload/new.H264" || videos[1].Key != "client_upload/old.mp4" {
		t.Errorf("expected newest first, got %s, %s", videos[0].Key, videos[1].Key)
	}

	onlyMP4, _ := f.svc.ListVideos(context.Background(), "mp4")
	if len(onlyMP4) != 1 || onlyMP4[0].Key != "client_upload/old.mp4" {
		t.Errorf("unexpected mp4 filter result %+v", onlyMP4)
	}
}

// --- sessions and vectors ---

func TestGetSession(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.GetSession(context.Background(), "not-a-uuid"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if _, err := f.svc.GetSession(context.Background(), "a1b2c3d4-e5f6-4890-abcd-ef1234567890"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionsNotConfigured(t *testing.T) {
	svc := New(Deps{Objects: newFakeObjects()}, Options{})
	if _, err := svc.NewSession(context.Background(), ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestSaveVectors(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	session, _ := f.svc.NewSession(context.Background(), "acme")
	if _, err := f.svc.SelectVideo(context.Background(), session.ID, "client_upload/video1.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := f.svc.SaveVectors(context.Background(), SaveVectorsRequest{
		SessionID: session.ID,
		Shapes:    []vectors.LineShape{{Left: 5, Top: 10, X1: 5, Y1: 10, X2: 5, Y2: 190}},
		Labels:    []string{"N"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Key != "submissions/video1/vectors.txt" {
		t.Errorf("unexpected key %s", res.Key)
	}
	if got := f.objects.texts[res.Key]; got != "10,20,N\n10,200,N" {
		t.Errorf("expected %q, got %q", "10,20,N\n10,200,N", got)
	}
	stored := f.sessions.sessions[session.ID]
	if stored.VectorsKey != res.Key || len(stored.Shapes) != 1 || stored.Labels[0] != "N" {
		t.Errorf("expected drawing on session, got %+v", stored)
	}

	back, ok, err := f.svc.GetVectors(context.Background(), "client_upload/video1.mp4")
	if err != nil || !ok {
		t.Fatalf("expected stored vectors, got ok=%v err=%v", ok, err)
	}
	if back.Vectors.Map()[vectors.North].End.Y != 200 {
		t.Errorf("unexpected round trip %+v", back.Vectors)
	}
}

func TestSaveVectors_Invalid(t *testing.T) {
	f := newFixture()
	shapes := []vectors.LineShape{{X2: 1}, {X2: 2}}
	tests := []struct {
		name   string
		labels []string
		key    string
	}{
		{"duplicate label", []string{"N", "N"}, "client_upload/v.mp4"},
		{"unknown label", []string{"N", "UP"}, "client_upload/v.mp4"},
		{"count mismatch", []string{"N"}, "client_upload/v.mp4"},
		{"no video", []string{"N", "S"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SaveVectors(context.Background(), SaveVectorsRequest{InputKey: tt.key, Shapes: shapes, Labels: tt.labels})
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
	if len(f.objects.texts) != 0 {
		t.Error("expected nothing written")
	}
}

func TestGetVectors_Missing(t *testing.T) {
	f := newFixture()
	_, ok, err := f.svc.GetVectors(context.Background(), "client_upload/none.mp4")
	if err != nil || ok {
		t.Errorf("expected ok=false and no error, got ok=%v err=%v", ok, err)
	}
}

func TestSelectVideo_ClearsDrawingForOtherVideo(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/a.mp4", 1, fixedNow)
	f.objects.add("client_upload/b.mp4", 1, fixedNow)
	session, _ := f.svc.NewSession(context.Background(), "")
	f.svc.SelectVideo(context.Background(), session.ID, "client_upload/a.mp4")
	f.svc.SaveVectors(context.Background(), SaveVectorsRequest{
		SessionID: session.ID,
		Shapes:    []vectors.LineShape{{X2: 1}},
		Labels:    []string{"E"},
	})

	got, err := f.svc.SelectVideo(context.Background(), session.ID, "client_upload/b.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.VectorsKey != "" || len(got.Shapes) != 0 {
		t.Errorf("expected drawing cleared, got %+v", got)
	}
}

// --- submit ---

func TestSubmit_UnconfirmedUploadLaunchesNothing(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Submit(context.Background(), SubmitRequest{InputKey: "client_upload/video1.mp4"})

	var uerr *UploadTransportError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UploadTransportError, got %v", err)
	}
	if len(f.launcher.calls) != 0 {
		t.Errorf("expected 0 launches, got %d", len(f.launcher.calls))
	}
	if len(f.ledger.jobs) != 0 || len(f.sink.events) != 0 {
		t.Error("expected no ledger write or notification")
	}
}

func TestSubmit_FromSession(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	session, _ := f.svc.NewSession(context.Background(), "acme")
	f.svc.SelectVideo(context.Background(), session.ID, "client_upload/video1.mp4")
	f.svc.SaveVectors(context.Background(), SaveVectorsRequest{
		SessionID: session.ID,
		Shapes:    []vectors.LineShape{{X1: 10, Y1: 20, X2: 10, Y2: 200}},
		Labels:    []string{"N"},
	})

	handle, err := f.svc.Submit(context.Background(), SubmitRequest{
		SessionID: session.ID,
		Env:       map[string]string{"WRITE_VIDEO": "False"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.launcher.calls) != 1 {
		t.Fatalf("expected exactly 1 launch, got %d", len(f.launcher.calls))
	}
	call := f.launcher.calls[0]
	if call.InputKey != "client_upload/video1.mp4" || call.Client != "acme" {
		t.Errorf("unexpected launch request %+v", call)
	}
	if call.VectorsKey != "submissions/video1/vectors.txt" {
		t.Errorf("expected session vectors key, got %q", call.VectorsKey)
	}
	if call.Env["WRITE_VIDEO"] != "False" {
		t.Errorf("expected caller env forwarded, got %v", call.Env)
	}

	if len(f.ledger.jobs) != 1 || f.ledger.jobs[0].JobName != handle.JobName || f.ledger.jobs[0].Client != "acme" {
		t.Errorf("unexpected ledger jobs %+v", f.ledger.jobs)
	}
	if f.sessions.submitted[session.ID] != handle.JobName {
		t.Errorf("expected last job recorded on session")
	}
	last := f.sink.events[len(f.sink.events)-1]
	if last.Kind != notify.KindJobSubmitted || last.JobName != handle.JobName {
		t.Errorf("unexpected event %+v", last)
	}
}

func TestSubmit_DiscoversStoredVectors(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	f.objects.texts["submissions/video1/vectors.txt"] = "1,2,N\n3,4,N"
	f.objects.add("submissions/video1/vectors.txt", 11, fixedNow)

	if _, err := f.svc.Submit(context.Background(), SubmitRequest{InputKey: "client_upload/video1.mp4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.launcher.calls[0].VectorsKey; got != "submissions/video1/vectors.txt" {
		t.Errorf("expected discovered vectors key, got %q", got)
	}
}

func TestSubmit_NoVectors(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	if _, err := f.svc.Submit(context.Background(), SubmitRequest{InputKey: "client_upload/video1.mp4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.launcher.calls[0].VectorsKey; got != "" {
		t.Errorf("expected no vectors key, got %q", got)
	}
	if f.launcher.calls[0].Client != store.UnassignedClient {
		t.Errorf("expected unassigned client, got %q", f.launcher.calls[0].Client)
	}
}

func TestSubmit_RejectsInputThatPrefixesOtherUploads(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	f.objects.add("client_upload/video1.mp4.bak", 10, fixedNow)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{InputKey: "client_upload/video1.mp4"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if len(f.launcher.calls) != 0 {
		t.Errorf("expected 0 launches, got %d", len(f.launcher.calls))
	}
}

func TestSubmit_DispatchErrorPropagates(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	f.launcher.err = &launcher.DispatchError{InputKey: "client_upload/video1.mp4"}

	_, err := f.svc.Submit(context.Background(), SubmitRequest{InputKey: "client_upload/video1.mp4"})
	var derr *launcher.DispatchError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if len(f.ledger.jobs) != 0 || len(f.sink.events) != 0 {
		t.Error("expected no bookkeeping for a failed dispatch")
	}
}

func TestSubmit_Twice(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Submit(context.Background(), SubmitRequest{InputKey: "client_upload/video1.mp4"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(f.launcher.calls) != 2 {
		t.Errorf("expected 2 launches without dedup, got %d", len(f.launcher.calls))
	}
}

func TestStatusAndJobs(t *testing.T) {
	f := newFixture()
	f.objects.add("client_upload/video1.mp4", 10, fixedNow)
	f.svc.Submit(context.Background(), SubmitRequest{InputKey: "client_upload/video1.mp4", Client: "acme"})

	report := f.svc.Status(context.Background(), "acme")
	if report == nil || len(f.status.clients) != 1 || f.status.clients[0] != "acme" {
		t.Errorf("expected status refresh for acme, got %v", f.status.clients)
	}
	jobs, err := f.svc.Jobs(context.Background(), "acme")
	if err != nil || len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d (%v)", len(jobs), err)
	}
}
