// Package reconcile builds the per-submission status table by joining three
// independently listed sources:
//
//	unprocessed uploads   (object store, client_upload/)
//	processing jobs       (SageMaker ListProcessingJobs, paginated)
//	processed artifacts   (object store, outputs/)
//
// Every source goes through the same join key (naming.Digest). A failing
// source is replaced by an empty result and reported in Report.Degraded; the
// status call itself never fails.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/metrics"
	"github.com/fpang/traffic-console/internal/naming"
	"github.com/fpang/traffic-console/internal/objectstore"
)

// StatusCompleted is the only status that carries a download link.
const StatusCompleted = string(types.ProcessingJobStatusCompleted)

// DisplayLayout formats times for the status table.
const DisplayLayout = "2006-01-02 03:04 PM"

// Defaults applied when Config leaves a field zero.
const (
	DefaultTolerance   = 5 * time.Minute
	DefaultLinkTTL     = time.Hour
	DefaultMaxJobPages = 20
	jobPageSize        = 100
)

// Policy decides what happens to uploads with no job inside the window.
type Policy string

const (
	// PolicyDrop omits unmatched uploads.
	PolicyDrop Policy = "drop"
	// PolicyKeep emits a row with empty status and nil times.
	PolicyKeep Policy = "keep"
)

// ParsePolicy accepts "drop" or "keep" (case-insensitive, empty is drop).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyDrop:
		return PolicyDrop, nil
	case PolicyKeep:
		return PolicyKeep, nil
	}
	return "", fmt.Errorf("unknown unmatched policy %q", s)
}

// ObjectLister lists a bucket prefix. *objectstore.Client implements it.
type ObjectLister interface {
	List(ctx context.Context, bucket, prefix string) ([]objectstore.Object, error)
}

// Presigner creates download links. *objectstore.Client implements it.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// JobAPI is the subset of *sagemaker.Client used for job listing.
type JobAPI interface {
	ListProcessingJobs(ctx context.Context, params *sagemaker.ListProcessingJobsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListProcessingJobsOutput, error)
}

// ClientIndex resolves which jobs belong to a client.
type ClientIndex interface {
	JobNamesForClient(ctx context.Context, client string) (map[string]bool, error)
}

// Config controls the join.
type Config struct {
	UnprocessedBucket string
	ProcessedBucket   string
	Tolerance         time.Duration
	Policy            Policy
	Location          *time.Location
	LinkTTL           time.Duration
	MaxJobPages       int
}

// StatusRow is one line of the status table.
type StatusRow struct {
	FileName      string     `json:"fileName"`
	InputKey      string     `json:"inputKey"`
	JobName       string     `json:"jobName,omitempty"`
	UploadedAt    time.Time  `json:"uploadedAt"`
	StartTime     *time.Time `json:"startTime"`
	EndTime       *time.Time `json:"endTime"`
	DurationHours *float64   `json:"durationHours"`
	Status        string     `json:"status"`
	DownloadLink  *string    `json:"downloadLink"`
}

// StartDisplay formats StartTime with DisplayLayout, or "" when unset.
func (r StatusRow) StartDisplay() string { return display(r.StartTime) }

// EndDisplay formats EndTime with DisplayLayout, or "" when unset.
func (r StatusRow) EndDisplay() string { return display(r.EndTime) }

func display(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DisplayLayout)
}

// Report is the outcome of one refresh.
type Report struct {
	Rows        []StatusRow     `json:"rows"`
	Degraded    []*ListingError `json:"-"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// DegradedSources names the sources that fell back to empty results.
func (r *Report) DegradedSources() []string {
	out := make([]string, 0, len(r.Degraded))
	for _, d := range r.Degraded {
		out = append(out, string(d.Source))
	}
	return out
}

func (r *Report) degrade(err *ListingError) {
	log.Warn().Err(err.Err).Str("source", string(err.Source)).Msg("Status source degraded to empty result")
	r.Degraded = append(r.Degraded, err)
}

// Reconciler computes status rows on demand. It keeps no state between calls.
type Reconciler struct {
	objects ObjectLister
	presign Presigner
	jobs    JobAPI
	index   ClientIndex
	cfg     Config
	now     func() time.Time
}

// New creates a Reconciler. index may be nil, in which case client filters
// are ignored.
func New(objects ObjectLister, presign Presigner, jobs JobAPI, index ClientIndex, cfg Config) *Reconciler {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDrop
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = DefaultLinkTTL
	}
	if cfg.MaxJobPages <= 0 {
		cfg.MaxJobPages = DefaultMaxJobPages
	}
	return &Reconciler{objects: objects, presign: presign, jobs: jobs, index: index, cfg: cfg, now: time.Now}
}

// GetStatus returns the status rows for client ("" for all clients).
func (r *Reconciler) GetStatus(ctx context.Context, client string) []StatusRow {
	return r.Refresh(ctx, client).Rows
}

// Refresh lists all three sources and joins them.
func (r *Reconciler) Refresh(ctx context.Context, client string) *Report {
	start := time.Now()
	report := &Report{GeneratedAt: r.now()}

	uploads, err := r.listUploads(ctx)
	if err != nil {
		report.degrade(err)
	}

	var since *time.Time
	if len(uploads) > 0 {
		oldest := uploads[0].modified
		for _, u := range uploads[1:] {
			if u.modified.Before(oldest) {
				oldest = u.modified
			}
		}
		t := oldest.Add(-r.cfg.Tolerance)
		since = &t
	}
	jobs, err := r.listJobs(ctx, since)
	if err != nil {
		report.degrade(err)
	}

	processed, err := r.listProcessed(ctx)
	if err != nil {
		report.degrade(err)
	}

	var allowed map[string]bool
	if client != "" {
		if r.index == nil {
			log.Warn().Str("client", client).Msg("Client filter requested without a job index, ignoring")
			client = ""
		} else if names, ierr := r.index.JobNamesForClient(ctx, client); ierr != nil {
			report.degrade(&ListingError{Source: SourceClientIndex, Err: ierr})
			allowed = map[string]bool{}
		} else {
			allowed = names
		}
	}

	report.Rows = r.join(ctx, uploads, jobs, processed, client, allowed)

	metrics.New().
		Dimension("Operation", "status").
		Metric("Rows", float64(len(report.Rows)), metrics.UnitCount).
		Metric("DegradedSources", float64(len(report.Degraded)), metrics.UnitCount).
		Duration("RefreshMs", start).
		Flush()

	log.Info().
		Int("uploads", len(uploads)).
		Int("jobs", len(jobs)).
		Int("processed", len(processed)).
		Int("rows", len(report.Rows)).
		Strs("degraded", report.DegradedSources()).
		Str("client", client).
		Msg("Status refreshed")
	return report
}

type upload struct {
	key      string
	joinKey  naming.JoinKey
	modified time.Time
}

type job struct {
	name    string
	joinKey naming.JoinKey
	status  string
	created time.Time
	ended   *time.Time
}

type artifact struct {
	key      string
	modified time.Time
}

func (r *Reconciler) listUploads(ctx context.Context) ([]upload, *ListingError) {
	objs, err := r.objects.List(ctx, r.cfg.UnprocessedBucket, naming.UploadPrefix)
	if err != nil {
		return nil, &ListingError{Source: SourceUnprocessed, Err: err}
	}
	out := make([]upload, 0, len(objs))
	for _, o := range objs {
		if naming.Normalize(o.Key) == "" {
			continue
		}
		out = append(out, upload{key: o.Key, joinKey: naming.Digest(o.Key), modified: o.LastModified})
	}
	return out, nil
}

// listJobs accumulates job summaries across pages up to MaxJobPages. Jobs
// whose names were not produced by the launcher are skipped. A failure on any
// page discards the whole listing.
func (r *Reconciler) listJobs(ctx context.Context, since *time.Time) ([]job, *ListingError) {
	paginator := sagemaker.NewListProcessingJobsPaginator(r.jobs, &sagemaker.ListProcessingJobsInput{
		NameContains:      aws.String("fn-"),
		CreationTimeAfter: since,
		SortBy:            types.SortByCreationTime,
		SortOrder:         types.SortOrderDescending,
		MaxResults:        aws.Int32(jobPageSize),
	})

	var out []job
	pages := 0
	for paginator.HasMorePages() {
		if pages == r.cfg.MaxJobPages {
			log.Warn().Int("pages", pages).Int("jobs", len(out)).Msg("Job listing truncated at page limit")
			break
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &ListingError{Source: SourceJobs, Err: fmt.Errorf("ListProcessingJobs page %d: %w", pages+1, err)}
		}
		pages++
		for _, s := range page.ProcessingJobSummaries {
			name := aws.ToString(s.ProcessingJobName)
			parsed, ok := naming.ParseJobName(name)
			if !ok || s.CreationTime == nil {
				continue
			}
			out = append(out, job{
				name:    name,
				joinKey: parsed.Digest,
				status:  string(s.ProcessingJobStatus),
				created: *s.CreationTime,
				ended:   s.ProcessingEndTime,
			})
		}
	}
	return out, nil
}

// listProcessed keeps the most recently modified .mp4 per join key.
func (r *Reconciler) listProcessed(ctx context.Context) (map[naming.JoinKey]artifact, *ListingError) {
	objs, err := r.objects.List(ctx, r.cfg.ProcessedBucket, naming.OutputPrefix)
	if err != nil {
		return nil, &ListingError{Source: SourceProcessed, Err: err}
	}
	out := make(map[naming.JoinKey]artifact)
	for _, o := range objs {
		if !strings.EqualFold(path.Ext(o.Key), ".mp4") {
			continue
		}
		key, ok := naming.ProcessedJoinKey(o.Key)
		if !ok {
			continue
		}
		if cur, seen := out[key]; !seen || o.LastModified.After(cur.modified) {
			out[key] = artifact{key: o.Key, modified: o.LastModified}
		}
	}
	return out, nil
}

func (r *Reconciler) join(ctx context.Context, uploads []upload, jobs []job, processed map[naming.JoinKey]artifact, client string, allowed map[string]bool) []StatusRow {
	byKey := make(map[naming.JoinKey][]job)
	for _, j := range jobs {
		byKey[j.joinKey] = append(byKey[j.joinKey], j)
	}

	rows := make([]StatusRow, 0, len(uploads))
	for _, u := range uploads {
		match, ok := r.closest(u, byKey[u.joinKey])
		if client != "" && (!ok || !allowed[match.name]) {
			continue
		}
		if !ok {
			if r.cfg.Policy == PolicyKeep {
				rows = append(rows, StatusRow{
					FileName:   path.Base(u.key),
					InputKey:   u.key,
					UploadedAt: u.modified.In(r.cfg.Location),
				})
			}
			continue
		}
		rows = append(rows, r.row(ctx, u, match, processed))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.StartTime != nil && b.StartTime != nil:
			if !a.StartTime.Equal(*b.StartTime) {
				return a.StartTime.After(*b.StartTime)
			}
		case a.StartTime != nil:
			return true
		case b.StartTime != nil:
			return false
		default:
			if !a.UploadedAt.Equal(b.UploadedAt) {
				return a.UploadedAt.After(b.UploadedAt)
			}
		}
		return a.FileName < b.FileName
	})
	return rows
}

// closest picks the job nearest to the upload time within the tolerance.
// Ties go to the later creation time, then the lexically smaller name.
func (r *Reconciler) closest(u upload, candidates []job) (job, bool) {
	var best job
	bestGap := time.Duration(-1)
	for _, j := range candidates {
		gap := j.created.Sub(u.modified)
		if gap < 0 {
			gap = -gap
		}
		if gap > r.cfg.Tolerance {
			continue
		}
		switch {
		case bestGap < 0, gap < bestGap:
		case gap == bestGap && j.created.After(best.created):
		case gap == bestGap && j.created.Equal(best.created) && j.name < best.name:
		default:
			continue
		}
		best, bestGap = j, gap
	}
	return best, bestGap >= 0
}

func (r *Reconciler) row(ctx context.Context, u upload, j job, processed map[naming.JoinKey]artifact) StatusRow {
	start := j.created.In(r.cfg.Location)
	row := StatusRow{
		FileName:   path.Base(u.key),
		InputKey:   u.key,
		JobName:    j.name,
		UploadedAt: u.modified.In(r.cfg.Location),
		StartTime:  &start,
		Status:     j.status,
	}
	if j.ended != nil {
		end := j.ended.In(r.cfg.Location)
		hours := math.Round(end.Sub(start).Hours()*10) / 10
		row.EndTime = &end
		row.DurationHours = &hours
	}

	if j.status != StatusCompleted {
		return row
	}
	art, ok := processed[u.joinKey]
	if !ok {
		return row
	}
	link, err := r.presign.PresignGet(ctx, r.cfg.ProcessedBucket, art.key, r.cfg.LinkTTL)
	if err != nil {
		log.Warn().Err(err).Str("key", art.key).Str("jobName", j.name).Msg("Presign failed, omitting download link")
		return row
	}
	row.DownloadLink = &link
	return row
}
