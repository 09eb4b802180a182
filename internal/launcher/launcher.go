// Package launcher builds SageMaker processing job requests for uploaded
// videos and dispatches them across a prioritized pool of instance types.
//
// Submit tries the most capable instance type first and falls back to
// smaller ones only when the service rejects a type for capacity or quota
// reasons. Any other failure stops the walk immediately. At most one job is
// created per call; calling Submit twice creates two jobs.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/metrics"
	"github.com/fpang/traffic-console/internal/naming"
)

// Container paths inside the processing image.
const (
	localInput      = "/opt/ml/processing/input"
	localVectors    = "/opt/ml/processing/vectors"
	localClassifier = "/opt/ml/processing/classifier"
	localOutput     = "/opt/ml/processing/output/"
	localMedian     = "/opt/ml/processing/median_frame/"
	localCounts     = "/opt/ml/processing/counts/"
	localTracks     = "/opt/ml/processing/tracks/"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultVolumeGB    = 1
	DefaultMaxRuntime  = 4 * time.Hour
	DefaultSampleEvery = 3
)

// DefaultInstanceTypes is ordered cheapest first; the pool pops from the end.
var DefaultInstanceTypes = []string{
	"ml.c5.xlarge",
	"ml.c5.2xlarge",
	"ml.c5.4xlarge",
	"ml.c5.9xlarge",
	"ml.c5.18xlarge",
}

// Environment keys read by the processing image.
const (
	EnvAWS             = "AWS"
	EnvEvery           = "EVERY"
	EnvShowVectors     = "SHOW_VECTORS"
	EnvClassifierCfg   = "CLASSIFIER_CONFIG"
	EnvClassifierModel = "CLASSIFIER_MODEL_PATH"
	EnvWriteVideo      = "WRITE_VIDEO"
	EnvWriteTracks     = "WRITE_TRACKS"
	EnvVectorsPrefix   = "VECTORS_PREFIX"

	// Job identity; always set by the launcher.
	EnvJobName      = "JOB_NAME"
	EnvInputKey     = "INPUT_KEY"
	EnvOutputPrefix = "OUTPUT_PREFIX"
)

// Tag keys attached to every job.
const (
	TagName     = "Name"
	TagFileType = "FileType"
	TagClient   = "Client"
	TagVersion  = "Version"
	TagDatetime = "Datetime"
	TagMachine  = "Machine"
	TagProject  = "Project"
)

// API is the subset of *sagemaker.Client used for dispatch.
type API interface {
	CreateProcessingJob(ctx context.Context, params *sagemaker.CreateProcessingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateProcessingJobOutput, error)
}

// Config describes the processing image and where its inputs and outputs live.
type Config struct {
	Image   string
	RoleARN string
	Version string

	// InstanceTypes is ordered cheapest first.
	InstanceTypes []string
	VolumeGB      int32
	MaxRuntime    time.Duration
	SampleEvery   int

	UnprocessedBucket string
	ProcessedBucket   string
	// AssetsBucket holds classifier config and weights under ClassifierPrefix.
	// Empty disables the classifier input.
	AssetsBucket     string
	ClassifierPrefix string
}

// SubmitRequest describes one submission.
type SubmitRequest struct {
	// InputKey is the uploaded object's key in the unprocessed bucket.
	InputKey string
	Client   string
	// VectorsKey is set when direction vectors were written for this input.
	VectorsKey string
	// Env is forwarded into the job environment. Caller keys win over
	// launcher defaults except for the job identity keys.
	Env map[string]string
}

// JobHandle identifies a created job.
type JobHandle struct {
	JobName      string         `json:"jobName"`
	JobARN       string         `json:"jobArn"`
	InstanceType string         `json:"instanceType"`
	InputKey     string         `json:"inputKey"`
	Digest       naming.JoinKey `json:"digest"`
	OutputPrefix string         `json:"outputPrefix"`
	VectorsKey   string         `json:"vectorsKey,omitempty"`
	Version      string         `json:"version"`
	CreatedAt    time.Time      `json:"createdAt"`
	Attempts     int            `json:"attempts"`
}

// Launcher dispatches processing jobs.
type Launcher struct {
	api API
	cfg Config
	now func() time.Time
}

// New creates a Launcher. Zero Config fields take package defaults.
func New(api API, cfg Config) *Launcher {
	if len(cfg.InstanceTypes) == 0 {
		cfg.InstanceTypes = DefaultInstanceTypes
	}
	if cfg.VolumeGB <= 0 {
		cfg.VolumeGB = DefaultVolumeGB
	}
	if cfg.MaxRuntime <= 0 {
		cfg.MaxRuntime = DefaultMaxRuntime
	}
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = DefaultSampleEvery
	}
	if cfg.ClassifierPrefix == "" {
		cfg.ClassifierPrefix = "classifier/"
	}
	return &Launcher{api: api, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source.
func (l *Launcher) WithClock(now func() time.Time) *Launcher {
	l.now = now
	return l
}

// Config returns the effective configuration.
func (l *Launcher) Config() Config {
	return l.cfg
}

// Submit creates exactly one processing job or returns an error. A
// *DispatchError means every instance type was rejected as transient; any
// other error is the first non-transient failure.
func (l *Launcher) Submit(ctx context.Context, req SubmitRequest) (*JobHandle, error) {
	if req.InputKey == "" {
		return nil, errors.New("launcher: input key is required")
	}

	now := l.now()
	jobName := naming.DeriveJobNameAt(req.InputKey, l.cfg.Version, now)
	if err := naming.ValidateJobName(jobName); err != nil {
		return nil, fmt.Errorf("launcher: %w", err)
	}
	outputPrefix := naming.OutputPrefixFor(req.InputKey, now)

	rec := metrics.New().Dimension("Operation", "dispatch")
	defer rec.Flush()

	pool := NewCandidatePool(l.cfg.InstanceTypes)
	var attempts []error
	for {
		instanceType, ok := pool.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("launcher: %w", err)
		}

		input := l.BuildRequest(req, jobName, outputPrefix, instanceType, now)
		rec.Add("DispatchAttempts", 1)

		log.Debug().
			Str("jobName", jobName).
			Str("instanceType", instanceType).
			Int("remaining", pool.Remaining()).
			Msg("Creating processing job")

		out, err := l.api.CreateProcessingJob(ctx, input)
		if err != nil {
			if IsTransient(err, instanceType) {
				terr := &TransientDispatchError{InstanceType: instanceType, Err: err}
				attempts = append(attempts, terr)
				rec.Add("TransientFailures", 1)
				log.Warn().
					Err(err).
					Str("jobName", jobName).
					Str("instanceType", instanceType).
					Msg("Instance type rejected, trying next candidate")
				continue
			}
			rec.Count("DispatchErrors")
			log.Error().
				Err(err).
				Str("jobName", jobName).
				Str("instanceType", instanceType).
				Msg("Processing job dispatch failed")
			return nil, fmt.Errorf("CreateProcessingJob %s on %s: %w", jobName, instanceType, err)
		}

		rec.Count("JobsLaunched").Property("instanceType", instanceType).Property("jobName", jobName)
		handle := &JobHandle{
			JobName:      jobName,
			JobARN:       aws.ToString(out.ProcessingJobArn),
			InstanceType: instanceType,
			InputKey:     req.InputKey,
			Digest:       naming.Digest(req.InputKey),
			OutputPrefix: outputPrefix,
			VectorsKey:   req.VectorsKey,
			Version:      l.cfg.Version,
			CreatedAt:    now,
			Attempts:     len(attempts) + 1,
		}
		log.Info().
			Str("jobName", jobName).
			Str("jobArn", handle.JobARN).
			Str("instanceType", instanceType).
			Str("client", req.Client).
			Int("attempts", handle.Attempts).
			Msg("Processing job started")
		return handle, nil
	}

	rec.Count("DispatchExhausted")
	log.Error().
		Str("jobName", jobName).
		Int("attempts", len(attempts)).
		Msg("Instance type pool exhausted")
	return nil, &DispatchError{InputKey: req.InputKey, JobName: jobName, Attempts: attempts}
}

// BuildRequest assembles the full job specification for one instance type.
//
// The video input is an S3Prefix input on the full object key, so any other
// key that starts with it (client_upload/video1.mp4.bak) is copied into the
// container too. Callers reject such inputs before submitting.
func (l *Launcher) BuildRequest(req SubmitRequest, jobName, outputPrefix, instanceType string, at time.Time) *sagemaker.CreateProcessingJobInput {
	inputs := []types.ProcessingInput{
		s3Input("video", s3URI(l.cfg.UnprocessedBucket, req.InputKey), localInput),
	}
	if req.VectorsKey != "" {
		inputs = append(inputs, s3Input("vectors", s3URI(l.cfg.UnprocessedBucket, path.Dir(req.VectorsKey)+"/"), localVectors))
	}
	if l.cfg.AssetsBucket != "" {
		inputs = append(inputs, s3Input("classifier", s3URI(l.cfg.AssetsBucket, l.cfg.ClassifierPrefix), localClassifier))
	}

	outputs := []types.ProcessingOutput{
		s3Output("video", s3URI(l.cfg.ProcessedBucket, outputPrefix+"video/"), localOutput),
		s3Output("median_frame", s3URI(l.cfg.ProcessedBucket, outputPrefix+"median_frame/"), localMedian),
		s3Output("counts", s3URI(l.cfg.ProcessedBucket, outputPrefix+"counts/"), localCounts),
		s3Output("tracks", s3URI(l.cfg.ProcessedBucket, outputPrefix+"tracks/"), localTracks),
	}

	return &sagemaker.CreateProcessingJobInput{
		ProcessingJobName: aws.String(jobName),
		RoleArn:           aws.String(l.cfg.RoleARN),
		AppSpecification: &types.AppSpecification{
			ImageUri: aws.String(l.cfg.Image),
		},
		ProcessingInputs: inputs,
		ProcessingOutputConfig: &types.ProcessingOutputConfig{
			Outputs: outputs,
		},
		ProcessingResources: &types.ProcessingResources{
			ClusterConfig: &types.ProcessingClusterConfig{
				InstanceCount:  aws.Int32(1),
				InstanceType:   types.ProcessingInstanceType(instanceType),
				VolumeSizeInGB: aws.Int32(l.cfg.VolumeGB),
			},
		},
		StoppingCondition: &types.ProcessingStoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(int32(l.cfg.MaxRuntime / time.Second)),
		},
		Environment: l.Environment(req, jobName, outputPrefix),
		Tags:        l.tags(req, instanceType, at),
	}
}

// Environment merges launcher defaults, caller overrides, and job identity.
func (l *Launcher) Environment(req SubmitRequest, jobName, outputPrefix string) map[string]string {
	env := map[string]string{
		EnvAWS:             "True",
		EnvEvery:           strconv.Itoa(l.cfg.SampleEvery),
		EnvShowVectors:     boolString(req.VectorsKey != ""),
		EnvClassifierCfg:   localClassifier + "/config.yaml",
		EnvClassifierModel: localClassifier + "/model",
		EnvWriteVideo:      "True",
		EnvWriteTracks:     "True",
		EnvVectorsPrefix:   naming.SubmissionPrefixFor(req.InputKey),
	}
	for k, v := range req.Env {
		env[k] = v
	}
	env[EnvJobName] = jobName
	env[EnvInputKey] = req.InputKey
	env[EnvOutputPrefix] = outputPrefix
	return env
}

func (l *Launcher) tags(req SubmitRequest, instanceType string, at time.Time) []types.Tag {
	base := path.Base(req.InputKey)
	fileType := strings.TrimPrefix(strings.ToLower(path.Ext(base)), ".")
	pairs := [][2]string{
		{TagName, base},
		{TagFileType, fileType},
		{TagClient, req.Client},
		{TagVersion, l.cfg.Version},
		{TagDatetime, at.UTC().Format(time.RFC3339)},
		{TagMachine, instanceType},
		{TagProject, "traffic-console"},
	}
	tags := make([]types.Tag, 0, len(pairs))
	for _, p := range pairs {
		tags = append(tags, types.Tag{Key: aws.String(p[0]), Value: aws.String(p[1])})
	}
	return tags
}

func s3Input(name, uri, localPath string) types.ProcessingInput {
	return types.ProcessingInput{
		InputName: aws.String(name),
		S3Input: &types.ProcessingS3Input{
			S3Uri:                  aws.String(uri),
			LocalPath:              aws.String(localPath),
			S3DataType:             types.ProcessingS3DataTypeS3Prefix,
			S3InputMode:            types.ProcessingS3InputModeFile,
			S3DataDistributionType: types.ProcessingS3DataDistributionTypeFullyreplicated,
		},
	}
}

func s3Output(name, uri, localPath string) types.ProcessingOutput {
	return types.ProcessingOutput{
		OutputName: aws.String(name),
		S3Output: &types.ProcessingS3Output{
			S3Uri:        aws.String(uri),
			LocalPath:    aws.String(localPath),
			S3UploadMode: types.ProcessingS3UploadModeEndOfJob,
		},
	}
}

func s3URI(bucket, key string) string {
	return "s3://" + bucket + "/" + strings.TrimPrefix(key, "/")
}

func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
