// Package main provides the Lambda that confirms uploads arriving outside
// the browser console.
//
// It is triggered by S3 ObjectCreated events on the unprocessed bucket's
// client_upload/ prefix (for example SFTP transfers). Each video object is
// confirmed through the console service: the submission is recorded in the
// ledger and an upload.completed notification is sent. Objects the browser
// stamped with x-amz-meta-source=browser are skipped; the browser confirms
// those itself.
package main

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/config"
	"github.com/fpang/traffic-console/internal/console"
	"github.com/fpang/traffic-console/internal/lambdaboot"
	"github.com/fpang/traffic-console/internal/logging"
	"github.com/fpang/traffic-console/internal/metrics"
	"github.com/fpang/traffic-console/internal/naming"
	"github.com/fpang/traffic-console/internal/store"
)

var coldStart = true

// uploadConfirmer is the subset of *console.Service this Lambda calls.
type uploadConfirmer interface {
	ConfirmUpload(ctx context.Context, req console.ConfirmRequest) (*store.Submission, error)
}

var svc uploadConfirmer

func bootstrap() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.RequireBuckets(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	clients, err := lambdaboot.InitAWS(ctx, cfg.Region)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AWS")
	}
	components, err := lambdaboot.Build(ctx, clients, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build components")
	}
	svc = components.Console

	lambdaboot.StartupLog("upload-lambda", initStart, cfg).Log()
}

func main() {
	bootstrap()
	lambda.Start(handler)
}

func handler(ctx context.Context, s3Event events.S3Event) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "upload-lambda").Msg("Cold start, first invocation")
	}

	rec := metrics.New().Dimension("Operation", "upload-confirm")
	defer rec.Flush()

	for _, record := range s3Event.Records {
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			log.Warn().Err(err).Str("key", record.S3.Object.Key).Msg("Skipping undecodable key")
			continue
		}
		if !isVideoUpload(key) {
			log.Debug().Str("key", key).Msg("Skipping key: not a video upload")
			continue
		}

		// Don't return errors: remaining records in the batch still get confirmed.
		_, err = svc.ConfirmUpload(ctx, console.ConfirmRequest{Key: key, Source: console.SourceS3Event})
		if errors.Is(err, console.ErrBrowserUpload) {
			rec.Add("UploadsSkipped", 1)
			log.Debug().Str("key", key).Msg("Skipping key: confirmed by the browser")
			continue
		}
		if err != nil {
			rec.Add("UploadConfirmErrors", 1)
			log.Error().Err(err).Str("key", key).Msg("Failed to confirm upload")
			continue
		}
		rec.Add("UploadsConfirmed", 1)
	}
	return nil
}

// isVideoUpload reports whether key is a video directly under client_upload/.
func isVideoUpload(key string) bool {
	name, ok := strings.CutPrefix(key, naming.UploadPrefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return false
	}
	ext := strings.ToLower(path.Ext(name))
	for _, v := range console.VideoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}
