// Package main provides the HTTP API behind the traffic analytics console.
//
// It runs on Lambda behind API Gateway v2 via the httpadapter, or as a plain
// HTTP server when LOCAL_ADDR is set.
//
// Security:
//   - Origin-verify middleware blocks direct API Gateway access (CloudFront-only)
//   - sessionId must be a UUID; filenames are reduced to a safe base name
//   - Upload content types are limited to the supported video formats
//
// Endpoints:
//
//	GET  /api/health               health check
//	GET  /api/upload-url           presigned S3 PUT URL for browser upload
//	POST /api/upload/confirm       confirm an upload and record it
//	GET  /api/videos               uploaded videos, newest first
//	POST /api/session              create a session context
//	GET  /api/session/{id}         read a session context
//	POST /api/session/{id}/select  select a video for the session
//	POST /api/vectors              label drawn lines and store the vectors file
//	GET  /api/vectors              read the stored vectors file for an input
//	POST /api/submit               launch one processing job
//	GET  /api/status               reconciled status table
//	GET  /api/jobs                 job ledger for a client
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/config"
	"github.com/fpang/traffic-console/internal/lambdaboot"
	"github.com/fpang/traffic-console/internal/logging"
)

// Initialized at cold start by bootstrap.
var (
	svc                consoleAPI
	originVerifySecret string
	localAddr          string
)

// bootstrap loads configuration and wires the service.
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
	if err := cfg.RequireProcessing(); err != nil {
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

	originVerifySecret, err = lambdaboot.LoadSecret(ctx, clients.SSM, cfg.OriginVerifySecret, cfg.OriginVerifySecretParam)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load origin verify secret")
	}
	if originVerifySecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set: origin verification disabled")
	}
	localAddr = cfg.LocalAddr

	lambdaboot.StartupLog("console-lambda", initStart, cfg).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Feature("originVerify", originVerifySecret != "").
		Log()
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/upload-url", handleUploadURL)
	mux.HandleFunc("POST /api/upload/confirm", handleConfirmUpload)
	mux.HandleFunc("GET /api/videos", handleListVideos)
	mux.HandleFunc("POST /api/session", handleNewSession)
	mux.HandleFunc("GET /api/session/{id}", handleGetSession)
	mux.HandleFunc("POST /api/session/{id}/select", handleSelectVideo)
	mux.HandleFunc("POST /api/vectors", handleSaveVectors)
	mux.HandleFunc("GET /api/vectors", handleGetVectors)
	mux.HandleFunc("POST /api/submit", handleSubmit)
	mux.HandleFunc("GET /api/status", handleStatus)
	mux.HandleFunc("GET /api/jobs", handleJobs)
	return mux
}

func main() {
	bootstrap()
	handler := withMetrics(withOriginVerify(newMux()))

	if localAddr != "" {
		log.Info().Str("addr", localAddr).Msg("Serving console API locally")
		if err := http.ListenAndServe(localAddr, handler); err != nil {
			log.Fatal().Err(err).Msg("Local server stopped")
		}
		return
	}

	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
