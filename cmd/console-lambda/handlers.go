package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/console"
	"github.com/fpang/traffic-console/internal/launcher"
	"github.com/fpang/traffic-console/internal/objectstore"
	"github.com/fpang/traffic-console/internal/reconcile"
	"github.com/fpang/traffic-console/internal/store"
	"github.com/fpang/traffic-console/internal/vectors"
)

// consoleAPI is the subset of *console.Service the handlers call.
type consoleAPI interface {
	PresignUpload(ctx context.Context, filename, contentType string) (*console.UploadTicket, error)
	ConfirmUpload(ctx context.Context, req console.ConfirmRequest) (*store.Submission, error)
	ListVideos(ctx context.Context, exts ...string) ([]objectstore.Object, error)
	NewSession(ctx context.Context, client string) (*store.Session, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	SelectVideo(ctx context.Context, sessionID, key string) (*store.Session, error)
	SaveVectors(ctx context.Context, req console.SaveVectorsRequest) (*console.VectorsResult, error)
	GetVectors(ctx context.Context, inputKey string) (*console.VectorsResult, bool, error)
	Submit(ctx context.Context, req console.SubmitRequest) (*launcher.JobHandle, error)
	Status(ctx context.Context, client string) *reconcile.Report
	Jobs(ctx context.Context, client string) ([]store.JobRecord, error)
}

var _ consoleAPI = (*console.Service)(nil)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "traffic-console",
		"commit":  commitHash,
	})
}

// GET /api/upload-url?filename=...&contentType=...
func handleUploadURL(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	contentType := r.URL.Query().Get("contentType")
	if filename == "" {
		httpError(w, http.StatusBadRequest, "filename is required")
		return
	}

	ticket, err := svc.PresignUpload(r.Context(), filename, contentType)
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ticket)
}

// POST /api/upload/confirm
// Body: {"key": "client_upload/video1.mp4", "client": "optional", "sessionId": "optional uuid"}
func handleConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key       string `json:"key"`
		Client    string `json:"client,omitempty"`
		SessionID string `json:"sessionId,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Key == "" {
		httpError(w, http.StatusBadRequest, "key is required")
		return
	}

	sub, err := svc.ConfirmUpload(r.Context(), console.ConfirmRequest{
		Key:       req.Key,
		Client:    req.Client,
		SessionID: req.SessionID,
		Source:    console.SourceBrowser,
	})
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// GET /api/videos?ext=mp4,h264
func handleListVideos(w http.ResponseWriter, r *http.Request) {
	var exts []string
	if raw := r.URL.Query().Get("ext"); raw != "" {
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				exts = append(exts, e)
			}
		}
	}

	videos, err := svc.ListVideos(r.Context(), exts...)
	if err != nil {
		serviceError(w, err)
		return
	}
	type video struct {
		Key          string `json:"key"`
		Name         string `json:"name"`
		Size         int64  `json:"size"`
		LastModified string `json:"lastModified"`
	}
	out := make([]video, 0, len(videos))
	for _, v := range videos {
		out = append(out, video{
			Key:          v.Key,
			Name:         strings.TrimPrefix(v.Key, "client_upload/"),
			Size:         v.Size,
			LastModified: v.LastModified.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"videos": out})
}

// POST /api/session
// Body: {"client": "optional"}
func handleNewSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Client string `json:"client,omitempty"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	session, err := svc.NewSession(r.Context(), req.Client)
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

// GET /api/session/{id}
func handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// POST /api/session/{id}/select
// Body: {"key": "client_upload/video1.mp4"}
func handleSelectVideo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Key == "" {
		httpError(w, http.StatusBadRequest, "key is required")
		return
	}
	session, err := svc.SelectVideo(r.Context(), r.PathValue("id"), req.Key)
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// POST /api/vectors
// Body: {"sessionId": "uuid", "inputKey": "optional", "shapes": [...], "labels": ["N", "S"]}
func handleSaveVectors(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string              `json:"sessionId,omitempty"`
		InputKey  string              `json:"inputKey,omitempty"`
		Shapes    []vectors.LineShape `json:"shapes"`
		Labels    []string            `json:"labels"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Shapes) == 0 {
		httpError(w, http.StatusBadRequest, "at least one line is required")
		return
	}

	res, err := svc.SaveVectors(r.Context(), console.SaveVectorsRequest{
		SessionID: req.SessionID,
		InputKey:  req.InputKey,
		Shapes:    req.Shapes,
		Labels:    req.Labels,
	})
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GET /api/vectors?inputKey=client_upload/video1.mp4
func handleGetVectors(w http.ResponseWriter, r *http.Request) {
	inputKey := r.URL.Query().Get("inputKey")
	if inputKey == "" {
		httpError(w, http.StatusBadRequest, "inputKey is required")
		return
	}
	res, ok, err := svc.GetVectors(r.Context(), inputKey)
	if err != nil {
		serviceError(w, err)
		return
	}
	if !ok {
		httpError(w, http.StatusNotFound, "no vectors stored for this video")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// POST /api/submit
// Body: {"sessionId": "uuid", "inputKey": "optional", "client": "optional", "env": {...}}
func handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string            `json:"sessionId,omitempty"`
		InputKey   string            `json:"inputKey,omitempty"`
		Client     string            `json:"client,omitempty"`
		VectorsKey string            `json:"vectorsKey,omitempty"`
		Env        map[string]string `json:"env,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" && req.InputKey == "" {
		httpError(w, http.StatusBadRequest, "sessionId or inputKey is required")
		return
	}

	handle, err := svc.Submit(r.Context(), console.SubmitRequest{
		SessionID:  req.SessionID,
		InputKey:   req.InputKey,
		Client:     req.Client,
		VectorsKey: req.VectorsKey,
		Env:        req.Env,
	})
	if err != nil {
		serviceError(w, err)
		return
	}
	log.Info().Str("jobName", handle.JobName).Str("sessionId", req.SessionID).Msg("Submission accepted")
	respondJSON(w, http.StatusAccepted, handle)
}

// statusResponse is the status table with degraded sources listed.
type statusResponse struct {
	Rows        []statusRow `json:"rows"`
	Degraded    []string    `json:"degraded"`
	GeneratedAt string      `json:"generatedAt"`
}

type statusRow struct {
	reconcile.StatusRow
	Start string `json:"start"`
	End   string `json:"end"`
}

// GET /api/status?client=...
// Always 200: sources that fail to list are reported under "degraded".
func handleStatus(w http.ResponseWriter, r *http.Request) {
	report := svc.Status(r.Context(), r.URL.Query().Get("client"))
	resp := statusResponse{
		Rows:        make([]statusRow, 0, len(report.Rows)),
		Degraded:    report.DegradedSources(),
		GeneratedAt: report.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	for _, row := range report.Rows {
		resp.Rows = append(resp.Rows, statusRow{StatusRow: row, Start: row.StartDisplay(), End: row.EndDisplay()})
	}
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, resp)
}

// GET /api/jobs?client=...
func handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := svc.Jobs(r.Context(), r.URL.Query().Get("client"))
	if err != nil {
		serviceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []store.JobRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
