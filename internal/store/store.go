// Package store persists console session context and the job linkage ledger
// in a single DynamoDB table.
//
// Key layout:
//
//	PK=SESSION#{sessionId}  SK=META                 session context
//	PK=CLIENT#{client}      SK=SUBMISSION#{key}     confirmed upload
//	PK=CLIENT#{client}      SK=JOB#{jobName}        dispatched job
//
// A TTL attribute (expiresAt) removes session records after SessionTTL and
// ledger records after LedgerTTL. The remote compute service remains the
// source of truth for job state; the ledger only links jobs to clients.
package store

import (
	"context"
	"time"

	"github.com/fpang/traffic-console/internal/vectors"
)

// SessionTTL is the lifetime of a session context record.
const SessionTTL = 24 * time.Hour

// LedgerTTL is the lifetime of submission and job ledger records.
const LedgerTTL = 90 * 24 * time.Hour

// UnassignedClient is the ledger partition for submissions without a client.
const UnassignedClient = "unassigned"

// SessionStore persists per-session console context.
//
// GetSession returns (nil, nil) when the session does not exist.
type SessionStore interface {
	PutSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	RecordSubmission(ctx context.Context, sessionID, jobName string, at time.Time) error
}

// Ledger links uploads and jobs to clients.
type Ledger interface {
	PutSubmission(ctx context.Context, sub *Submission) error
	PutJob(ctx context.Context, job *JobRecord) error
	ListJobs(ctx context.Context, client string) ([]JobRecord, error)
	JobNamesForClient(ctx context.Context, client string) (map[string]bool, error)
}

// Session replaces implicit UI state: which video is selected, what was
// drawn on its reference frame, and what was last submitted.
type Session struct {
	ID            string              `json:"id" dynamodbav:"-"`
	Client        string              `json:"client,omitempty" dynamodbav:"client,omitempty"`
	SelectedVideo string              `json:"selectedVideo,omitempty" dynamodbav:"selectedVideo,omitempty"`
	Shapes        []vectors.LineShape `json:"shapes,omitempty" dynamodbav:"shapes,omitempty"`
	Labels        []string            `json:"labels,omitempty" dynamodbav:"labels,omitempty"`
	VectorsKey    string              `json:"vectorsKey,omitempty" dynamodbav:"vectorsKey,omitempty"`
	LastJobName   string              `json:"lastJobName,omitempty" dynamodbav:"lastJobName,omitempty"`
	LastJobAt     int64               `json:"lastJobAt,omitempty" dynamodbav:"lastJobAt,omitempty"`
	CreatedAt     int64               `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt     int64               `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Submission is a confirmed upload.
type Submission struct {
	Client     string `json:"client" dynamodbav:"-"`
	InputKey   string `json:"inputKey" dynamodbav:"inputKey"`
	Digest     string `json:"digest" dynamodbav:"digest"`
	Size       int64  `json:"size" dynamodbav:"size"`
	Source     string `json:"source" dynamodbav:"source"`
	UploadedAt int64  `json:"uploadedAt" dynamodbav:"uploadedAt"`
}

// JobRecord is one dispatched processing job.
type JobRecord struct {
	Client       string `json:"client" dynamodbav:"-"`
	JobName      string `json:"jobName" dynamodbav:"jobName"`
	JobARN       string `json:"jobArn,omitempty" dynamodbav:"jobArn,omitempty"`
	InputKey     string `json:"inputKey" dynamodbav:"inputKey"`
	Digest       string `json:"digest" dynamodbav:"digest"`
	InstanceType string `json:"instanceType" dynamodbav:"instanceType"`
	Version      string `json:"version" dynamodbav:"version"`
	OutputPrefix string `json:"outputPrefix" dynamodbav:"outputPrefix"`
	VectorsKey   string `json:"vectorsKey,omitempty" dynamodbav:"vectorsKey,omitempty"`
	SessionID    string `json:"sessionId,omitempty" dynamodbav:"sessionId,omitempty"`
	CreatedAt    int64  `json:"createdAt" dynamodbav:"createdAt"`
}
