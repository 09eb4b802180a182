package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/fpang/traffic-console/internal/reconcile"
	"github.com/fpang/traffic-console/internal/store"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestJobNameCmd(t *testing.T) {
	out, err := run(t, "", "jobname", "video1.mp4", "--version", "1.2.29", "--at", "1714557600")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pattern := regexp.MustCompile(`^fn-[0-9a-f]{32}-vn-1-2-29-e-1714557600\n$`)
	if !pattern.MatchString(out) {
		t.Errorf("unexpected job name %q", out)
	}
}

func TestJobNameCmd_JSON(t *testing.T) {
	out, err := run(t, "", "jobname", "client_upload/video1.mp4", "--version", "1.2.29", "--at", "1714557600", "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var doc map[string]string
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if doc["vectorsKey"] != "submissions/video1/vectors.txt" {
		t.Errorf("unexpected vectors key %q", doc["vectorsKey"])
	}
	if doc["outputPrefix"] != "outputs/video1_2024-05-01-10-00-00/" {
		t.Errorf("unexpected output prefix %q", doc["outputPrefix"])
	}
}

func TestVectorsEncode(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{
			name:  "direction map",
			stdin: `{"N": [10.7, 20, 10, 200]}`,
			args:  []string{"vectors", "encode"},
			want:  "10,20,N\n10,200,N\n",
		},
		{
			name:  "canonical order",
			stdin: `{"S": [0, 0, 0, 1], "n": [5, 5, 5, 6]}`,
			args:  []string{"vectors", "encode"},
			want:  "5,5,N\n5,6,N\n0,0,S\n0,1,S\n",
		},
		{
			name:  "from shapes",
			stdin: `{"shapes": [{"left": 5, "top": 10, "x1": 5, "y1": 10, "x2": 5, "y2": 190}], "labels": ["N"]}`,
			args:  []string{"vectors", "encode", "--from-shapes"},
			want:  "10,20,N\n10,200,N\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out != tt.want {
				t.Errorf("expected %q, got %q", tt.want, out)
			}
		})
	}
}

func TestVectorsEncode_UnknownDirection(t *testing.T) {
	if _, err := run(t, `{"UP": [0, 0, 0, 1]}`, "vectors", "encode"); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestVectorsDecode(t *testing.T) {
	out, err := run(t, "10,20,N\n10,200,N\n", "vectors", "decode")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"N", "10,20", "10,200"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in table output:\n%s", want, out)
		}
	}

	if _, err := run(t, "10,20,N\n", "vectors", "decode"); err == nil {
		t.Error("expected error for an unpaired line")
	}
}

func TestRenderStatus(t *testing.T) {
	start := time.Date(2024, 5, 1, 6, 1, 0, 0, time.UTC)
	hours := 2.1
	link := "https://signed/out.mp4"
	report := &reconcile.Report{
		Rows: []reconcile.StatusRow{
			{FileName: "video1.mp4", JobName: "fn-x", StartTime: &start, DurationHours: &hours, Status: reconcile.StatusCompleted, DownloadLink: &link},
		},
		Degraded: []*reconcile.ListingError{{Source: reconcile.SourceJobs, Err: errors.New("throttled")}},
	}

	var out, errOut bytes.Buffer
	if err := renderStatus(&out, &errOut, report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"video1.mp4", "fn-x", "06:01 AM", "2.1", "Completed", link} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, out.String())
		}
	}
	if !strings.Contains(errOut.String(), "could not list jobs") {
		t.Errorf("expected degraded warning, got %q", errOut.String())
	}
}

func TestRenderStatus_Empty(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := renderStatus(&out, &errOut, &reconcile.Report{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "No jobs found") || errOut.Len() != 0 {
		t.Errorf("unexpected output %q / %q", out.String(), errOut.String())
	}
}

func TestRenderJobs(t *testing.T) {
	var out bytes.Buffer
	jobs := []store.JobRecord{{JobName: "fn-a", InputKey: "client_upload/a.mp4", InstanceType: "ml.c5.xlarge", Version: "1.0.58", CreatedAt: 1714557600}}
	if err := renderJobs(&out, jobs, time.UTC); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"fn-a", "ml.c5.xlarge", "2024-05-01 10:00 AM"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, out.String())
		}
	}
}
