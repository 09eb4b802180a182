package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/traffic-console/internal/vectors"
)

// fakeDynamo is an in-memory table keyed by PK|SK. Query returns pageSize
// items per call to exercise LastEvaluatedKey handling.
type fakeDynamo struct {
	items      map[string]map[string]types.AttributeValue
	pageSize   int
	queryCalls int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, pageSize: 1}
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) id(key map[string]types.AttributeValue) string {
	return str(key["PK"]) + "|" + str(key["SK"])
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[f.id(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[f.id(in.Key)]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	item, ok := f.items[f.id(in.Key)]
	if !ok {
		item = map[string]types.AttributeValue{"PK": in.Key["PK"], "SK": in.Key["SK"]}
		f.items[f.id(in.Key)] = item
	}
	item["lastJobName"] = in.ExpressionAttributeValues[":j"]
	item["lastJobAt"] = in.ExpressionAttributeValues[":t"]
	item["updatedAt"] = in.ExpressionAttributeValues[":t"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryCalls++
	pk := str(in.ExpressionAttributeValues[":pk"])
	prefix := str(in.ExpressionAttributeValues[":skPrefix"])

	var ids []string
	for id, item := range f.items {
		if str(item["PK"]) == pk && strings.HasPrefix(str(item["SK"]), prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := f.id(in.ExclusiveStartKey)
		for start < len(ids) && ids[start] <= after {
			start++
		}
	}
	end := min(start+f.pageSize, len(ids))

	out := &dynamodb.QueryOutput{}
	for _, id := range ids[start:end] {
		out.Items = append(out.Items, f.items[id])
	}
	if end < len(ids) {
		last := f.items[ids[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	return out, nil
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestStore() (*DynamoStore, *fakeDynamo) {
	db := newFakeDynamo()
	s := NewDynamoStore(db, "traffic")
	s.now = func() time.Time { return fixedNow }
	return s, db
}

func TestSession_RoundTrip(t *testing.T) {
	s, db := newTestStore()
	ctx := context.Background()

	err := s.PutSession(ctx, &Session{
		ID:            "sess-1",
		Client:        "acme",
		SelectedVideo: "client_upload/video1.mp4",
		Shapes:        []vectors.LineShape{{Left: 10, Top: 20, X1: 0, Y1: 0, X2: 0, Y2: 180}},
		Labels:        []string{"N"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item := db.items["SESSION#sess-1|META"]
	ttl, ok := item["expiresAt"].(*types.AttributeValueMemberN)
	if !ok {
		t.Fatal("expected expiresAt attribute")
	}
	if ttl.Value != strconv.FormatInt(fixedNow.Add(SessionTTL).Unix(), 10) {
		t.Errorf("expected 24h TTL, got %s", ttl.Value)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected session")
	}
	if got.ID != "sess-1" || got.Client != "acme" || got.SelectedVideo != "client_upload/video1.mp4" {
		t.Errorf("unexpected session %+v", got)
	}
	if len(got.Shapes) != 1 || got.Shapes[0].Y2 != 180 {
		t.Errorf("shapes not preserved: %+v", got.Shapes)
	}
	if got.CreatedAt != fixedNow.Unix() {
		t.Errorf("expected createdAt to be set, got %d", got.CreatedAt)
	}
}

func TestGetSession_Missing(t *testing.T) {
	s, _ := newTestStore()
	got, err := s.GetSession(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", got, err)
	}
}

func TestRecordSubmission_KeepsDrawing(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	if err := s.PutSession(ctx, &Session{ID: "sess-1", Labels: []string{"N", "S"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.RecordSubmission(ctx, "sess-1", "fn-abc", fixedNow.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.GetSession(ctx, "sess-1")
	if got.LastJobName != "fn-abc" {
		t.Errorf("expected lastJobName fn-abc, got %s", got.LastJobName)
	}
	if got.LastJobAt != fixedNow.Add(time.Minute).Unix() {
		t.Errorf("unexpected lastJobAt %d", got.LastJobAt)
	}
	if len(got.Labels) != 2 {
		t.Errorf("expected labels preserved, got %v", got.Labels)
	}
}

func TestLedger_JobsPerClient(t *testing.T) {
	s, db := newTestStore()
	ctx := context.Background()

	for _, j := range []*JobRecord{
		{Client: "acme", JobName: "fn-a", InputKey: "client_upload/a.mp4"},
		{Client: "acme", JobName: "fn-b", InputKey: "client_upload/b.mp4"},
		{Client: "globex", JobName: "fn-c", InputKey: "client_upload/c.mp4"},
		{JobName: "fn-d", InputKey: "client_upload/d.mp4"},
	} {
		if err := s.PutJob(ctx, j); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := s.PutSubmission(ctx, &Submission{Client: "acme", InputKey: "client_upload/a.mp4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names, err := s.JobNamesForClient(ctx, "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || !names["fn-a"] || !names["fn-b"] {
		t.Errorf("expected fn-a and fn-b, got %v", names)
	}
	if db.queryCalls < 2 {
		t.Errorf("expected paginated queries, got %d calls", db.queryCalls)
	}

	jobs, err := s.ListJobs(ctx, "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 || jobs[0].JobName != "fn-a" || jobs[0].Client != "acme" {
		t.Errorf("unexpected jobs %+v", jobs)
	}

	unassigned, _ := s.JobNamesForClient(ctx, "")
	if !unassigned["fn-d"] {
		t.Errorf("expected fn-d under the unassigned partition, got %v", unassigned)
	}

	if _, ok := db.items["CLIENT#acme|SUBMISSION#client_upload/a.mp4"]; !ok {
		t.Error("expected submission record under the client partition")
	}
}
