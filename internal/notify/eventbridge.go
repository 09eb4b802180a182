package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

// EventSource is the EventBridge Source for every console event.
const EventSource = "traffic-console"

// PutEventsAPI is the subset of *eventbridge.Client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSender publishes events with DetailType set to the event kind.
type EventBridgeSender struct {
	API     PutEventsAPI
	BusName string
}

func (s *EventBridgeSender) Name() string { return "eventbridge" }

func (s *EventBridgeSender) Send(ctx context.Context, e Event) error {
	detail, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Kind, err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(EventSource),
		DetailType: aws.String(string(e.Kind)),
		Detail:     aws.String(string(detail)),
	}
	if s.BusName != "" {
		entry.EventBusName = aws.String(s.BusName)
	}

	result, err := s.API.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}
	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", result.FailedEntryCount)
	}
	return nil
}
