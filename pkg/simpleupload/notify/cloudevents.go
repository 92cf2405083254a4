package notify

import (
	"context"
	"errors"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

const (
	// CloudEventTypePrefix is prepended to the event type, giving for
	// example com.simpleupload.file.uploaded.
	CloudEventTypePrefix    = "com.simpleupload."
	DefaultCloudEventSource = "simple-upload"
)

// CloudEventsSink POSTs events to a webhook using the CloudEvents HTTP binding.
type CloudEventsSink struct {
	client cloudevents.Client
	target string
	source string
}

// NewCloudEventsSink creates a sink delivering to target.
func NewCloudEventsSink(target, source string) (*CloudEventsSink, error) {
	if target == "" {
		return nil, errors.New("webhook target is required")
	}
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return newCloudEventsSink(client, target, source), nil
}

func newCloudEventsSink(client cloudevents.Client, target, source string) *CloudEventsSink {
	if source == "" {
		source = DefaultCloudEventSource
	}
	return &CloudEventsSink{client: client, target: target, source: source}
}

func (s *CloudEventsSink) Name() string { return "cloudevents" }

func (s *CloudEventsSink) Deliver(ctx context.Context, event simpleupload.Event) error {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(s.source)
	ce.SetType(CloudEventTypePrefix + string(event.Type))
	ce.SetTime(event.ReceivedAt)
	if event.StoredKey != "" {
		ce.SetSubject(event.StoredKey)
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, event); err != nil {
		return fmt.Errorf("encoding cloudevent: %w", err)
	}

	result := s.client.Send(cloudevents.ContextWithTarget(ctx, s.target), ce)
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("sending cloudevent to %s: %w", s.target, result)
	}
	return nil
}
