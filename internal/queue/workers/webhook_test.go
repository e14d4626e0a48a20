package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/esignature/internal/queue"
	"github.com/nikhilbhutani/esignature/internal/webhook"
)

type spyDeliverer struct {
	got []webhook.DeliveryRequest
	err error
}

func (s *spyDeliverer) Deliver(_ context.Context, req webhook.DeliveryRequest) error {
	s.got = append(s.got, req)
	return s.err
}

func TestWebhookWorker(t *testing.T) {
	spy := &spyDeliverer{}
	w := NewWebhookWorker(spy)
	id := uuid.New()
	data, _ := json.Marshal(queue.WebhookDeliverPayload{
		WebhookID: id.String(), URL: "https://example.com/hook", Secret: "s", Event: "document.signed", Payload: `{"a":1}`,
	})

	if err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeWebhookDeliver, data)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if len(spy.got) != 1 || spy.got[0].WebhookID != id || string(spy.got[0].Payload) != `{"a":1}` || spy.got[0].Attempt != 1 {
		t.Errorf("delivered = %+v", spy.got)
	}

	spy.err = errors.New("endpoint down")
	if err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeWebhookDeliver, data)); err == nil {
		t.Error("delivery failure not returned for retry")
	}

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeWebhookDeliver, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload err = %v, want SkipRetry", err)
	}
}
