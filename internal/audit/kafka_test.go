package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ai4hf/passport/internal/db/models"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeProducer) Close() { f.closed = true }

func TestKafkaShipper_ProducesKeyedRecord(t *testing.T) {
	p := &fakeProducer{}
	ks := &KafkaShipper{client: p, topic: "passport-audit"}

	entry := &models.AuditLog{
		ID:               "a1",
		ActionType:       models.ActionUpdate,
		AffectedRelation: "model",
		AffectedRecordID: "M1",
		AffectedRecord:   json.RawMessage(`{"modelId":"M1"}`),
	}
	if err := ks.Ship(context.Background(), entry); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if len(p.records) != 1 {
		t.Fatalf("produced %d records, want 1", len(p.records))
	}
	rec := p.records[0]
	if rec.Topic != "passport-audit" {
		t.Errorf("Topic = %q", rec.Topic)
	}
	if string(rec.Key) != "model:M1" {
		t.Errorf("Key = %q, want model:M1", rec.Key)
	}
	if len(rec.Headers) != 1 || string(rec.Headers[0].Value) != "UPDATE" {
		t.Errorf("Headers = %+v", rec.Headers)
	}
	var decoded models.AuditLog
	if err := json.Unmarshal(rec.Value, &decoded); err != nil || decoded.ID != "a1" {
		t.Errorf("Value = %s, %v", rec.Value, err)
	}

	if err := ks.Close(); err != nil || !p.closed {
		t.Errorf("Close() = %v, closed = %v", err, p.closed)
	}
}

func TestKafkaShipper_ProduceError(t *testing.T) {
	brokerDown := errors.New("broker unreachable")
	ks := &KafkaShipper{client: &fakeProducer{err: brokerDown}, topic: "t"}

	err := ks.Ship(context.Background(), &models.AuditLog{ID: "a1", AffectedRelation: "model", AffectedRecordID: "M1"})
	if !errors.Is(err, brokerDown) {
		t.Errorf("Ship() error = %v, want %v", err, brokerDown)
	}
}
