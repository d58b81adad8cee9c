package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJS struct {
	subject string
	payload []byte
	opts    int
	err     error
}

func (f *fakeJS) Publish(_ context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subject = subject
	f.payload = payload
	f.opts = len(opts)
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: "ROUTER_EVENTS", Sequence: 1}, nil
}

func TestSubject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "router.T1.message.received", Subject("router", "T1", TypeMessageReceived))
	assert.Equal(t, "router.acme_tr.automation.failed", Subject("router", "acme.tr", TypeAutomationFailed))
	assert.Equal(t, "router._.message.received", Subject("router", "", TypeMessageReceived))
	assert.Equal(t, "router.a__b.x", Subject("router", "a*>b", "x"))
}

func TestJetStreamPublish(t *testing.T) {
	t.Parallel()

	js := &fakeJS{}
	p := &JetStreamPublisher{js: js, prefix: "router", logger: zerolog.Nop()}

	err := p.Publish(context.Background(), Event{
		Type:           TypeAutomationTriggered,
		TenantID:       "T1",
		Platform:       "whatsapp",
		ConversationID: "c1",
		AutomationID:   "r1",
	})
	require.NoError(t, err)
	assert.Equal(t, "router.T1.automation.triggered", js.subject)
	assert.Equal(t, 1, js.opts, "message id option")

	var got Event
	require.NoError(t, json.Unmarshal(js.payload, &got))
	_, err = ulid.Parse(got.ID)
	assert.NoError(t, err)
	assert.False(t, got.OccurredAt.IsZero())
	assert.Equal(t, "r1", got.AutomationID)
}

func TestJetStreamPublishError(t *testing.T) {
	t.Parallel()

	p := &JetStreamPublisher{js: &fakeJS{err: errors.New("no responders")}, prefix: "router", logger: zerolog.Nop()}
	err := p.Publish(context.Background(), Event{Type: TypeMessageReceived, TenantID: "T1"})
	assert.Error(t, err)
	assert.NotPanics(t, p.Close)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	p.Close()
}
