package events

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complianceai/certpipe/pkg/contracts"
)

func TestBrokerPublishReachesSubscriber(t *testing.T) {
	b := NewBroker(nil)
	c := b.subscribe()
	defer b.unsubscribe(c.id)

	b.Publish(contracts.LifecycleEvent{Type: contracts.EventExtractionComplete, CertificateID: "cert-1"})

	select {
	case ev := <-c.ch:
		assert.Equal(t, contracts.EventExtractionComplete, ev.Type)
		assert.Equal(t, "cert-1", ev.CertificateID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerDropsEventsForSlowClient(t *testing.T) {
	b := NewBroker(nil)
	c := b.subscribe()
	defer b.unsubscribe(c.id)

	// Overfill the buffer; the broker must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer*2; i++ {
			b.Publish(contracts.LifecycleEvent{Type: contracts.EventPing})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow client")
	}
	assert.Len(t, c.ch, clientBuffer)
}

func TestServeHTTPSendsConnectedFrame(t *testing.T) {
	b := NewBroker(nil)

	req := httptest.NewRequest("GET", "/events", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, "event: connected")
	assert.Contains(t, body, `"clientId"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 0, b.ClientCount())
}

func TestUnsubscribeRemovesClient(t *testing.T) {
	b := NewBroker(nil)
	c := b.subscribe()
	require.Equal(t, 1, b.ClientCount())
	b.unsubscribe(c.id)
	assert.Equal(t, 0, b.ClientCount())
}
