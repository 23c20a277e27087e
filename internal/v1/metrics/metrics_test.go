package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	MalformedBatchesTotal.Inc()
	if v := testutil.ToFloat64(MalformedBatchesTotal); v < 1 {
		t.Errorf("expected MalformedBatchesTotal >= 1, got %v", v)
	}

	SlowConsumerEvictionsTotal.Inc()
	if v := testutil.ToFloat64(SlowConsumerEvictionsTotal); v < 1 {
		t.Errorf("expected SlowConsumerEvictionsTotal >= 1, got %v", v)
	}

	RoomPanicsTotal.Inc()
	if v := testutil.ToFloat64(RoomPanicsTotal); v < 1 {
		t.Errorf("expected RoomPanicsTotal >= 1, got %v", v)
	}

	FlushedRoomsTotal.Inc()
	if v := testutil.ToFloat64(FlushedRoomsTotal); v < 1 {
		t.Errorf("expected FlushedRoomsTotal >= 1, got %v", v)
	}
}

func TestGaugesTrackConnectionCount(t *testing.T) {
	before := testutil.ToFloat64(ActiveWebSocketConnections)

	IncConnection()
	if v := testutil.ToFloat64(ActiveWebSocketConnections); v != before+1 {
		t.Errorf("expected ActiveWebSocketConnections to increase by 1, got %v (was %v)", v, before)
	}

	DecConnection()
	if v := testutil.ToFloat64(ActiveWebSocketConnections); v != before {
		t.Errorf("expected ActiveWebSocketConnections to return to %v, got %v", before, v)
	}
}

func TestLabeledMetricsAcceptExpectedLabels(t *testing.T) {
	RoomSubscribers.WithLabelValues("room-1").Set(3)
	if v := testutil.ToFloat64(RoomSubscribers.WithLabelValues("room-1")); v != 3 {
		t.Errorf("expected RoomSubscribers{room-1} == 3, got %v", v)
	}

	WebsocketEvents.WithLabelValues("inbound", "ok").Inc()
	if v := testutil.ToFloat64(WebsocketEvents.WithLabelValues("inbound", "ok")); v < 1 {
		t.Errorf("expected WebsocketEvents{inbound,ok} >= 1, got %v", v)
	}

	RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
	if v := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("websocket_connect", "ip")); v < 1 {
		t.Errorf("expected RateLimitExceeded{websocket_connect,ip} >= 1, got %v", v)
	}

	PersistenceOperationsTotal.WithLabelValues("save", "ok").Inc()
	if v := testutil.ToFloat64(PersistenceOperationsTotal.WithLabelValues("save", "ok")); v < 1 {
		t.Errorf("expected PersistenceOperationsTotal{save,ok} >= 1, got %v", v)
	}
}

func TestHistogramsObserveWithoutPanic(t *testing.T) {
	MessageProcessingDuration.WithLabelValues("inbound").Observe(0.01)
	PersistenceOperationDuration.WithLabelValues("save").Observe(0.02)
}
