package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/devblac/swap-tower/internal/metrics"
	"github.com/devblac/swap-tower/internal/storage"
)

// Notifier delivers committed anomalies to the configured sinks, at most once per
// anomaly and sink.
type Notifier struct {
	store   *storage.Store
	senders map[string]Sender
	order   []string
	bucket  *TokenBucket
	metrics *metrics.Metrics
	log     *slog.Logger
	nowFunc func() time.Time
}

// NewNotifier builds a notifier over the given senders, keyed by sink id. A nil
// bucket disables rate limiting.
func NewNotifier(store *storage.Store, senders map[string]Sender, order []string, bucket *TokenBucket, m *metrics.Metrics, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		store:   store,
		senders: senders,
		order:   order,
		bucket:  bucket,
		metrics: m,
		log:     log,
		nowFunc: time.Now,
	}
}

// Notify sends a to every sink that has not received it yet. Delivery failures are
// logged and counted; they never fail event processing.
func (n *Notifier) Notify(ctx context.Context, a storage.Anomaly) {
	if len(n.order) == 0 {
		return
	}
	if n.bucket != nil && !n.bucket.Allow(n.nowFunc()) {
		n.metrics.AlertsDropped()
		n.log.Warn("anomaly alert rate limited", "anomaly", a.ID)
		return
	}

	payload := PayloadFromAnomaly(a)
	for _, id := range n.order {
		s := n.senders[id]
		if s == nil {
			continue
		}
		sent, err := n.store.SendExists(ctx, a.ID, id)
		if err != nil {
			n.metrics.Errors()
			n.log.Error("check alert delivery", "anomaly", a.ID, "sink", id, "err", err)
			continue
		}
		if sent {
			continue
		}
		if err := s.Send(ctx, payload); err != nil {
			n.metrics.Errors()
			n.log.Error("send anomaly alert", "anomaly", a.ID, "sink", id, "err", err)
			continue
		}
		if err := n.store.InsertSend(ctx, storage.Send{AnomalyID: a.ID, SinkID: id, Status: "sent"}); err != nil {
			n.log.Error("record alert delivery", "anomaly", a.ID, "sink", id, "err", err)
			continue
		}
		n.metrics.AlertsSent()
	}
}
