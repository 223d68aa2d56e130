package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taku247/long-trader-sub006/ledger"
)

// WebhookNotifier POSTs lifecycle events to an HTTP endpoint, rate limited so
// a large run cannot flood the receiver. Events over the limit are dropped,
// not queued; the log notifier should run alongside as the durable record.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewWebhookNotifier creates a webhook notifier. eventsPerMinute <= 0 disables
// rate limiting.
func NewWebhookNotifier(url string, eventsPerMinute int, log *zap.SugaredLogger) *WebhookNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if eventsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(eventsPerMinute)), eventsPerMinute)
	}
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		logger:  log.Named("webhook"),
	}
}

func (n *WebhookNotifier) TaskStarted(task *ledger.StrategyTask) {
	n.post(taskEvent(EventTaskStarted, task))
}

func (n *WebhookNotifier) TaskCompleted(task *ledger.StrategyTask) {
	ev := taskEvent(EventTaskCompleted, task)
	ev.Detail = string(task.ResultStatus)
	n.post(ev)
}

func (n *WebhookNotifier) TaskFailed(task *ledger.StrategyTask, kind string, detail string) {
	ev := taskEvent(EventTaskFailed, task)
	ev.ErrorKind = kind
	ev.Detail = detail
	n.post(ev)
}

func (n *WebhookNotifier) TaskSkipped(executionID, taskID, detail string) {
	n.post(Event{
		Type:        EventTaskSkipped,
		ExecutionID: executionID,
		TaskID:      taskID,
		Detail:      detail,
	})
}

func (n *WebhookNotifier) RunFinished(executionID string, status ledger.RunStatus, progress ledger.Progress) {
	n.post(Event{
		Type:        EventRunFinished,
		ExecutionID: executionID,
		Status:      string(status),
	})
}

// post delivers asynchronously. Rate-limited events and transport errors are
// logged and dropped.
func (n *WebhookNotifier) post(ev Event) {
	if !n.limiter.Allow() {
		n.logger.Debugw("Notification dropped by rate limit", "type", ev.Type)
		return
	}

	go func() {
		body, err := json.Marshal(ev)
		if err != nil {
			n.logger.Errorw("Failed to encode notification", "type", ev.Type, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			n.logger.Errorw("Failed to build notification request", "type", ev.Type, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.logger.Warnw("Notification delivery failed", "type", ev.Type, "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			n.logger.Warnw("Notification rejected by receiver",
				"type", ev.Type, "status_code", resp.StatusCode)
		}
	}()
}
