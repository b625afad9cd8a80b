package alert

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []AlertConfig
	logger  *zap.Logger
	sender  *sender
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty; a nil Dispatcher drops every event.
func NewDispatcher(configs []AlertConfig, logger *zap.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{configs: configs, logger: logger, sender: newSender(&http.Client{Timeout: requestTimeout})}
}

// Dispatch sends the event to all webhooks whose Events list contains its
// type. Sends run in their own goroutines and do not block the caller.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		go func(cfg AlertConfig) {
			ctx, cancel := context.WithTimeout(context.Background(), maxRetries*(requestTimeout+maxRetries*time.Second))
			defer cancel()
			if err := d.sender.send(ctx, cfg, event); err != nil {
				d.logger.Warn("alert delivery failed",
					zap.String("url", cfg.URL),
					zap.String("event", event.Type),
					zap.Error(err))
			}
		}(cfg)
	}
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Type || e == "*" {
			return true
		}
	}
	return false
}
