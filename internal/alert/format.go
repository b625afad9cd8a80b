package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Request:* %s", event.RequestID)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Asset:* %s", event.AssetID)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", Severity(event.Type))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Message:* %s", event.Message)},
	}
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("ledgerwatch: %s", event.Type),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	details := map[string]any{
		"request_id": event.RequestID,
		"asset_id":   event.AssetID,
		"message":    event.Message,
	}
	for k, v := range event.Details {
		details[k] = v
	}
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":        fmt.Sprintf("ledgerwatch %s: %s", event.Type, event.Message),
			"severity":       Severity(event.Type),
			"source":         "ledgerwatch",
			"custom_details": details,
		},
	}
	return json.Marshal(payload)
}
