package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"bindery/internal/platform/models"
)

// Handler executes one action attempt. The returned output bag is
// recorded on the execution's ActionResult and becomes visible to later
// actions under actionResults.<actionId>.
type Handler func(ctx context.Context, action models.WorkflowAction, ec *ExecContext) (map[string]interface{}, error)

// EventSink receives events emitted by EMIT_EVENT actions. The webhook
// manager satisfies this.
type EventSink interface {
	Emit(event *models.WebhookEvent) ([]string, error)
}

const httpBodyExcerptLimit = 4096

func (e *Engine) registerBuiltins() {
	e.handlers[models.ActionHTTPRequest] = e.handleHTTPRequest
	e.handlers[models.ActionWait] = e.handleWait
	e.handlers[models.ActionConditional] = e.handleConditional
	e.handlers[models.ActionCustomScript] = e.handleCustomScript
	e.handlers[models.ActionEmitEvent] = e.handleEmitEvent
	e.handlers[models.ActionNotification] = e.handleNotification
}

// handleHTTPRequest issues an HTTP call with interpolated url, headers,
// and body. A response >= 400 is an error so the retry policy applies.
func (e *Engine) handleHTTPRequest(ctx context.Context, action models.WorkflowAction, ec *ExecContext) (map[string]interface{}, error) {
	cfg := Interpolate(action.Config, ec).(map[string]interface{})

	rawURL, _ := cfg["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("http_request action %s: url is required", action.ID)
	}
	method, _ := cfg["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	switch b := cfg["body"].(type) {
	case string:
		if b != "" {
			body = bytes.NewReader([]byte(b))
		}
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("http_request action %s: encoding body: %w", action.ID, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := cfg["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, httpBodyExcerptLimit))

	out := map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("http_request action %s: %s returned %d", action.ID, rawURL, resp.StatusCode)
	}
	return out, nil
}

// handleWait blocks for the configured duration_ms, capped by the
// engine's max wait and aborted by the per-action timeout.
func (e *Engine) handleWait(ctx context.Context, action models.WorkflowAction, ec *ExecContext) (map[string]interface{}, error) {
	ms, ok := numberConfig(action.Config, "duration_ms")
	if !ok || ms < 0 {
		return nil, fmt.Errorf("wait action %s: duration_ms is required", action.ID)
	}
	d := time.Duration(ms) * time.Millisecond
	if e.maxWait > 0 && d > e.maxWait {
		d = e.maxWait
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]interface{}{"waited_ms": int64(d / time.Millisecond)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleConditional evaluates ordered branches and reports the first
// match's target in next_action_id; the interpreter advances on it.
func (e *Engine) handleConditional(ctx context.Context, action models.WorkflowAction, ec *ExecContext) (map[string]interface{}, error) {
	for _, branch := range action.ConditionalBranches {
		if EvalCondition(branch.Condition, ec) {
			return map[string]interface{}{
				"matched":        true,
				"condition":      branch.Condition,
				"next_action_id": branch.NextActionID,
			}, nil
		}
	}
	next := ""
	if len(action.NextActions) > 0 {
		next = action.NextActions[0]
	}
	return map[string]interface{}{"matched": false, "next_action_id": next}, nil
}

// handleCustomScript defers to the pluggable hook.
func (e *Engine) handleCustomScript(ctx context.Context, action models.WorkflowAction, ec *ExecContext) (map[string]interface{}, error) {
	if e.scriptHook == nil {
		return nil, fmt.Errorf("custom_script action %s: no script hook registered", action.ID)
	}
	cfg := Interpolate(action.Config, ec).(map[string]interface{})
	return e.scriptHook(ctx, cfg, ec)
}

// handleEmitEvent republishes a platform event through the event sink,
// feeding it back into webhook delivery.
func (e *Engine) handleEmitEvent(ctx context.Context, action models.WorkflowAction, ec *ExecContext) (map[string]interface{}, error) {
	if e.sink == nil {
		return nil, fmt.Errorf("emit_event action %s: no event sink configured", action.ID)
	}
	cfg := Interpolate(action.Config, ec).(map[string]interface{})
	eventType, _ := cfg["event_type"].(string)
	if eventType == "" {
		return nil, fmt.Errorf("emit_event action %s: event_type is required", action.ID)
	}
	data, _ := cfg["data"].(map[string]interface{})

	tenantID, _ := ec.Variables["tenant_id"].(string)
	ids, err := e.sink.Emit(&models.WebhookEvent{
		TenantID: tenantID,
		Type:     eventType,
		Data:     data,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"event_type": eventType, "deliveries": len(ids)}, nil
}

// handleNotification records a rendered message. Actual channel fan-out
// (email, sms) is an external collaborator; the output carries what it
// needs.
func (e *Engine) handleNotification(ctx context.Context, action models.WorkflowAction, ec *ExecContext) (map[string]interface{}, error) {
	cfg := Interpolate(action.Config, ec).(map[string]interface{})
	message, _ := cfg["message"].(string)
	if message == "" {
		return nil, fmt.Errorf("notification action %s: message is required", action.ID)
	}
	channel, _ := cfg["channel"].(string)
	if channel == "" {
		channel = "log"
	}
	recipient, _ := cfg["recipient"].(string)

	log.Info().
		Str("action_id", action.ID).
		Str("channel", channel).
		Str("message", message).
		Msg("workflow notification")
	return map[string]interface{}{"channel": channel, "recipient": recipient, "message": message}, nil
}

func numberConfig(cfg map[string]interface{}, key string) (int64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
