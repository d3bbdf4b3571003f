package adapter

import "encoding/json"

// TranslateLine maps one line of the tool's proprietary stream-json
// output to a canonical event. Event types with no canonical counterpart
// are dropped; unparseable lines are dropped too (the transient process
// also interleaves non-JSON noise on stdout in verbose mode).
//
// The synthesized item id for message deltas is stable per turn so the
// receiver can accumulate deltas into one item.
func TranslateLine(line, threadID, turnID string) (map[string]any, bool) {
	var event map[string]any

	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return nil, false
	}

	eventType, _ := event["type"].(string)
	msgItemID := "msg_" + turnID

	switch eventType {
	case "system":
		if subtype, _ := event["subtype"].(string); subtype != "init" {
			return nil, false
		}

		return map[string]any{
			"method": "turn/started",
			"params": map[string]any{
				"threadId": threadID,
				"turnId":   turnID,
			},
		}, true

	case "content_block_delta":
		delta, ok := event["delta"].(map[string]any)
		if !ok {
			return nil, false
		}

		if deltaType, _ := delta["type"].(string); deltaType != "text_delta" {
			// input_json_delta and friends have no canonical counterpart.
			return nil, false
		}

		text, ok := delta["text"].(string)
		if !ok {
			return nil, false
		}

		return map[string]any{
			"method": "item/agentMessage/delta",
			"params": map[string]any{
				"threadId": threadID,
				"turnId":   turnID,
				"itemId":   msgItemID,
				"delta":    text,
			},
		}, true

	case "content_block_start":
		block, ok := event["content_block"].(map[string]any)
		if !ok {
			return nil, false
		}

		if blockType, _ := block["type"].(string); blockType != "tool_use" {
			return nil, false
		}

		toolName, _ := block["name"].(string)
		if toolName == "" {
			toolName = "tool"
		}

		toolID, _ := block["id"].(string)

		return map[string]any{
			"method": "item/started",
			"params": map[string]any{
				"threadId": threadID,
				"turnId":   turnID,
				"item": map[string]any{
					"id":   toolID,
					"type": "tool_use",
					"name": toolName,
				},
			},
		}, true

	case "tool_result":
		toolUseID, _ := event["tool_use_id"].(string)

		return map[string]any{
			"method": "item/completed",
			"params": map[string]any{
				"threadId": threadID,
				"turnId":   turnID,
				"item": map[string]any{
					"id":   toolUseID,
					"type": "tool_use",
				},
			},
		}, true

	case "result":
		return map[string]any{
			"method": "turn/completed",
			"params": map[string]any{
				"threadId":   threadID,
				"turnId":     turnID,
				"costUsd":    event["cost_usd"],
				"durationMs": event["duration_ms"],
			},
		}, true

	default:
		return nil, false
	}
}

// ExtractSessionID scans one output line for the tool's initialization
// record and returns its opaque resumable session id.
func ExtractSessionID(line string) (string, bool) {
	var event map[string]any

	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return "", false
	}

	if eventType, _ := event["type"].(string); eventType != "system" {
		return "", false
	}

	if subtype, _ := event["subtype"].(string); subtype != "init" {
		return "", false
	}

	sid, ok := event["session_id"].(string)
	if !ok || sid == "" {
		return "", false
	}

	return sid, true
}

// terminalEvent is the synthesized turn/completed emitted when a turn's
// output stream ends without an explicit terminal record.
func terminalEvent(threadID, turnID string) map[string]any {
	return map[string]any{
		"method": "turn/completed",
		"params": map[string]any{
			"threadId": threadID,
			"turnId":   turnID,
		},
	}
}
