package dify

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/papercomputeco/scout/pkg/upstream"
)

const (
	dataPrefix  = "data:"
	doneMarker  = "[DONE]"
	eventField  = "event"
	answerField = "answer"
	convField   = "conversation_id"
)

// DecodeLine maps one raw line of the chat-messages stream to zero or more
// normalized events. Blank lines, heartbeats, unknown event types, tool calls
// for unrecognized tools and malformed records all decode to nothing.
func DecodeLine(line string) []upstream.Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if rest, ok := strings.CutPrefix(trimmed, dataPrefix); ok {
		trimmed = strings.TrimSpace(rest)
	}
	if trimmed == doneMarker {
		return []upstream.Event{{Kind: upstream.KindTerminal}}
	}
	if !gjson.Valid(trimmed) {
		return nil
	}

	record := gjson.Parse(trimmed)
	if !record.IsObject() {
		return nil
	}

	switch record.Get(eventField).String() {
	case "message", "agent_message":
		var events []upstream.Event
		if conv := record.Get(convField).String(); conv != "" {
			events = append(events, upstream.Event{Kind: upstream.KindConversationAssigned, ConversationID: conv})
		}
		if answer := record.Get(answerField).String(); answer != "" {
			events = append(events, upstream.Event{Kind: upstream.KindToken, Text: answer})
		}
		return events

	case "message_end", "workflow_finished":
		return []upstream.Event{{Kind: upstream.KindTerminal}}

	case "conversation":
		if conv := record.Get(convField).String(); conv != "" {
			return []upstream.Event{{Kind: upstream.KindConversationAssigned, ConversationID: conv}}
		}
		return nil

	case "tool_call":
		call := decodeToolCall(record)
		if call == nil || call.Name != upstream.ToolPickCompanies {
			return nil
		}
		return []upstream.Event{{Kind: upstream.KindToolCall, ToolCall: call}}

	case "error":
		msg := record.Get("message").String()
		if msg == "" {
			msg = "upstream error"
		}
		return []upstream.Event{{Kind: upstream.KindError, Err: errors.New(msg)}}

	default:
		return nil
	}
}

// decodeToolCall reads tool call fields from the record's "data" object,
// falling back to the record itself. Arguments come from the "arguments"
// object or, failing that, the JSON-encoded "input" string.
func decodeToolCall(record gjson.Result) *upstream.ToolCall {
	node := record.Get("data")
	if !node.IsObject() {
		node = record
	}

	name := node.Get("tool_name")
	if !name.Exists() || name.Type == gjson.Null {
		return nil
	}

	call := &upstream.ToolCall{
		Name:      name.String(),
		CallID:    node.Get("tool_call_id").String(),
		MessageID: node.Get("message_id").String(),
		Arguments: map[string]any{},
	}

	args := node.Get("arguments")
	if !args.Exists() || args.Type == gjson.Null {
		if input := node.Get("input"); input.Type == gjson.String && gjson.Valid(input.Str) {
			args = gjson.Parse(input.Str)
		}
	}
	if args.IsObject() {
		args.ForEach(func(key, value gjson.Result) bool {
			call.Arguments[key.String()] = value.Value()
			return true
		})
	}

	return call
}
