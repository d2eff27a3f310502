package server

import (
	"encoding/json"
	"fmt"

	"github.com/collabboard/backend/internal/collab"
)

// Wire framing for the websocket: every message in either direction is a
// JSON object carrying an event name and its payload.
type clientFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type serverFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type joinDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

type leaveDocumentPayload struct {
	DocumentID string `json:"documentId"`
}

type textChangePayload struct {
	DocumentID string          `json:"documentId"`
	Content    string          `json:"content"`
	Operation  json.RawMessage `json:"operation"`
}

type cursorMovePayload struct {
	DocumentID string `json:"documentId"`
	Position   int    `json:"position"`
}

type saveDocumentPayload struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

// parseClientCommand decodes one inbound frame into a typed command.
func parseClientCommand(data []byte) (collab.ClientCommand, error) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch frame.Type {
	case "join-document":
		var payload joinDocumentPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed join-document payload: %w", err)
		}
		return collab.JoinDocument{DocumentID: payload.DocumentID}, nil
	case "leave-document":
		var payload leaveDocumentPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed leave-document payload: %w", err)
		}
		return collab.LeaveDocument{DocumentID: payload.DocumentID}, nil
	case "text-change":
		var payload textChangePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed text-change payload: %w", err)
		}
		return collab.TextChange{
			DocumentID: payload.DocumentID,
			Content:    payload.Content,
			Operation:  payload.Operation,
		}, nil
	case "cursor-move":
		var payload cursorMovePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed cursor-move payload: %w", err)
		}
		return collab.CursorMove{DocumentID: payload.DocumentID, Position: payload.Position}, nil
	case "save-document":
		var payload saveDocumentPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return nil, fmt.Errorf("malformed save-document payload: %w", err)
		}
		return collab.SaveDocument{DocumentID: payload.DocumentID, Content: payload.Content}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", frame.Type)
	}
}
