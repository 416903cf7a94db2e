package server

import (
	"encoding/json"
	"fmt"

	"github.com/livetranscripts/livetranscripts/internal/session"
)

// Command is one client-to-server message. The subscriber protocol is a
// closed sum over Type; fields beyond Type are populated per variant.
type Command struct {
	Type      string                  `json:"type"`
	Focus     string                  `json:"focus,omitempty"`
	Items     []session.KnowledgeItem `json:"items,omitempty"`
	Question  string                  `json:"question,omitempty"`
	RequestID string                  `json:"request_id,omitempty"`
}

// parseCommand decodes and validates one client frame.
func parseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("server: malformed command: %w", err)
	}
	switch cmd.Type {
	case "start", "stop", "ping":
	case "set_focus":
		// An empty focus clears it; nothing further to check.
	case "set_knowledge":
	case "question":
		if cmd.Question == "" {
			return Command{}, fmt.Errorf("server: question command without question text")
		}
		if cmd.RequestID == "" {
			return Command{}, fmt.Errorf("server: question command without request_id")
		}
	case "":
		return Command{}, fmt.Errorf("server: command without type")
	default:
		return Command{}, fmt.Errorf("server: unknown command type %q", cmd.Type)
	}
	return cmd, nil
}

// dispatch applies a validated command to the hub on behalf of sub.
func (s *Server) dispatch(sub *session.Subscriber, cmd Command) {
	switch cmd.Type {
	case "start":
		if err := s.hub.Start(); err != nil {
			sub.Send(session.ErrorEvent{Type: "error", Kind: "invalid_state", Message: err.Error()})
		}
	case "stop":
		if err := s.hub.Pause(); err != nil {
			sub.Send(session.ErrorEvent{Type: "error", Kind: "invalid_state", Message: err.Error()})
		}
	case "set_focus":
		s.hub.SetFocus(cmd.Focus)
	case "set_knowledge":
		s.hub.SetKnowledge(cmd.Items)
	case "question":
		s.hub.Ask(sub, cmd.RequestID, cmd.Question)
	case "ping":
		s.hub.Ping(sub)
	}
}
