package services

import "strings"

// CommandKind identifies a recognized chat command
type CommandKind string

const (
	CmdNew       CommandKind = "new"
	CmdCancel    CommandKind = "cancel"
	CmdReanalyze CommandKind = "reanalyze"
	CmdConfirm   CommandKind = "confirm"
	CmdConfig    CommandKind = "config"
	CmdStatus    CommandKind = "status"
)

// InboundEvent is a chat event already parsed at the boundary, so the
// orchestrator never touches an untyped payload
type InboundEvent interface {
	isInboundEvent()
}

// EventMeta is the routing information common to every inbound event
type EventMeta struct {
	GroupID   string
	SenderID  string
	MessageID string
}

// ImageEvent is one inbound product photo
type ImageEvent struct {
	EventMeta
	MimeType string
	Data     []byte
}

// TextEvent is free-form text: key=value overrides or a guided-dialog answer
type TextEvent struct {
	EventMeta
	Body string
}

// CommandEvent is one of the recognized commands
type CommandEvent struct {
	EventMeta
	Kind CommandKind
	Args []string
}

func (ImageEvent) isInboundEvent()   {}
func (TextEvent) isInboundEvent()    {}
func (CommandEvent) isInboundEvent() {}

// commandWords maps the Portuguese and English command spellings
var commandWords = map[string]CommandKind{
	"new":        CmdNew,
	"novo":       CmdNew,
	"nova":       CmdNew,
	"cancel":     CmdCancel,
	"cancelar":   CmdCancel,
	"reanalyze":  CmdReanalyze,
	"reanalisar": CmdReanalyze,
	"confirm":    CmdConfirm,
	"confirmar":  CmdConfirm,
	"config":     CmdConfig,
	"status":     CmdStatus,
}

// ParseText classifies a text body into a CommandEvent or a TextEvent
func ParseText(meta EventMeta, body string) InboundEvent {
	fields := strings.Fields(strings.TrimSpace(body))
	if len(fields) > 0 {
		if kind, ok := commandWords[strings.ToLower(fields[0])]; ok {
			// Only config takes arguments; any other command word with
			// trailing text is treated as free text
			if kind == CmdConfig || len(fields) == 1 {
				return CommandEvent{EventMeta: meta, Kind: kind, Args: fields[1:]}
			}
		}
	}
	return TextEvent{EventMeta: meta, Body: body}
}

// ParseOverrides extracts key=value lines from free-form text.
// Last write wins per key; lines without '=' are ignored.
func ParseOverrides(body string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		if key == "" || value == "" {
			continue
		}
		out[strings.ToLower(key)] = value
	}
	return out
}
