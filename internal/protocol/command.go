// ABOUTME: Command tagged variant for the newline-delimited command channel.
// ABOUTME: Parses one line into a Command and encodes a Command back into a line.

package protocol

import (
	"strings"
)

// Verbs understood on the command channel.
const (
	VerbPing             = "ping"
	VerbCheckDND         = "check_dnd_status"
	VerbDNDStatus        = "dnd_status"
	VerbDisplayMessage   = "display_message"
	VerbMessageDisplayed = "message_displayed"
)

// Kind identifies which variant a Command holds.
type Kind int

const (
	KindUnknown Kind = iota
	KindPing
	KindCheckDND
	KindDNDStatus
	KindDisplayMessage
	KindMessageDisplayed
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindPing:             VerbPing,
	KindCheckDND:         VerbCheckDND,
	KindDNDStatus:        VerbDNDStatus,
	KindDisplayMessage:   VerbDisplayMessage,
	KindMessageDisplayed: VerbMessageDisplayed,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var verbKinds = map[string]Kind{
	VerbPing:             KindPing,
	VerbCheckDND:         KindCheckDND,
	VerbDNDStatus:        KindDNDStatus,
	VerbDisplayMessage:   KindDisplayMessage,
	VerbMessageDisplayed: KindMessageDisplayed,
}

// Command is a single line on the command channel.
// Verb is kept verbatim so unknown commands can be logged as received.
type Command struct {
	Kind    Kind
	Verb    string
	Payload string
}

// Ping builds a liveness command.
func Ping() Command { return Command{Kind: KindPing, Verb: VerbPing} }

// CheckDND builds a DND status request.
func CheckDND() Command { return Command{Kind: KindCheckDND, Verb: VerbCheckDND} }

// DNDStatus builds a DND status report carrying value ("0" or "1").
func DNDStatus(value string) Command {
	return Command{Kind: KindDNDStatus, Verb: VerbDNDStatus, Payload: value}
}

// DisplayMessage builds a request to show text on the agent.
func DisplayMessage(text string) Command {
	return Command{Kind: KindDisplayMessage, Verb: VerbDisplayMessage, Payload: text}
}

// MessageDisplayed builds the acknowledgement for DisplayMessage.
func MessageDisplayed() Command {
	return Command{Kind: KindMessageDisplayed, Verb: VerbMessageDisplayed}
}

// New builds a command from a raw verb and payload, resolving the Kind.
func New(verb, payload string) Command {
	return Command{Kind: kindOf(verb), Verb: verb, Payload: payload}
}

func kindOf(verb string) Kind {
	if k, ok := verbKinds[verb]; ok {
		return k
	}
	return KindUnknown
}

// Parse turns one line (without its terminator) into a Command.
// Leading whitespace and a trailing carriage return are stripped; the verb
// ends at the first ':' and everything after it is the payload, verbatim.
// A blank line parses to the zero Command, which callers skip.
func Parse(line string) Command {
	line = strings.TrimLeft(strings.TrimSuffix(line, "\r"), " \t")
	if strings.TrimSpace(line) == "" {
		return Command{}
	}

	verb, payload, found := strings.Cut(line, ":")
	if !found {
		verb = strings.TrimSpace(line)
		return Command{Kind: kindOf(verb), Verb: verb}
	}
	verb = strings.TrimSpace(verb)
	return Command{Kind: kindOf(verb), Verb: verb, Payload: payload}
}

// IsZero reports whether c came from a blank line.
func (c Command) IsZero() bool {
	return c.Verb == "" && c.Payload == ""
}

// Line renders the command as it appears on the wire, without the newline.
func (c Command) Line() string {
	if c.Payload == "" {
		return c.Verb
	}
	return c.Verb + ":" + c.Payload
}

// Encode renders the command with its '\n' terminator.
// It refuses payloads that would break line framing.
func (c Command) Encode() ([]byte, error) {
	if c.Verb == "" {
		return nil, ErrEmptyVerb
	}
	if strings.ContainsAny(c.Verb, ":\r\n") {
		return nil, ErrInvalidVerb
	}
	if strings.ContainsAny(c.Payload, "\r\n") {
		return nil, ErrEmbeddedNewline
	}
	return []byte(c.Line() + "\n"), nil
}

func (c Command) String() string {
	return c.Line()
}
