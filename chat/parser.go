package chat

import "strings"

// Protocol verbs the session acts on.
const (
	CommandPrivmsg = "PRIVMSG"
	CommandPing    = "PING"
)

// Message is the decoded form of one protocol line.
//
// Exactly one shape is populated: a PRIVMSG (Tags, Command, Channel, Username, Text),
// a PING (Command, Text), or nothing at all. Raw is always kept for diagnostics.
type Message struct {
	Tags     map[string]string
	Command  string
	Channel  string
	Username string
	Text     string
	Raw      string
}

// IsZero reports whether the line did not match any known shape.
func (m Message) IsZero() bool {
	return m.Command == ""
}

// ChannelName returns the channel without its leading sigil.
func (m Message) ChannelName() string {
	return strings.TrimPrefix(m.Channel, "#")
}

// Parse decodes a raw line. It never fails; unrecognised or truncated input yields a
// Message for which IsZero is true.
func Parse(line string) Message {
	if strings.HasPrefix(line, "@") {
		if msg, ok := parseTagged(line); ok {
			return msg
		}
		return Message{Raw: line}
	}

	first, _, _ := strings.Cut(line, " ")
	if trimTerminator(first) == CommandPing {
		_, token, _ := strings.Cut(line, ":")
		return Message{Command: CommandPing, Text: trimTerminator(token), Raw: line}
	}
	return Message{Raw: line}
}

// parseTagged handles "@tags :nick!user@host VERB #channel :payload".
func parseTagged(line string) (Message, bool) {
	space := strings.IndexByte(line, ' ')
	if space < 0 {
		return Message{}, false
	}
	tags := parseTags(line[1:space])

	rest := line[space+1:]
	if !strings.HasPrefix(rest, ":") {
		return Message{}, false
	}
	bang := strings.IndexByte(rest, '!')
	if bang < 1 {
		return Message{}, false
	}
	username := rest[1:bang]
	if strings.ContainsRune(username, ' ') {
		return Message{}, false
	}

	hostEnd := strings.IndexByte(rest[bang:], ' ')
	if hostEnd < 0 {
		return Message{}, false
	}
	after := rest[bang+hostEnd+1:]

	hash := strings.IndexByte(after, '#')
	if hash < 1 {
		return Message{}, false
	}
	verb := strings.TrimSpace(after[:hash])
	if verb != CommandPrivmsg {
		return Message{}, false
	}

	// Only the first colon after the channel ends it; the payload may hold more.
	target := after[hash:]
	colon := strings.IndexByte(target, ':')
	if colon < 0 {
		return Message{}, false
	}
	channel := strings.TrimRight(target[:colon], " ")
	if len(channel) < 2 {
		return Message{}, false
	}

	return Message{
		Tags:     tags,
		Command:  verb,
		Channel:  channel,
		Username: username,
		Text:     trimTerminator(target[colon+1:]),
		Raw:      line,
	}, true
}

func parseTags(block string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(block, ";") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		tags[key] = value
	}
	return tags
}

func trimTerminator(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
