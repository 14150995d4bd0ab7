package chat

import "strings"

// SenderClass is the set of trust classes a message sender holds.
type SenderClass uint8

const (
	ClassPublic SenderClass = 1 << iota
	ClassModerator
	ClassAdmin
	ClassOwner
)

// Has reports whether every class in c2 is held.
func (c SenderClass) Has(c2 SenderClass) bool {
	return c&c2 == c2
}

// Privileged reports whether the sender is exempt from the cooldown gate.
func (c SenderClass) Privileged() bool {
	return c&(ClassOwner|ClassAdmin) != 0
}

func (c SenderClass) String() string {
	var parts []string
	for _, n := range []struct {
		class SenderClass
		name  string
	}{
		{ClassOwner, "owner"},
		{ClassAdmin, "admin"},
		{ClassModerator, "moderator"},
		{ClassPublic, "public"},
	} {
		if c.Has(n.class) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Classify derives the sender class of a PRIVMSG from its tags, the channel identity and
// the configured admin allow-list (lower-cased logins).
func Classify(msg Message, admins map[string]struct{}) SenderClass {
	var class SenderClass
	user := strings.ToLower(msg.Username)
	badges := msg.Tags["badges"]

	if (user != "" && user == strings.ToLower(msg.ChannelName())) || hasBadge(badges, "broadcaster") {
		class |= ClassOwner | ClassModerator
	}
	if msg.Tags["mod"] == "1" || hasBadge(badges, "moderator") {
		class |= ClassModerator
	}
	if _, ok := admins[user]; ok && user != "" {
		class |= ClassAdmin
	}
	if class == 0 {
		class = ClassPublic
	}
	return class
}

// hasBadge checks a badges tag value such as "broadcaster/1,subscriber/12".
func hasBadge(badges, name string) bool {
	for _, b := range strings.Split(badges, ",") {
		if n, _, _ := strings.Cut(b, "/"); n == name {
			return true
		}
	}
	return false
}

// AdminSet builds the lookup used by Classify.
func AdminSet(users []string) map[string]struct{} {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		u = strings.ToLower(strings.TrimSpace(u))
		if u != "" {
			set[u] = struct{}{}
		}
	}
	return set
}
