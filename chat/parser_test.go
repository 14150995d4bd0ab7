package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTaggedPrivmsg(t *testing.T) {
	line := "@badge-info=;mod=1 :alice!alice@alice.tmi.twitch.tv PRIVMSG #mychan :hello:world\r\n"
	msg := Parse(line)

	assert.Equal(t, map[string]string{"badge-info": "", "mod": "1"}, msg.Tags)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, CommandPrivmsg, msg.Command)
	assert.Equal(t, "#mychan", msg.Channel)
	assert.Equal(t, "mychan", msg.ChannelName())
	assert.Equal(t, "hello:world", msg.Text)
	assert.Equal(t, line, msg.Raw)
	assert.False(t, msg.IsZero())
}

func TestParsePing(t *testing.T) {
	msg := Parse("PING :tmi.twitch.tv\r\n")
	assert.Equal(t, CommandPing, msg.Command)
	assert.Equal(t, "tmi.twitch.tv", msg.Text)
	assert.Empty(t, msg.Username)
	assert.Nil(t, msg.Tags)
}

func TestParseTerminatorOptional(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"crlf", "@a=1 :bob!bob@bob PRIVMSG #c :!start\r\n", "!start"},
		{"lf", "@a=1 :bob!bob@bob PRIVMSG #c :!start\n", "!start"},
		{"none", "@a=1 :bob!bob@bob PRIVMSG #c :!start", "!start"},
		{"ping none", "PING :tmi.twitch.tv", "tmi.twitch.tv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.line).Text)
		})
	}
}

func TestParseTags(t *testing.T) {
	t.Run("empty block", func(t *testing.T) {
		msg := Parse("@ :bob!bob@bob PRIVMSG #c :hi\r\n")
		assert.Equal(t, CommandPrivmsg, msg.Command)
		assert.NotNil(t, msg.Tags)
		assert.Empty(t, msg.Tags)
	})
	t.Run("value keeps later equals signs", func(t *testing.T) {
		msg := Parse("@a=b=c;flag;;x= :bob!bob@bob PRIVMSG #c :hi\r\n")
		assert.Equal(t, map[string]string{"a": "b=c", "flag": "", "x": ""}, msg.Tags)
	})
}

func TestParseNonMatching(t *testing.T) {
	for _, line := range []string{
		"",
		"\r\n",
		"garbage",
		":tmi.twitch.tv 001 bot :Welcome, GLHF!\r\n",
		"@badges= :tmi.twitch.tv USERNOTICE #chan :raid\r\n",
		"@badges= :bob!bob@bob USERNOTICE #chan :sub\r\n",
		"@badges= :bob!bob@bob PRIVMSG #chan\r\n",
		"@badges=;mod=0",
		"@badges= bob!bob@bob PRIVMSG #chan :hi\r\n",
	} {
		msg := Parse(line)
		assert.True(t, msg.IsZero(), "line %q", line)
		assert.Empty(t, msg.Username, "line %q", line)
		assert.Nil(t, msg.Tags, "line %q", line)
		assert.Equal(t, line, msg.Raw)
	}
}

func TestClassify(t *testing.T) {
	admins := AdminSet([]string{" Helper ", ""})
	tests := []struct {
		name string
		line string
		want SenderClass
	}{
		{"owner by login", "@mod=0 :MyChan!mychan@mychan PRIVMSG #mychan :!start", ClassOwner | ClassModerator},
		{"owner by badge", "@badges=broadcaster/1 :someone!x@x PRIVMSG #mychan :!start", ClassOwner | ClassModerator},
		{"moderator tag", "@mod=1 :modder!x@x PRIVMSG #mychan :!refresh", ClassModerator},
		{"moderator badge", "@badges=moderator/1,subscriber/3 :modder!x@x PRIVMSG #mychan :!refresh", ClassModerator},
		{"admin", "@mod=0 :helper!x@x PRIVMSG #mychan :!start", ClassAdmin},
		{"admin and mod", "@mod=1 :helper!x@x PRIVMSG #mychan :!start", ClassAdmin | ClassModerator},
		{"public", "@mod=0;badges=subscriber/12 :viewer!x@x PRIVMSG #mychan :!bitrate", ClassPublic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Parse(tt.line), admins)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestSenderClassString(t *testing.T) {
	assert.Equal(t, "owner|moderator", (ClassOwner | ClassModerator).String())
	assert.Equal(t, "public", ClassPublic.String())
	assert.Equal(t, "none", SenderClass(0).String())
	assert.True(t, ClassAdmin.Privileged())
	assert.False(t, ClassModerator.Privileged())
}
