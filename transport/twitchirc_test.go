package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPrivmsg(t *testing.T) {
	ch, text, err := splitPrivmsg("PRIVMSG #MyChan :Scene switched to \"low\" :)")
	require.NoError(t, err)
	assert.Equal(t, "mychan", ch)
	assert.Equal(t, "Scene switched to \"low\" :)", text)

	for _, bad := range []string{"PRIVMSG mychan :hi", "PRIVMSG #mychan", "PRIVMSG"} {
		_, _, err := splitPrivmsg(bad)
		assert.Error(t, err, bad)
	}
}

func TestTwitchIRCSendLineFiltersVerbs(t *testing.T) {
	irc := NewTwitchIRC("Bot", "oauth:x", "#Chan")
	assert.Equal(t, "chan", irc.channel)
	assert.False(t, irc.Connected())

	// The library answers keep-alives itself.
	assert.NoError(t, irc.SendLine(context.Background(), "PONG :tmi.twitch.tv\r\n"))
	assert.Error(t, irc.SendLine(context.Background(), "JOIN #other"))
	assert.Error(t, irc.SendLine(context.Background(), "PRIVMSG nochannel"))
}

func TestTwitchIRCPushStopsAfterRun(t *testing.T) {
	irc := NewTwitchIRC("bot", "oauth:x", "chan")
	irc.push("@mod=0 :a!a@a PRIVMSG #chan :hi")
	assert.Equal(t, "@mod=0 :a!a@a PRIVMSG #chan :hi\r\n", <-irc.Lines())

	close(irc.done)
	for i := 0; i < cap(irc.lines)+1; i++ {
		irc.push("line") // must not block once done is closed
	}
}
