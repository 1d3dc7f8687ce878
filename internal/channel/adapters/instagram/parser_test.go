package instagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanalbot/kanal/internal/channel"
)

func TestParsePayloadTextMessage(t *testing.T) {
	payload := `{
	  "entry": [{
	    "messaging": [{
	      "sender": {"id": "17841400001"},
	      "message": {"mid": "mid.abc", "text": "Halo, ada promo?"}
	    }]
	  }]
	}`

	msg := ParsePayload([]byte(payload))
	require.NotNil(t, msg)
	assert.Equal(t, channel.PlatformInstagram, msg.Platform)
	assert.Equal(t, "17841400001", msg.PlatformUniqueID)
	assert.Equal(t, "Halo, ada promo?", msg.Query)
	assert.Equal(t, "mid.abc", msg.Chat.ProviderMessageID)
}

func TestParsePayloadQuickReplyFeedback(t *testing.T) {
	payload := `{
	  "entry": [{
	    "messaging": [{
	      "sender": {"id": "17841400001"},
	      "message": {
	        "mid": "mid.qr",
	        "text": "Membantu",
	        "quick_reply": {"payload": "good-7"}
	      }
	    }]
	  }]
	}`

	msg := ParsePayload([]byte(payload))
	require.NotNil(t, msg)
	assert.True(t, msg.IsFeedback())
	assert.Equal(t, "good-7", msg.Chat.Feedback)
	assert.Empty(t, msg.Query)
}

func TestParsePayloadIgnoresNonMessageEvents(t *testing.T) {
	assert.Nil(t, ParsePayload([]byte(`{"entry":[{"messaging":[]}]}`)))
	assert.Nil(t, ParsePayload([]byte(`{"entry":[]}`)))
	assert.Nil(t, ParsePayload([]byte("garbage")))
}

func TestParsePayloadMissingSenderIgnored(t *testing.T) {
	payload := `{"entry":[{"messaging":[{"message":{"mid":"m","text":"hi"}}]}]}`
	assert.Nil(t, ParsePayload([]byte(payload)))
}
