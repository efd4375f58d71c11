package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIncomingVariants(t *testing.T) {
	typ, p, err := DecodeIncoming([]byte(`{"type":"send_message","payload":{"conversationId":12,"content":" oi "}}`))
	require.NoError(t, err)
	assert.Equal(t, EventSendMessage, typ)
	sm, ok := p.(*SendMessagePayload)
	require.True(t, ok)
	assert.Equal(t, int64(12), sm.ConversationID)
	assert.Equal(t, " oi ", sm.Content, "content is passed through untrimmed")

	_, p, err = DecodeIncoming([]byte(`{"type":"typing","payload":{"conversationId":3}}`))
	require.NoError(t, err)
	assert.IsType(t, &TypingPayload{}, p)
}

func TestDecodeIncomingRejects(t *testing.T) {
	cases := map[string]string{
		"malformed":         `{"type":`,
		"missing type":      `{"payload":{}}`,
		"unknown type":      `{"type":"join_room","payload":{"conversationId":1}}`,
		"null payload":      `{"type":"typing","payload":null}`,
		"zero conversation": `{"type":"mark_as_read","payload":{"conversationId":0}}`,
		"author injection":  `{"type":"send_message","payload":{"conversationId":1,"content":"x","authorId":9}}`,
		"wrong type":        `{"type":"authenticate","payload":{"identityId":"7"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeIncoming([]byte(raw))
			assert.ErrorIs(t, err, ErrBadFrame)
		})
	}
}

func TestEncodeShape(t *testing.T) {
	data, err := encode(EventMessagesRead, MessagesReadPayload{ConversationID: 4, IdentityID: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"messages_read","payload":{"conversationId":4,"identityId":2}}`, string(data))
}
