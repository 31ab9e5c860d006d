package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSDKMessages_Roles(t *testing.T) {
	cases := []struct {
		role string
		want sdk.MessageParamRole
	}{
		{"user", sdk.MessageParamRoleUser},
		{"assistant", sdk.MessageParamRoleAssistant},
		{"system", sdk.MessageParamRoleUser},
		{"", sdk.MessageParamRoleUser},
	}
	for _, tc := range cases {
		t.Run("role="+tc.role, func(t *testing.T) {
			out := toSDKMessages([]Message{{Role: tc.role, Content: "extract the pricing table"}})
			require.Len(t, out, 1)
			assert.Equal(t, tc.want, out[0].Role)
			require.Len(t, out[0].Content, 1)
			require.NotNil(t, out[0].Content[0].GetText())
			assert.Equal(t, "extract the pricing table", *out[0].Content[0].GetText())
		})
	}
}

func TestToSDKMessages_KeepsOrder(t *testing.T) {
	out := toSDKMessages([]Message{
		{Role: "user", Content: "page one"},
		{Role: "assistant", Content: "{}"},
		{Role: "user", Content: "page two"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, "page two", *out[2].Content[0].GetText())
	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks(t *testing.T) {
	out := toSDKSystemBlocks([]SystemBlock{
		{Text: "You extract structured data."},
		{Text: "schema v2", CacheControl: &CacheControl{TTL: "1h"}},
		{Text: "site context", CacheControl: &CacheControl{}},
	})
	require.Len(t, out, 3)

	assert.Equal(t, "You extract structured data.", out[0].Text)
	assert.Empty(t, out[0].CacheControl.TTL)

	assert.Equal(t, "schema v2", out[1].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), out[1].CacheControl.TTL)

	// An empty TTL still marks the block cacheable with the API default.
	assert.Equal(t, "site context", out[2].Text)
	assert.Empty(t, out[2].CacheControl.TTL)
	assert.Equal(t, sdk.NewCacheControlEphemeralParam().Type, out[2].CacheControl.Type)
}

func TestFromSDKMessage(t *testing.T) {
	cases := []struct {
		name string
		in   *sdk.Message
		want *MessageResponse
	}{
		{
			name: "text blocks and cache usage",
			in: &sdk.Message{
				ID:           "msg_01",
				Model:        "claude-haiku-4-5",
				StopReason:   "stop_sequence",
				StopSequence: "</json>",
				Content: []sdk.ContentBlockUnion{
					{Type: "text", Text: `{"plans":3}`},
					{Type: "text", Text: "done"},
				},
				Usage: sdk.Usage{InputTokens: 1200, OutputTokens: 40, CacheCreationInputTokens: 900, CacheReadInputTokens: 0},
			},
			want: &MessageResponse{
				ID:           "msg_01",
				Model:        "claude-haiku-4-5",
				StopReason:   "stop_sequence",
				StopSequence: "</json>",
				Content:      []ContentBlock{{Type: "text", Text: `{"plans":3}`}, {Type: "text", Text: "done"}},
				Usage:        TokenUsage{InputTokens: 1200, OutputTokens: 40, CacheCreationInputTokens: 900},
			},
		},
		{
			name: "truncated without content",
			in:   &sdk.Message{ID: "msg_02", StopReason: "max_tokens"},
			want: &MessageResponse{ID: "msg_02", StopReason: "max_tokens", Content: []ContentBlock{}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fromSDKMessage(tc.in))
		})
	}
}
