package router

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/mailrelay/internal/chat"
	"github.com/vdavid/mailrelay/internal/models"
	"github.com/vdavid/mailrelay/internal/relay"
)

type mockResponder struct {
	mock.Mock
}

func (m *mockResponder) Respond(_ context.Context, interaction *chat.Interaction, resp chat.InteractionResponse) error {
	args := m.Called(interaction.ID, resp)
	return args.Error(0)
}

func (m *mockResponder) FollowUp(_ context.Context, interaction *chat.Interaction, content string, ephemeral bool) error {
	args := m.Called(interaction.ID, content, ephemeral)
	return args.Error(0)
}

type mockRelayer struct {
	mock.Mock
}

func (m *mockRelayer) Send(_ context.Context, req models.ActionRequest) error {
	args := m.Called(req)
	return args.Error(0)
}

func activation(id, customID string) *chat.Interaction {
	return &chat.Interaction{
		ID:        id,
		Type:      chat.InteractionMessageComponent,
		Token:     "tok-" + id,
		ChannelID: "chan-1",
		Data:      chat.InteractionData{CustomID: customID, ComponentType: chat.ComponentButton},
		Message:   &chat.Message{ID: "42", ChannelID: "chan-1"},
		Member:    &chat.Member{User: &chat.User{Username: "alice"}},
	}
}

func submission(id, flowID, context string) *chat.Interaction {
	return &chat.Interaction{
		ID:        id,
		Type:      chat.InteractionModalSubmit,
		Token:     "tok-" + id,
		ChannelID: "chan-1",
		Data: chat.InteractionData{
			CustomID: flowID,
			Components: []chat.Component{{
				Type:       chat.ComponentActionRow,
				Components: []chat.Component{{Type: chat.ComponentTextInput, CustomID: chat.ContextInputID, Value: context}},
			}},
		},
		Member: &chat.Member{User: &chat.User{Username: "bob"}},
	}
}

func isEphemeralMessage(resp chat.InteractionResponse) bool {
	return resp.Type == chat.CallbackChannelMessage && resp.Data != nil && resp.Data.Flags == chat.FlagEphemeral
}

func newTestRouter(guard *Guard) (*Router, *mockResponder, *mockRelayer, *Flows) {
	responder := &mockResponder{}
	relayer := &mockRelayer{}
	flows := NewFlows(time.Minute, zerolog.Nop())
	return NewRouter(responder, relayer, flows, guard, zerolog.Nop()), responder, relayer, flows
}

func TestRouter_ImmediateAction(t *testing.T) {
	r, responder, relayer, _ := newTestRouter(nil)

	responder.On("Respond", "i-1", chat.DeferredEphemeral()).Return(nil).Once()
	relayer.On("Send", models.ActionRequest{
		Action:        models.ActionRead,
		MessageID:     "<abc@x>",
		ChatMessageID: "42",
		ChannelID:     "chan-1",
		Context:       "",
		Author:        "alice",
	}).Return(nil).Once()
	responder.On("FollowUp", "i-1", "Forwarded read request to automation.", true).Return(nil).Once()

	r.HandleInteraction(context.Background(), activation("i-1", "read:<abc@x>"))

	responder.AssertExpectations(t)
	relayer.AssertExpectations(t)
}

func TestRouter_RenderedButtonRelaysWrappedID(t *testing.T) {
	rows, err := chat.ActionButtons("<abc@x>", "Mark as Read")
	require.NoError(t, err)
	markRead := rows[0].Components[0]

	r, responder, relayer, _ := newTestRouter(nil)
	responder.On("Respond", "i-1", chat.DeferredEphemeral()).Return(nil).Once()
	relayer.On("Send", mock.MatchedBy(func(req models.ActionRequest) bool {
		return req.Action == models.ActionRead && req.MessageID == "<abc@x>"
	})).Return(nil).Once()
	responder.On("FollowUp", "i-1", "Forwarded read request to automation.", true).Return(nil).Once()

	r.HandleInteraction(context.Background(), activation("i-1", markRead.CustomID))

	responder.AssertExpectations(t)
	relayer.AssertExpectations(t)
}

func TestRouter_MalformedToken(t *testing.T) {
	tests := []struct {
		name     string
		customID string
	}{
		{name: "no separator", customID: "read"},
		{name: "unknown action", customID: "archive:abc@x"},
		{name: "empty message id", customID: "read:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, responder, relayer, _ := newTestRouter(nil)
			responder.On("Respond", "i-1", mock.MatchedBy(isEphemeralMessage)).Return(nil).Once()

			r.HandleInteraction(context.Background(), activation("i-1", tt.customID))

			responder.AssertExpectations(t)
			relayer.AssertNotCalled(t, "Send", mock.Anything)
		})
	}
}

func TestRouter_SuggestFlow(t *testing.T) {
	r, responder, relayer, flows := newTestRouter(nil)

	var flowID string
	responder.On("Respond", "i-1", mock.MatchedBy(func(resp chat.InteractionResponse) bool {
		return resp.Type == chat.CallbackModal
	})).Run(func(args mock.Arguments) {
		flowID = args.Get(1).(chat.InteractionResponse).Data.CustomID
	}).Return(nil).Once()

	r.HandleInteraction(context.Background(), activation("i-1", "suggest:abc@x"))

	t.Run("activation alone relays nothing", func(t *testing.T) {
		require.NotEmpty(t, flowID)
		assert.Equal(t, 1, flows.Len())
		relayer.AssertNotCalled(t, "Send", mock.Anything)
	})

	t.Run("submission relays with the captured context", func(t *testing.T) {
		responder.On("Respond", "i-2", chat.DeferredEphemeral()).Return(nil).Once()
		relayer.On("Send", models.ActionRequest{
			Action:        models.ActionSuggest,
			MessageID:     "abc@x",
			ChatMessageID: "42",
			ChannelID:     "chan-1",
			Context:       "keep it short",
			Author:        "alice",
		}).Return(nil).Once()
		responder.On("FollowUp", "i-2", "Forwarded suggest request to automation.", true).Return(nil).Once()

		r.HandleInteraction(context.Background(), submission("i-2", flowID, "keep it short"))

		relayer.AssertExpectations(t)
		assert.Equal(t, 0, flows.Len())
	})

	t.Run("a second submission of the same flow is expired", func(t *testing.T) {
		responder.On("Respond", "i-3", mock.MatchedBy(isEphemeralMessage)).Return(nil).Once()

		r.HandleInteraction(context.Background(), submission("i-3", flowID, "again"))

		relayer.AssertNumberOfCalls(t, "Send", 1)
	})

	responder.AssertExpectations(t)
}

func TestRouter_ExpiredFlow(t *testing.T) {
	r, responder, relayer, flows := newTestRouter(nil)
	now := time.Now()
	flows.now = func() time.Time { return now }

	flow := flows.Begin(Flow{Action: models.ActionSuggest, EmailMessageID: "abc@x", Chat: models.ChatMessageRef{ChatMessageID: "42", ChannelID: "chan-1"}, Author: "alice"})
	now = now.Add(2 * time.Minute)

	responder.On("Respond", "i-1", mock.MatchedBy(func(resp chat.InteractionResponse) bool {
		return isEphemeralMessage(resp) && resp.Data.Content == "This request has expired. Please click the button again."
	})).Return(nil).Once()

	r.HandleInteraction(context.Background(), submission("i-1", flow.ID, "too late"))

	responder.AssertExpectations(t)
	relayer.AssertNotCalled(t, "Send", mock.Anything)
}

func TestRouter_ModalFailureDiscardsFlow(t *testing.T) {
	r, responder, _, flows := newTestRouter(nil)
	responder.On("Respond", "i-1", mock.Anything).Return(errors.New("interaction expired")).Once()

	r.HandleInteraction(context.Background(), activation("i-1", "suggest:abc@x"))

	assert.Equal(t, 0, flows.Len())
}

func TestRouter_RelayRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "status code",
			err:  &relay.RejectedError{StatusCode: 502, Reason: "Bad Gateway"},
			want: "Automation rejected the request (status 502): Bad Gateway",
		},
		{
			name: "unreachable",
			err:  &relay.RejectedError{Reason: "connection refused"},
			want: "Could not reach automation: connection refused",
		},
		{
			name: "other error",
			err:  errors.New("boom"),
			want: "Failed to forward request: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, responder, relayer, _ := newTestRouter(nil)
			responder.On("Respond", "i-1", chat.DeferredEphemeral()).Return(nil).Once()
			relayer.On("Send", mock.Anything).Return(tt.err).Once()
			responder.On("FollowUp", "i-1", tt.want, true).Return(nil).Once()

			r.HandleInteraction(context.Background(), activation("i-1", "trash:abc@x"))

			responder.AssertExpectations(t)
		})
	}
}

func TestRouter_AckFailureRelaysNothing(t *testing.T) {
	r, responder, relayer, _ := newTestRouter(nil)
	responder.On("Respond", "i-1", chat.DeferredEphemeral()).Return(errors.New("unknown interaction")).Once()

	r.HandleInteraction(context.Background(), activation("i-1", "read:abc@x"))

	relayer.AssertNotCalled(t, "Send", mock.Anything)
	responder.AssertNotCalled(t, "FollowUp", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_Guard(t *testing.T) {
	guard := NewGuard(time.Minute)
	r, responder, relayer, _ := newTestRouter(guard)

	responder.On("Respond", mock.Anything, chat.DeferredEphemeral()).Return(nil)
	responder.On("FollowUp", mock.Anything, mock.Anything, true).Return(nil)
	relayer.On("Send", mock.Anything).Return(nil).Once()

	r.HandleInteraction(context.Background(), activation("i-1", "trash:abc@x"))

	t.Run("duplicate within the window is not relayed", func(t *testing.T) {
		responder.On("Respond", "i-2", mock.MatchedBy(isEphemeralMessage)).Return(nil).Once()

		r.HandleInteraction(context.Background(), activation("i-2", "trash:<abc@x>"))

		relayer.AssertNumberOfCalls(t, "Send", 1)
	})

	t.Run("a result for the chat message clears the entry", func(t *testing.T) {
		guard.ResolveResult(models.ActionTrash, "42")
		relayer.On("Send", mock.Anything).Return(&relay.RejectedError{StatusCode: 500, Reason: "down"}).Once()

		r.HandleInteraction(context.Background(), activation("i-3", "trash:abc@x"))

		relayer.AssertNumberOfCalls(t, "Send", 2)
	})

	t.Run("a rejected relay clears the entry", func(t *testing.T) {
		relayer.On("Send", mock.Anything).Return(nil).Once()

		r.HandleInteraction(context.Background(), activation("i-4", "trash:abc@x"))

		relayer.AssertNumberOfCalls(t, "Send", 3)
	})
}

func TestRouter_IgnoresOtherInteractions(t *testing.T) {
	r, responder, relayer, _ := newTestRouter(nil)

	r.HandleInteraction(context.Background(), &chat.Interaction{ID: "i-1", Type: chat.InteractionPing})

	responder.AssertNotCalled(t, "Respond", mock.Anything, mock.Anything)
	relayer.AssertNotCalled(t, "Send", mock.Anything)
}
