package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/mailrelay/internal/models"
)

func TestActionButtons(t *testing.T) {
	rows, err := ActionButtons("<abc@example.com>", "Mark as Read")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Components, 3)

	var actions []models.Action
	for _, button := range rows[0].Components {
		assert.Equal(t, ComponentButton, button.Type)
		token, err := models.DecodeToken(button.CustomID)
		require.NoError(t, err)
		assert.Equal(t, "<abc@example.com>", token.MessageID, "the message id is carried verbatim")
		actions = append(actions, token.Action)
	}
	assert.Equal(t, []models.Action{models.ActionRead, models.ActionTrash, models.ActionSuggest}, actions)
	assert.Equal(t, "Mark as Read", rows[0].Components[0].Label)

	t.Run("rejects ids too long for a custom id", func(t *testing.T) {
		_, err := ActionButtons(strings.Repeat("a", models.MaxTokenLength), "Mark as Read")
		assert.Error(t, err)
	})
}

func button(customID, label string) Component {
	return Component{Type: ComponentButton, CustomID: customID, Label: label, Style: int(ButtonPrimary)}
}

func TestRemoveMarkRead(t *testing.T) {
	t.Run("removes by label", func(t *testing.T) {
		rows := []Component{{
			Type: ComponentActionRow,
			Components: []Component{
				button("custom-1", "Mark as Read"),
				button("trash:abc@x", "Trash"),
			},
		}}

		got := RemoveMarkRead(rows, "Mark as Read")
		require.Len(t, got, 1)
		require.Len(t, got[0].Components, 1)
		assert.Equal(t, "Trash", got[0].Components[0].Label)
		assert.Len(t, rows[0].Components, 2, "input must not be mutated")
	})

	t.Run("removes by token when the label differs", func(t *testing.T) {
		rows := []Component{{
			Type:       ComponentActionRow,
			Components: []Component{button("read:abc@x", "Gelesen"), button("suggest:abc@x", "Suggest")},
		}}

		got := RemoveMarkRead(rows, "Mark as Read")
		require.Len(t, got[0].Components, 1)
		assert.Equal(t, "suggest:abc@x", got[0].Components[0].CustomID)
	})

	t.Run("drops rows left empty", func(t *testing.T) {
		rows := []Component{
			{Type: ComponentActionRow, Components: []Component{button("read:abc@x", "Mark as Read")}},
			{Type: ComponentActionRow, Components: []Component{button("trash:abc@x", "Trash")}},
		}

		got := RemoveMarkRead(rows, "Mark as Read")
		require.Len(t, got, 1)
		assert.Equal(t, "Trash", got[0].Components[0].Label)
	})

	t.Run("no controls", func(t *testing.T) {
		assert.Empty(t, RemoveMarkRead(nil, "Mark as Read"))
	})
}

func TestContextModal(t *testing.T) {
	resp := ContextModal("flow-1")
	assert.Equal(t, CallbackModal, resp.Type)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "flow-1", resp.Data.CustomID)

	input := resp.Data.Components[0].Components[0]
	assert.Equal(t, ComponentTextInput, input.Type)
	assert.Equal(t, ContextInputID, input.CustomID)
	require.NotNil(t, input.Required)
	assert.False(t, *input.Required)
}

func TestInteraction_TextInputValue(t *testing.T) {
	interaction := &Interaction{Data: InteractionData{Components: []Component{{
		Type:       ComponentActionRow,
		Components: []Component{{Type: ComponentTextInput, CustomID: ContextInputID, Value: "be brief"}},
	}}}}

	assert.Equal(t, "be brief", interaction.TextInputValue(ContextInputID))
	assert.Empty(t, interaction.TextInputValue("other"))
}

func TestInteraction_Author(t *testing.T) {
	assert.Equal(t, "alice", (&Interaction{Member: &Member{User: &User{Username: "alice"}}}).Author())
	assert.Equal(t, "bob", (&Interaction{User: &User{Username: "bob"}}).Author())
	assert.Empty(t, (&Interaction{}).Author())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "äöü…", Truncate("äöüßxyz", 4))
}

func TestSplitContent(t *testing.T) {
	assert.Nil(t, SplitContent("   ", 10))
	assert.Equal(t, []string{"one"}, SplitContent("one", 10))
	assert.Equal(t, []string{"line one", "line two"}, SplitContent("line one\nline two", 10))
	assert.Equal(t, []string{"abcdefghij", "klm"}, SplitContent("abcdefghijklm", 10))

	chunks := SplitContent(strings.Repeat("word ", 1000), MaxContentLength)
	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), MaxContentLength)
	}
}
