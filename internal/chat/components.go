package chat

import (
	"strings"

	"github.com/vdavid/mailrelay/internal/models"
)

// ActionButtons renders the controls posted under an announced email.
// Each button's custom id is the encoded ActionToken for its action.
func ActionButtons(messageID, markReadLabel string) ([]Component, error) {
	buttons := []struct {
		action models.Action
		label  string
		style  ButtonStyle
	}{
		{models.ActionRead, markReadLabel, ButtonPrimary},
		{models.ActionTrash, "Trash", ButtonDanger},
		{models.ActionSuggest, "Suggest Answer", ButtonSecondary},
	}

	row := Component{Type: ComponentActionRow}
	for _, b := range buttons {
		token, err := models.ActionToken{Action: b.action, MessageID: messageID}.Encode()
		if err != nil {
			return nil, err
		}
		row.Components = append(row.Components, Component{
			Type:     ComponentButton,
			CustomID: token,
			Label:    b.label,
			Style:    int(b.style),
		})
	}
	return []Component{row}, nil
}

// RemoveMarkRead returns a copy of rows without the "mark read" button.
// A button matches when its label contains markReadLabel or its token decodes to the read action.
// Rows left empty are dropped.
func RemoveMarkRead(rows []Component, markReadLabel string) []Component {
	result := make([]Component, 0, len(rows))
	for _, row := range rows {
		if row.Type != ComponentActionRow {
			result = append(result, row)
			continue
		}

		kept := make([]Component, 0, len(row.Components))
		for _, c := range row.Components {
			if isMarkRead(c, markReadLabel) {
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			continue
		}
		row.Components = kept
		result = append(result, row)
	}
	return result
}

func isMarkRead(c Component, markReadLabel string) bool {
	if c.Type != ComponentButton {
		return false
	}
	if markReadLabel != "" && strings.Contains(c.Label, markReadLabel) {
		return true
	}
	token, err := models.DecodeToken(c.CustomID)
	return err == nil && token.Action == models.ActionRead
}

// ContextModal builds the modal that collects free text before a suggestion is relayed.
// customID is the key of the pending flow.
func ContextModal(customID string) InteractionResponse {
	required := false
	return InteractionResponse{
		Type: CallbackModal,
		Data: &InteractionResponseData{
			CustomID: customID,
			Title:    "Provide Context",
			Components: []Component{{
				Type: ComponentActionRow,
				Components: []Component{{
					Type:        ComponentTextInput,
					CustomID:    ContextInputID,
					Label:       "Additional Context",
					Placeholder: "Enter any additional context or instructions...",
					Style:       int(TextInputParagraph),
					Required:    &required,
					MaxLength:   1000,
				}},
			}},
		},
	}
}

// ContextInputID is the custom id of the modal's text input.
const ContextInputID = "context"

// EphemeralMessage builds an immediate reply only the actor can see.
func EphemeralMessage(content string) InteractionResponse {
	return InteractionResponse{
		Type: CallbackChannelMessage,
		Data: &InteractionResponseData{Content: Truncate(content, MaxContentLength), Flags: FlagEphemeral},
	}
}

// DeferredEphemeral acknowledges an interaction and promises a follow-up only the actor can see.
func DeferredEphemeral() InteractionResponse {
	return InteractionResponse{
		Type: CallbackDeferredChannelMessage,
		Data: &InteractionResponseData{Flags: FlagEphemeral},
	}
}
