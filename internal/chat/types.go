package chat

import "strings"

// MaxContentLength is the platform's limit on message content, in characters.
const MaxContentLength = 2000

// FlagEphemeral marks a response as visible to the invoking user only.
const FlagEphemeral = 1 << 6

type ComponentType int

const (
	ComponentActionRow ComponentType = 1
	ComponentButton    ComponentType = 2
	ComponentTextInput ComponentType = 4
)

type ButtonStyle int

const (
	ButtonPrimary   ButtonStyle = 1
	ButtonSecondary ButtonStyle = 2
	ButtonSuccess   ButtonStyle = 3
	ButtonDanger    ButtonStyle = 4
)

type TextInputStyle int

const (
	TextInputShort     TextInputStyle = 1
	TextInputParagraph TextInputStyle = 2
)

// Component is an action row, a button or a text input.
// Style holds a ButtonStyle for buttons and a TextInputStyle for text inputs.
type Component struct {
	Type        ComponentType `json:"type"`
	CustomID    string        `json:"custom_id,omitempty"`
	Label       string        `json:"label,omitempty"`
	Style       int           `json:"style,omitempty"`
	Disabled    bool          `json:"disabled,omitempty"`
	URL         string        `json:"url,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
	Required    *bool         `json:"required,omitempty"`
	MaxLength   int           `json:"max_length,omitempty"`
	Value       string        `json:"value,omitempty"`
	Components  []Component   `json:"components,omitempty"`
}

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
}

type Member struct {
	User *User  `json:"user"`
	Nick string `json:"nick,omitempty"`
}

type MessageReference struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id,omitempty"`
}

type Message struct {
	ID         string      `json:"id"`
	ChannelID  string      `json:"channel_id"`
	Content    string      `json:"content"`
	Components []Component `json:"components"`
}

// MessageSend is the body for creating a message.
type MessageSend struct {
	Content          string            `json:"content"`
	Components       []Component       `json:"components,omitempty"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
}

// MessageEdit is the body for patching a message. Components is always sent,
// so an empty slice removes every control.
type MessageEdit struct {
	Content    string      `json:"content"`
	Components []Component `json:"components"`
}

type InteractionType int

const (
	InteractionPing             InteractionType = 1
	InteractionCommand          InteractionType = 2
	InteractionMessageComponent InteractionType = 3
	InteractionAutocomplete     InteractionType = 4
	InteractionModalSubmit      InteractionType = 5
)

type InteractionData struct {
	CustomID      string        `json:"custom_id"`
	ComponentType ComponentType `json:"component_type,omitempty"`
	Components    []Component   `json:"components,omitempty"`
}

// Interaction is an activation of a control or a modal submission.
type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          InteractionType `json:"type"`
	Data          InteractionData `json:"data"`
	ChannelID     string          `json:"channel_id"`
	Token         string          `json:"token"`
	Message       *Message        `json:"message,omitempty"`
	Member        *Member         `json:"member,omitempty"`
	User          *User           `json:"user,omitempty"`
}

// Author returns the display handle of whoever triggered the interaction.
// Guild interactions carry the user inside Member, direct messages carry User.
func (i *Interaction) Author() string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Username
	}
	if i.User != nil {
		return i.User.Username
	}
	return ""
}

// TextInputValue returns the submitted value of the modal text input with the given custom id.
func (i *Interaction) TextInputValue(customID string) string {
	var walk func([]Component) (string, bool)
	walk = func(components []Component) (string, bool) {
		for _, c := range components {
			if c.Type == ComponentTextInput && c.CustomID == customID {
				return c.Value, true
			}
			if v, ok := walk(c.Components); ok {
				return v, true
			}
		}
		return "", false
	}
	v, _ := walk(i.Data.Components)
	return v
}

type InteractionCallbackType int

const (
	CallbackChannelMessage         InteractionCallbackType = 4
	CallbackDeferredChannelMessage InteractionCallbackType = 5
	CallbackDeferredUpdateMessage  InteractionCallbackType = 6
	CallbackModal                  InteractionCallbackType = 9
)

type InteractionResponseData struct {
	Content    string      `json:"content,omitempty"`
	Flags      int         `json:"flags,omitempty"`
	CustomID   string      `json:"custom_id,omitempty"`
	Title      string      `json:"title,omitempty"`
	Components []Component `json:"components,omitempty"`
}

type InteractionResponse struct {
	Type InteractionCallbackType  `json:"type"`
	Data *InteractionResponseData `json:"data,omitempty"`
}

// Truncate shortens s to at most limit characters, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}

// SplitContent breaks s into chunks of at most limit characters, preferring line breaks.
func SplitContent(s string, limit int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var chunks []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), "\n"))
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
