package suggest

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/imap"
	"github.com/vdavid/mailrelay/internal/logging"
)

const (
	// SystemInstruction is sent with every generation request.
	SystemInstruction = "Erstelle Mail-Antworten für eine Internetagentur. Ansprache Sie oder du je nach E-Mail. " +
		"Halte den Ton professionell, präzise sowie strukturiert und freundlich. " +
		"Bitte erstelle NUR die E-Mail-Antwort ohne Betreff, einleitende Worte oder Erläuterungen nach dem E-Mail-Text. " +
		"Verzichte generell auf 'und mit Kommas' (und,)"

	Temperature      float32 = 0.6
	DefaultMaxTokens         = 500
)

var (
	// ErrContentUnavailable means the original email could not be found or has no readable text.
	ErrContentUnavailable = errors.New("email content unavailable")
	// ErrGeneration means the text generator failed or returned nothing.
	ErrGeneration = errors.New("reply generation failed")
)

// Mailbox is the part of the mailbox gateway the engine needs.
type Mailbox interface {
	ResolveUID(ctx context.Context, messageID string) (uint32, error)
	ExtractText(ctx context.Context, uid uint32) (string, error)
	ComposeDraft(ctx context.Context, uid uint32, replyText string) (string, error)
}

// Request is one text generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Suggestion is a generated reply, optionally saved as a draft.
type Suggestion struct {
	Text           string `json:"text"`
	UID            uint32 `json:"uid"`
	DraftMessageID string `json:"draft_message_id,omitempty"`
}

type Engine struct {
	mailbox   Mailbox
	generator Generator
	maxTokens int
	logger    zerolog.Logger
}

func NewEngine(mailbox Mailbox, generator Generator, maxTokens int, logger zerolog.Logger) *Engine {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Engine{
		mailbox:   mailbox,
		generator: generator,
		maxTokens: maxTokens,
		logger:    logging.Component(logger, "suggest"),
	}
}

// Suggest drafts a reply text for the email with the given Message-ID, guided by the user's note.
// It is read-only with respect to the mailbox.
func (e *Engine) Suggest(ctx context.Context, messageID, userContext string) (string, error) {
	uid, err := e.resolve(ctx, messageID)
	if err != nil {
		return "", err
	}
	return e.SuggestForUID(ctx, uid, userContext)
}

// SuggestForUID is Suggest for a UID that was already resolved in a previous session.
func (e *Engine) SuggestForUID(ctx context.Context, uid uint32, userContext string) (string, error) {
	text, err := e.mailbox.ExtractText(ctx, uid)
	if err != nil {
		return "", contentError(err)
	}

	completion, err := e.generator.Generate(ctx, Request{
		System:      SystemInstruction,
		Prompt:      BuildPrompt(text, userContext),
		Temperature: Temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		e.logger.Error().Err(err).Uint32("uid", uid).Msg("Generation failed")
		if errors.Is(err, ErrGeneration) {
			return "", err
		}
		return "", errors.Wrap(ErrGeneration, err.Error())
	}

	completion = strings.TrimSpace(completion)
	if completion == "" {
		return "", errors.Wrap(ErrGeneration, "empty completion")
	}

	e.logger.Info().Uint32("uid", uid).Int("length", len(completion)).Msg("Generated reply suggestion")
	return completion, nil
}

// SuggestAndDraft generates a suggestion and saves it as a threaded draft reply.
func (e *Engine) SuggestAndDraft(ctx context.Context, messageID, userContext string) (*Suggestion, error) {
	uid, err := e.resolve(ctx, messageID)
	if err != nil {
		return nil, err
	}

	text, err := e.SuggestForUID(ctx, uid, userContext)
	if err != nil {
		return nil, err
	}

	draftID, err := e.mailbox.ComposeDraft(ctx, uid, text)
	if err != nil {
		return nil, err
	}

	return &Suggestion{Text: text, UID: uid, DraftMessageID: draftID}, nil
}

func (e *Engine) resolve(ctx context.Context, messageID string) (uint32, error) {
	uid, err := e.mailbox.ResolveUID(ctx, messageID)
	if err != nil {
		return 0, contentError(err)
	}
	return uid, nil
}

// contentError maps "nothing to read" mailbox outcomes to ErrContentUnavailable and passes others through.
func contentError(err error) error {
	if errors.Is(err, imap.ErrMessageNotFound) || errors.Is(err, imap.ErrNoTextContent) {
		return errors.Wrap(ErrContentUnavailable, err.Error())
	}
	return err
}

// BuildPrompt embeds the original email text and the user's note in the fixed prompt template.
func BuildPrompt(emailText, userContext string) string {
	return fmt.Sprintf(`Basierend auf der folgenden E-Mail und dem Kontext, erstelle bitte eine professionelle Antwort:

Original E-Mail:
%s

Hinweis vom Benutzer für die Antwort:
%s
`, strings.TrimSpace(emailText), strings.TrimSpace(userContext))
}
