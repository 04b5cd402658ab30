package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/logging"
	"github.com/vdavid/mailrelay/internal/models"
	"github.com/vdavid/mailrelay/internal/suggest"
)

// Mailbox is the mailbox gateway as seen by the HTTP routes.
type Mailbox interface {
	ResolveUID(ctx context.Context, messageID string) (uint32, error)
	ExtractText(ctx context.Context, uid uint32) (string, error)
	MoveToTrash(ctx context.Context, uid uint32) error
	MarkRead(ctx context.Context, uid uint32) error
	ComposeDraft(ctx context.Context, uid uint32, replyText string) (string, error)
}

// Suggester generates reply suggestions.
type Suggester interface {
	Suggest(ctx context.Context, messageID, userContext string) (string, error)
	SuggestForUID(ctx context.Context, uid uint32, userContext string) (string, error)
	SuggestAndDraft(ctx context.Context, messageID, userContext string) (*suggest.Suggestion, error)
}

// MailboxHandler exposes the mailbox gateway to the automation engine.
// Every route answers 200; failures carry status "error" and a code.
type MailboxHandler struct {
	mailbox   Mailbox
	suggester Suggester
	logger    zerolog.Logger
}

func NewMailboxHandler(mailbox Mailbox, suggester Suggester, logger zerolog.Logger) *MailboxHandler {
	return &MailboxHandler{
		mailbox:   mailbox,
		suggester: suggester,
		logger:    logging.Component(logger, "mailbox_api"),
	}
}

type messageIDRequest struct {
	MessageID string `json:"message_id"`
}

type uidRequest struct {
	UID UID `json:"uid"`
}

type draftRequest struct {
	UID   UID    `json:"uid"`
	Reply string `json:"reply"`
}

type suggestRequest struct {
	MessageID   string `json:"message_id"`
	UID         UID    `json:"uid"`
	Context     string `json:"context"`
	CreateDraft bool   `json:"create_draft"`
}

// reference addresses the email by Message-ID when given, else by UID.
func (r suggestRequest) reference() (models.EmailReference, bool) {
	if strings.TrimSpace(r.MessageID) != "" {
		return models.NewEmailReference(r.MessageID), true
	}
	if r.UID == 0 {
		return models.EmailReference{}, false
	}
	uid := uint32(r.UID)
	return models.EmailReference{UID: &uid}, true
}

type uidResponse struct {
	Status  models.Status `json:"status"`
	Message string        `json:"message"`
	UID     string        `json:"uid"`
}

type textResponse struct {
	Status  models.Status `json:"status"`
	Message string        `json:"message"`
	Text    string        `json:"text"`
}

type draftResponse struct {
	Status         models.Status `json:"status"`
	Message        string        `json:"message"`
	DraftMessageID string        `json:"draft_message_id"`
}

type suggestResponse struct {
	Status         models.Status `json:"status"`
	Message        string        `json:"message"`
	UID            string        `json:"uid,omitempty"`
	DraftMessageID string        `json:"draft_message_id,omitempty"`
}

// GetUID resolves a Message-ID to its INBOX UID.
func (h *MailboxHandler) GetUID(w http.ResponseWriter, r *http.Request) {
	var req messageIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, CodeBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.MessageID) == "" {
		writeError(w, CodeBadRequest, "Message-ID not provided")
		return
	}

	uid, err := h.mailbox.ResolveUID(r.Context(), req.MessageID)
	if err != nil {
		writeFailure(w, h.log(r), "Error retrieving UID", err)
		return
	}

	WriteJSONResponse(w, uidResponse{
		Status:  models.StatusSuccess,
		Message: "UID found for Message-ID",
		UID:     UID(uid).String(),
	})
}

// MoveEmail moves a message to the trash folder.
func (h *MailboxHandler) MoveEmail(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.readUID(w, r)
	if !ok {
		return
	}

	if err := h.mailbox.MoveToTrash(r.Context(), uid); err != nil {
		writeFailure(w, h.log(r), fmt.Sprintf("Failed to move email with UID %d", uid), err)
		return
	}

	WriteJSONResponse(w, models.SuccessResponse("Email moved to Trash successfully"))
}

// MarkAsRead sets \Seen on a message.
func (h *MailboxHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.readUID(w, r)
	if !ok {
		return
	}

	if err := h.mailbox.MarkRead(r.Context(), uid); err != nil {
		writeFailure(w, h.log(r), fmt.Sprintf("Failed to mark email %d as read", uid), err)
		return
	}

	WriteJSONResponse(w, models.SuccessResponse("Email marked as read successfully"))
}

// GetText returns the readable text of a message without marking it seen.
func (h *MailboxHandler) GetText(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.readUID(w, r)
	if !ok {
		return
	}

	text, err := h.mailbox.ExtractText(r.Context(), uid)
	if err != nil {
		writeFailure(w, h.log(r), "Failed to retrieve email content", err)
		return
	}

	WriteJSONResponse(w, textResponse{Status: models.StatusSuccess, Message: "Email content retrieved", Text: text})
}

// CreateDraft saves a threaded reply draft.
func (h *MailboxHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, CodeBadRequest, err.Error())
		return
	}
	if req.UID == 0 {
		writeError(w, CodeBadRequest, "UID not provided")
		return
	}
	if strings.TrimSpace(req.Reply) == "" {
		writeError(w, CodeBadRequest, "Reply text not provided")
		return
	}

	draftID, err := h.mailbox.ComposeDraft(r.Context(), uint32(req.UID), req.Reply)
	if err != nil {
		writeFailure(w, h.log(r), "Failed to create draft", err)
		return
	}

	WriteJSONResponse(w, draftResponse{
		Status:         models.StatusSuccess,
		Message:        "Draft created successfully",
		DraftMessageID: draftID,
	})
}

// SuggestAnswer generates a reply for a message addressed by Message-ID or UID.
// With create_draft the reply is also saved as a draft.
func (h *MailboxHandler) SuggestAnswer(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, CodeBadRequest, err.Error())
		return
	}
	ref, ok := req.reference()
	if !ok {
		writeError(w, CodeBadRequest, "message_id or uid is required")
		return
	}

	ctx := r.Context()
	log := h.log(r)

	if ref.UID == nil {
		if req.CreateDraft {
			s, err := h.suggester.SuggestAndDraft(ctx, ref.MessageID, req.Context)
			if err != nil {
				writeFailure(w, log, "Failed to suggest answer", err)
				return
			}
			WriteJSONResponse(w, suggestResponse{
				Status:         models.StatusSuccess,
				Message:        s.Text,
				UID:            UID(s.UID).String(),
				DraftMessageID: s.DraftMessageID,
			})
			return
		}

		text, err := h.suggester.Suggest(ctx, ref.MessageID, req.Context)
		if err != nil {
			writeFailure(w, log, "Failed to suggest answer", err)
			return
		}
		WriteJSONResponse(w, suggestResponse{Status: models.StatusSuccess, Message: text})
		return
	}

	uid := *ref.UID
	text, err := h.suggester.SuggestForUID(ctx, uid, req.Context)
	if err != nil {
		writeFailure(w, log, "Failed to suggest answer", err)
		return
	}

	resp := suggestResponse{Status: models.StatusSuccess, Message: text, UID: req.UID.String()}
	if req.CreateDraft {
		draftID, err := h.mailbox.ComposeDraft(ctx, uid, text)
		if err != nil {
			writeFailure(w, log, "Failed to create draft", err)
			return
		}
		resp.DraftMessageID = draftID
	}
	WriteJSONResponse(w, resp)
}

func (h *MailboxHandler) readUID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	var req uidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, CodeBadRequest, err.Error())
		return 0, false
	}
	if req.UID == 0 {
		writeError(w, CodeBadRequest, "UID not provided")
		return 0, false
	}
	return uint32(req.UID), true
}

func (h *MailboxHandler) log(r *http.Request) zerolog.Logger {
	return h.logger.With().Str("path", r.URL.Path).Logger()
}
