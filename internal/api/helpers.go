package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/imap"
	"github.com/vdavid/mailrelay/internal/models"
	"github.com/vdavid/mailrelay/internal/suggest"
)

// Machine-readable error codes returned by the mailbox routes.
const (
	CodeBadRequest            = "bad_request"
	CodeConnection            = "connection_error"
	CodeNotFound              = "not_found"
	CodeProtocol              = "protocol_error"
	CodeNoTextContent         = "no_text_content"
	CodeDraftsFolderNotFound  = "drafts_folder_not_found"
	CodeContentUnavailable    = "content_unavailable"
	CodeGeneration            = "generation_error"
	CodeInternal              = "internal_error"
	maxRequestBodyBytes int64 = 1 << 20
)

// ErrorBody is the JSON body of every failed mailbox call. The HTTP status is always 200.
type ErrorBody struct {
	Status  models.Status `json:"status"`
	Message string        `json:"message"`
	Code    string        `json:"code"`
}

// WriteJSONResponse encodes v as JSON with status 200.
// It returns false if encoding failed, in which case a 500 has been written.
func WriteJSONResponse(w http.ResponseWriter, v interface{}) bool {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
	return true
}

func writeError(w http.ResponseWriter, code, message string) {
	WriteJSONResponse(w, ErrorBody{Status: models.StatusError, Message: message, Code: code})
}

// writeFailure logs err and reports it with the code matching its sentinel.
func writeFailure(w http.ResponseWriter, logger zerolog.Logger, message string, err error) {
	code := ErrorCode(err)
	logger.Error().Err(err).Str("code", code).Msg(message)
	writeError(w, code, message+": "+err.Error())
}

// ErrorCode maps a mailbox or suggestion error to its machine-readable code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, suggest.ErrContentUnavailable):
		return CodeContentUnavailable
	case errors.Is(err, suggest.ErrGeneration):
		return CodeGeneration
	case errors.Is(err, imap.ErrConnection):
		return CodeConnection
	case errors.Is(err, imap.ErrMessageNotFound):
		return CodeNotFound
	case errors.Is(err, imap.ErrNoTextContent):
		return CodeNoTextContent
	case errors.Is(err, imap.ErrDraftsFolderNotFound):
		return CodeDraftsFolderNotFound
	case errors.Is(err, imap.ErrProtocol):
		return CodeProtocol
	default:
		return CodeInternal
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return errors.Wrap(err, "failed to read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "invalid JSON")
	}
	return nil
}

// UID accepts both JSON numbers and numeric strings, since automation tools
// tend to pass the value returned by /get-uid through as a string.
type UID uint32

func (u *UID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*u = 0
		return nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return errors.Errorf("invalid uid %q", raw)
	}
	*u = UID(n)
	return nil
}

func (u UID) String() string {
	return strconv.FormatUint(uint64(u), 10)
}
