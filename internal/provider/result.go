package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("transaction not found at provider")

// Shape tags how much of the provider body could be understood.
type Shape int

const (
	ShapeObject Shape = iota
	ShapeUnexpected
)

type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeCompleted
	OutcomePending
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomePending:
		return "pending"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	codeError      = "ERROR"
	codeProcessing = "099"
)

var (
	successCodes    = map[string]bool{"000": true, "0000": true}
	successStatuses = map[string]bool{"delivered": true, "success": true, "successful": true}
	pendingStatuses = map[string]bool{"pending": true, "processing": true, "initiated": true}
	failedStatuses  = map[string]bool{"failed": true, "reversed": true}
)

type Result struct {
	Shape       Shape
	Code        string
	Status      string
	Description string
	Token       string
	Raw         json.RawMessage
}

func (r Result) Succeeded() bool {
	return successCodes[r.Code] && successStatuses[r.Status]
}

// Outcome classifies the result. A success code with a status nobody
// recognises is Unknown rather than Failed.
func (r Result) Outcome() Outcome {
	switch {
	case r.Succeeded():
		return OutcomeCompleted
	case pendingStatuses[r.Status]:
		return OutcomePending
	case failedStatuses[r.Status]:
		return OutcomeFailed
	case r.Code == codeProcessing:
		return OutcomePending
	case !successCodes[r.Code]:
		return OutcomeFailed
	default:
		return OutcomeUnknown
	}
}

// StatusOutcome maps a bare status string, as carried by webhooks.
func StatusOutcome(status string) Outcome {
	status = strings.ToLower(strings.TrimSpace(status))
	switch {
	case successStatuses[status]:
		return OutcomeCompleted
	case failedStatuses[status]:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// Error is a transport or decoding failure. The purchase it belongs to is
// left pending for the requery sweep.
type Error struct {
	Op      string
	Message string
	Raw     []byte
	Timeout bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Op, e.Message)
}

type envelope struct {
	Code                any             `json:"code"`
	ResponseDescription string          `json:"response_description"`
	Token               any             `json:"token"`
	PurchasedCode       any             `json:"purchased_code"`
	Content             json.RawMessage `json:"content"`
}

type content struct {
	Transactions *struct {
		Status string `json:"status"`
	} `json:"transactions"`
	Token any `json:"token"`
}

// normalize turns a provider body into a Result. Non-object JSON is kept as
// ShapeUnexpected with code ERROR; a missing code also becomes ERROR.
func normalize(body []byte) (Result, bool, error) {
	trimmed := strings.TrimSpace(string(body))
	if !json.Valid([]byte(trimmed)) {
		return Result{}, false, errors.New("malformed JSON")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Result{Shape: ShapeUnexpected, Code: codeError, Raw: json.RawMessage(trimmed)}, false, nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Result{}, false, err
	}
	res := Result{
		Shape:       ShapeObject,
		Code:        scalar(env.Code),
		Description: env.ResponseDescription,
		Raw:         json.RawMessage(trimmed),
	}
	if res.Code == "" {
		res.Code = codeError
	}
	hasTransactions := false
	var c content
	if len(env.Content) > 0 && json.Unmarshal(env.Content, &c) == nil {
		if c.Transactions != nil {
			hasTransactions = true
			res.Status = strings.ToLower(strings.TrimSpace(c.Transactions.Status))
		}
	}
	res.Token = CleanToken(firstNonEmpty(scalar(env.Token), scalar(env.PurchasedCode), scalar(c.Token)))
	return res, hasTransactions, nil
}

// CleanToken strips the "Token :" label the provider prefixes vend codes with.
func CleanToken(token string) string {
	token = strings.TrimSpace(token)
	for _, prefix := range []string{"Token :", "Token:", "token :", "token:"} {
		if strings.HasPrefix(token, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(token, prefix))
		}
	}
	return token
}

func scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
