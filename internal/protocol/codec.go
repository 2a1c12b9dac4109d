package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Envelope field names shared by every message.
const (
	fieldType            = "type"
	fieldProtocolVersion = "protocolVersion"
)

// DecodeError reports why an inbound payload could not become a ClientMessage.
type DecodeError struct {
	Code    string
	Message string
	Issues  []Issue
}

func (e *DecodeError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path == "" {
			parts = append(parts, is.Message)
			continue
		}
		parts = append(parts, is.Path+": "+is.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, "; "))
}

// Reply converts the decode failure into the typed error message sent back to
// the originating connection.
func (e *DecodeError) Reply() Error {
	return NewError(e.Code, e.Message, e.Issues...)
}

func invalid(message string, issues ...Issue) *DecodeError {
	return &DecodeError{Code: CodeInvalidMessage, Message: message, Issues: issues}
}

type clientDecoder func(body []byte) (ClientMessage, []Issue)

var clientDecoders = map[string]clientDecoder{
	TypeJoin:           func(b []byte) (ClientMessage, []Issue) { return decodeAs(b, validateJoin) },
	TypeSubscribe:      func(b []byte) (ClientMessage, []Issue) { return decodeAs(b, validateSubscribe) },
	TypePatchDraft:     func(b []byte) (ClientMessage, []Issue) { return decodeAs(b, validatePatchDraft) },
	TypeLockAcquire:    func(b []byte) (ClientMessage, []Issue) { return decodeAs(b, validateLockAcquire) },
	TypeLockReleased:   func(b []byte) (ClientMessage, []Issue) { return decodeAs(b, validateLockReleased) },
	TypeSave:           func(b []byte) (ClientMessage, []Issue) { return decodeAs(b, validateSave) },
	TypeListVersions:   func(b []byte) (ClientMessage, []Issue) { return decodeAs(b, validateListVersions) },
	TypeGetVersion:     func(b []byte) (ClientMessage, []Issue) { return decodeAs(b, validateGetVersion) },
	TypeReapplyVersion: func(b []byte) (ClientMessage, []Issue) { return decodeAs(b, validateReapplyVersion) },
}

// DecodeClientMessage parses and validates one inbound payload.
//
// Postcondition: Returns a fully validated ClientMessage, or a *DecodeError
// describing every problem found. Never panics on arbitrary input.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	if !gjson.ValidBytes(data) {
		return nil, invalid("payload is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, invalid("payload must be a JSON object")
	}

	var issues []Issue
	typ := root.Get(fieldType)
	if typ.Type != gjson.String || typ.Str == "" {
		issues = append(issues, Issue{Path: fieldType, Message: "must be a non-empty string"})
	}
	ver := root.Get(fieldProtocolVersion)
	switch {
	case !ver.Exists():
		issues = append(issues, Issue{Path: fieldProtocolVersion, Message: "is required"})
	case ver.Type != gjson.Number || ver.Num != float64(int64(ver.Num)):
		issues = append(issues, Issue{Path: fieldProtocolVersion, Message: "must be an integer"})
	}
	if len(issues) > 0 {
		return nil, invalid("message envelope is invalid", issues...)
	}
	if v := ver.Int(); v != ProtocolVersion {
		return nil, &DecodeError{
			Code:    CodeUnsupportedProtocolVersion,
			Message: fmt.Sprintf("protocol version %d is not supported", v),
		}
	}

	decode, ok := clientDecoders[typ.Str]
	if !ok {
		return nil, invalid("unknown message type",
			Issue{Path: fieldType, Message: fmt.Sprintf("unknown message type %q", typ.Str)})
	}

	body, err := stripEnvelope(data)
	if err != nil {
		return nil, invalid(err.Error())
	}
	msg, issues := decode(body)
	if len(issues) > 0 {
		return nil, invalid(fmt.Sprintf("%s message failed validation", typ.Str), issues...)
	}
	return msg, nil
}

// EncodeServerMessage serialises msg with its type and protocol version stamped.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	return encode(msg.Kind(), msg)
}

// EncodeClientMessage serialises msg the way a client would send it.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	return encode(msg.Kind(), msg)
}

func encode(kind string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s message: %w", kind, err)
	}
	body, err = sjson.SetBytes(body, fieldType, kind)
	if err != nil {
		return nil, fmt.Errorf("stamping %s message type: %w", kind, err)
	}
	body, err = sjson.SetBytes(body, fieldProtocolVersion, ProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("stamping %s protocol version: %w", kind, err)
	}
	return body, nil
}

// stripEnvelope removes the envelope fields so the body can be strictly
// decoded into a message struct.
func stripEnvelope(data []byte) ([]byte, error) {
	body := append([]byte(nil), data...)
	var err error
	for _, field := range []string{fieldType, fieldProtocolVersion} {
		body, err = sjson.DeleteBytes(body, field)
		if err != nil {
			return nil, fmt.Errorf("removing %s: %w", field, err)
		}
	}
	return body, nil
}

func decodeAs[T ClientMessage](body []byte, validate func(T) []Issue) (ClientMessage, []Issue) {
	var msg T
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return nil, []Issue{decodeIssue(err)}
	}
	if issues := validate(msg); len(issues) > 0 {
		return nil, issues
	}
	return msg, nil
}

func decodeIssue(err error) Issue {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return Issue{Path: typeErr.Field, Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
	}
	const unknownPrefix = "json: unknown field "
	if msg := err.Error(); strings.HasPrefix(msg, unknownPrefix) {
		return Issue{Path: strings.Trim(strings.TrimPrefix(msg, unknownPrefix), `"`), Message: "unknown field"}
	}
	return Issue{Message: err.Error()}
}
