package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies a gateway failure.
type Kind string

const (
	// KindNetwork: no response reached the client (DNS, connect, timeout).
	KindNetwork Kind = "network"
	// KindAuthExpired: the access credential was rejected; recoverable through a refresh.
	KindAuthExpired Kind = "auth_expired"
	// KindAuthInvalid: the refresh credential was rejected; the session is over.
	KindAuthInvalid Kind = "auth_invalid"
	// KindForbidden: valid session, insufficient role.
	KindForbidden Kind = "forbidden"
	// KindValidation: bad input, with optional field detail.
	KindValidation Kind = "validation"
	// KindServer: 5xx.
	KindServer Kind = "server"
	// KindRequest: any other 4xx (not found, conflict, rate limited).
	KindRequest Kind = "request"
)

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrNetwork     = &Error{Kind: KindNetwork, sentinel: true}
	ErrAuthExpired = &Error{Kind: KindAuthExpired, sentinel: true}
	ErrAuthInvalid = &Error{Kind: KindAuthInvalid, sentinel: true}
	ErrForbidden   = &Error{Kind: KindForbidden, sentinel: true}
	ErrValidation  = &Error{Kind: KindValidation, sentinel: true}
	ErrServer      = &Error{Kind: KindServer, sentinel: true}
	ErrRequest     = &Error{Kind: KindRequest, sentinel: true}
)

// Error is a classified gateway failure.
type Error struct {
	Kind    Kind
	Status  int // HTTP status; 0 for network errors and client-side validation
	Message string
	Fields  map[string][]string
	Err     error // underlying transport error, if any

	sentinel bool
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("gateway: ")
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		names := make([]string, 0, len(e.Fields))
		for name := range e.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString(" [")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the package sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.sentinel && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" when err is not a gateway error.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

// NetworkError wraps a transport failure.
func NetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "gateway unreachable", Err: err}
}

// Op identifies the endpoint family a response came from; login and refresh read 401 differently.
type Op int

const (
	OpDefault Op = iota
	OpLogin
	OpRefresh
)

// Classify maps an HTTP status to a Kind for the given endpoint family.
func Classify(status int, op Op) Kind {
	switch {
	case op == OpRefresh && (status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden):
		return KindAuthInvalid
	case op == OpLogin && status == http.StatusUnauthorized:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindAuthExpired
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindRequest
	}
}

const maxErrorBody = 64 << 10

// FromResponse builds an *Error from a non-2xx response. It consumes and closes the body.
func FromResponse(resp *http.Response, op Op) *Error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	e := &Error{Kind: Classify(resp.StatusCode, op), Status: resp.StatusCode}
	e.Message, e.Fields = parseErrorBody(raw)
	if e.Message == "" {
		if op == OpLogin && resp.StatusCode == http.StatusUnauthorized {
			e.Message = "invalid credentials"
		} else {
			e.Message = http.StatusText(resp.StatusCode)
		}
	}
	return e
}

// parseErrorBody reads {"error"|"detail"|"message": "...", "fields": {...}}. Bodies that
// put field errors at the top level ({"email": ["..."]}) are accepted too.
func parseErrorBody(raw []byte) (string, map[string][]string) {
	var body map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &body) != nil {
		return strings.TrimSpace(string(raw[:min(len(raw), 200)])), nil
	}

	var msg string
	for _, key := range []string{"error", "detail", "message"} {
		if v, ok := body[key]; ok {
			if json.Unmarshal(v, &msg) == nil && msg != "" {
				break
			}
		}
	}

	fields := map[string][]string{}
	if v, ok := body["fields"]; ok {
		_ = json.Unmarshal(v, &fields)
	} else {
		for key, v := range body {
			if key == "error" || key == "detail" || key == "message" {
				continue
			}
			var list []string
			if json.Unmarshal(v, &list) == nil && len(list) > 0 {
				fields[key] = list
			}
		}
	}
	if msg == "" {
		if nfe := fields["non_field_errors"]; len(nfe) > 0 {
			msg = nfe[0]
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	return msg, fields
}
