package function

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/lithammer/shortuuid"
	"github.com/spf13/cast"
)

// DefaultHandler is used when the request names no handler.
const DefaultHandler = "handler.handler"

var ErrMalformedRequest = errors.New("malformed invocation request")

// Request is an invocation of a handler, as received by the API.
type Request struct {
	Id         string
	Arn        string
	Version    string
	Event      interface{}
	ModulePath string
	Handler    string
	// Timeout overrides the configured timeout (seconds) when non-nil.
	Timeout *float64
	Arrival time.Time
}

func (r *Request) String() string {
	return r.Id
}

// TimeoutOr returns the request override, if any, or the given default.
func (r *Request) TimeoutOr(defaultSeconds float64) float64 {
	if r.Timeout != nil {
		return *r.Timeout
	}
	return defaultSeconds
}

// ParseRequest decodes the body of an invocation request.
//
// Recognized fields: arn, version, event (a JSON value or a JSON-encoded string),
// module, file, handler and timeout. "file" alone carries a handler reference
// (e.g. "handler.handler"); with "handler" it names the source file whose stem
// prefixes the function name.
func ParseRequest(body []byte) (*Request, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if body[0] != '{' || !json.Valid(body) {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrMalformedRequest)
	}

	r := &Request{
		Id:      shortuuid.New(),
		Handler: DefaultHandler,
		Arrival: time.Now(),
	}

	var err error
	if r.Arn, err = stringField(body, "arn"); err != nil {
		return nil, err
	}
	if r.Version, err = stringField(body, "version"); err != nil {
		return nil, err
	}
	if r.ModulePath, err = stringField(body, "module"); err != nil {
		return nil, err
	}
	if r.Event, err = eventField(body); err != nil {
		return nil, err
	}
	if r.Timeout, err = timeoutField(body); err != nil {
		return nil, err
	}

	file, err := stringField(body, "file")
	if err != nil {
		return nil, err
	}
	handler, err := stringField(body, "handler")
	if err != nil {
		return nil, err
	}
	r.Handler = handlerReference(file, handler)

	return r, nil
}

func handlerReference(file, handler string) string {
	switch {
	case handler == "" && file == "":
		return DefaultHandler
	case handler == "":
		return file
	case file == "" || strings.Contains(handler, "."):
		return handler
	default:
		stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		return stem + "." + handler
	}
}

func stringField(body []byte, key string) (string, error) {
	raw, typ, _, err := jsonparser.Get(body, key)
	switch typ {
	case jsonparser.NotExist, jsonparser.Null:
		return "", nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return "", fmt.Errorf("%w: field %q: %v", ErrMalformedRequest, key, err)
		}
		return s, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: field %q: %v", ErrMalformedRequest, key, err)
	}
	return "", fmt.Errorf("%w: field %q must be a string", ErrMalformedRequest, key)
}

func eventField(body []byte) (interface{}, error) {
	raw, typ, _, err := jsonparser.Get(body, "event")
	if typ == jsonparser.NotExist {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: field \"event\": %v", ErrMalformedRequest, err)
	}

	if typ == jsonparser.String {
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field \"event\": %v", ErrMalformedRequest, err)
		}
		raw = []byte(s)
	}

	var event interface{}
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: event is not valid JSON: %v", ErrMalformedRequest, err)
	}
	return event, nil
}

func timeoutField(body []byte) (*float64, error) {
	raw, typ, _, err := jsonparser.Get(body, "timeout")
	switch typ {
	case jsonparser.NotExist, jsonparser.Null:
		return nil, nil
	case jsonparser.Number, jsonparser.String:
		if typ == jsonparser.String {
			s, perr := jsonparser.ParseString(raw)
			if perr != nil {
				return nil, fmt.Errorf("%w: field \"timeout\": %v", ErrMalformedRequest, perr)
			}
			raw = []byte(s)
		}
		seconds, cerr := cast.ToFloat64E(strings.TrimSpace(string(raw)))
		if cerr != nil || seconds <= 0 {
			return nil, fmt.Errorf("%w: timeout must be a positive number of seconds", ErrMalformedRequest)
		}
		return &seconds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: field \"timeout\": %v", ErrMalformedRequest, err)
	}
	return nil, fmt.Errorf("%w: timeout must be a positive number of seconds", ErrMalformedRequest)
}
