package client

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// maxMessageLen bounds how much of a non-JSON body is kept as a message
const maxMessageLen = 512

// envelope is a response body reduced to the fields the client cares about.
// The backend is inconsistent about where it puts things, so every field is
// looked up with an explicit fallback order.
type envelope struct {
	success bool
	data    json.RawMessage
	message string
	fields  map[string][]string

	// code is a machine readable error code such as "unsupported_grant_type"
	code string
	body gjson.Result
}

// decodeEnvelope normalizes a response body. Order: success flag, data, error or
// errors, message, then the whole body as data.
func decodeEnvelope(status int, body []byte) *envelope {
	env := &envelope{success: status >= 200 && status < 300}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return env
	}
	if !gjson.Valid(trimmed) {
		env.message = truncate(trimmed, maxMessageLen)
		return env
	}

	root := gjson.Parse(trimmed)
	env.body = root
	if !root.IsObject() {
		env.data = json.RawMessage(root.Raw)
		return env
	}

	if s := root.Get("success"); s.Exists() && env.success {
		env.success = s.Bool()
	}

	if d := root.Get("data"); d.Exists() && d.Type != gjson.Null {
		env.data = json.RawMessage(d.Raw)
	}

	switch e := root.Get("error"); {
	case e.Type == gjson.String:
		env.code = e.String()
	case e.IsObject():
		env.code = e.Get("code").String()
		env.message = e.Get("message").String()
	}

	if errs := root.Get("errors"); errs.IsObject() {
		env.fields = make(map[string][]string)
		errs.ForEach(func(k, v gjson.Result) bool {
			if v.IsArray() {
				for _, m := range v.Array() {
					env.fields[k.String()] = append(env.fields[k.String()], m.String())
				}
			} else {
				env.fields[k.String()] = append(env.fields[k.String()], v.String())
			}
			return true
		})
	}

	if env.message == "" {
		for _, path := range []string{"message", "error_description", "msg"} {
			if m := root.Get(path); m.Type == gjson.String && m.String() != "" {
				env.message = m.String()
				break
			}
		}
	}
	if env.message == "" && env.code != "" {
		env.message = env.code
	}

	if env.data == nil && env.success {
		env.data = json.RawMessage(root.Raw)
	}
	return env
}

// lookup returns the first non-empty string found at any path, searching data
// before the top level
func (e *envelope) lookup(paths ...string) string {
	for _, prefix := range []string{"data.", ""} {
		for _, p := range paths {
			if v := e.body.Get(prefix + p); v.Exists() && v.Type != gjson.Null && v.String() != "" {
				return v.String()
			}
		}
	}
	return ""
}

// lookupRaw returns the raw JSON at the first existing path, searching data before
// the top level
func (e *envelope) lookupRaw(paths ...string) json.RawMessage {
	for _, prefix := range []string{"data.", ""} {
		for _, p := range paths {
			if v := e.body.Get(prefix + p); v.Exists() && v.Type != gjson.Null {
				return json.RawMessage(v.Raw)
			}
		}
	}
	return nil
}

// mentions reports whether the message or the raw body contains any of the phrases,
// case-insensitively
func (e *envelope) mentions(phrases ...string) bool {
	hay := strings.ToLower(e.message + " " + e.body.Raw)
	for _, p := range phrases {
		if strings.Contains(hay, p) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isSuccessStatus(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
