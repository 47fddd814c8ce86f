package client

import (
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantSuccess bool
		wantData    string
		wantMessage string
		wantCode    string
	}{
		{
			name:        "wrapped success",
			status:      200,
			body:        `{"success":true,"message":"ok","data":{"id":1}}`,
			wantSuccess: true,
			wantData:    `{"id":1}`,
			wantMessage: "ok",
		},
		{
			name:        "bare object is the data",
			status:      200,
			body:        `{"id":1,"name":"Widget"}`,
			wantSuccess: true,
			wantData:    `{"id":1,"name":"Widget"}`,
		},
		{
			name:        "bare array",
			status:      200,
			body:        ` [1,2,3] `,
			wantSuccess: true,
			wantData:    `[1,2,3]`,
		},
		{
			name:        "success false on 200",
			status:      200,
			body:        `{"success":false,"message":"Out of stock"}`,
			wantSuccess: false,
			wantMessage: "Out of stock",
		},
		{
			name:        "success true cannot override an error status",
			status:      500,
			body:        `{"success":true,"message":"weird"}`,
			wantSuccess: false,
			wantMessage: "weird",
		},
		{
			name:        "oauth error code",
			status:      400,
			body:        `{"error":"unsupported_grant_type","error_description":"not supported"}`,
			wantMessage: "not supported",
			wantCode:    "unsupported_grant_type",
		},
		{
			name:        "error code without description",
			status:      400,
			body:        `{"error":"invalid_client"}`,
			wantMessage: "invalid_client",
			wantCode:    "invalid_client",
		},
		{
			name:        "error object",
			status:      403,
			body:        `{"error":{"code":"forbidden","message":"No access"}}`,
			wantMessage: "No access",
			wantCode:    "forbidden",
		},
		{
			name:        "msg fallback",
			status:      400,
			body:        `{"msg":"Bad input"}`,
			wantMessage: "Bad input",
		},
		{
			name:        "plain text body",
			status:      502,
			body:        `Bad Gateway`,
			wantMessage: "Bad Gateway",
		},
		{
			name:        "empty body",
			status:      204,
			wantSuccess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := decodeEnvelope(tt.status, []byte(tt.body))
			if env.success != tt.wantSuccess {
				t.Errorf("success = %v, want %v", env.success, tt.wantSuccess)
			}
			if string(env.data) != tt.wantData {
				t.Errorf("data = %s, want %s", env.data, tt.wantData)
			}
			if env.message != tt.wantMessage {
				t.Errorf("message = %q, want %q", env.message, tt.wantMessage)
			}
			if env.code != tt.wantCode {
				t.Errorf("code = %q, want %q", env.code, tt.wantCode)
			}
		})
	}
}

func TestDecodeEnvelope_FieldErrors(t *testing.T) {
	env := decodeEnvelope(422, []byte(`{
		"message": "The given data was invalid.",
		"errors": {
			"email": ["The email has already been taken.", "The email must be valid."],
			"phone": "The phone number is invalid."
		}
	}`))

	if got := env.fields["email"]; len(got) != 2 || got[0] != "The email has already been taken." {
		t.Errorf("email errors = %v", got)
	}
	if got := env.fields["phone"]; len(got) != 1 || got[0] != "The phone number is invalid." {
		t.Errorf("phone errors = %v", got)
	}
}

func TestEnvelopeLookup(t *testing.T) {
	env := decodeEnvelope(200, []byte(`{"success":true,"token":"top","data":{"access_token":"nested","expires_in":3600}}`))

	if got := env.lookup("access_token", "token"); got != "nested" {
		t.Errorf("lookup() = %q, want data to win", got)
	}
	if got := env.lookup("token"); got != "top" {
		t.Errorf("lookup(token) = %q, want top level fallback", got)
	}
	if got := env.lookup("missing"); got != "" {
		t.Errorf("lookup(missing) = %q", got)
	}
	if got := string(env.lookupRaw("expires_in")); got != "3600" {
		t.Errorf("lookupRaw() = %s", got)
	}
}

func TestEnvelopeMentions(t *testing.T) {
	env := decodeEnvelope(403, []byte(`{"message":"You are NOT LOGGED IN."}`))
	if !env.mentions(notLoggedInPhrases...) {
		t.Error("mentions() should match case-insensitively")
	}

	env = decodeEnvelope(403, []byte(`{"message":"Forbidden","detail":"user is unauthenticated"}`))
	if !env.mentions(notLoggedInPhrases...) {
		t.Error("mentions() should search the raw body")
	}

	env = decodeEnvelope(403, []byte(`{"message":"This action is unauthorized."}`))
	if env.mentions(notLoggedInPhrases...) {
		t.Error("a permission denial is not a missing session")
	}
}

func TestDecodeEnvelope_TruncatesText(t *testing.T) {
	long := make([]byte, 2*maxMessageLen)
	for i := range long {
		long[i] = 'x'
	}
	env := decodeEnvelope(500, long)
	if len(env.message) != maxMessageLen {
		t.Errorf("len(message) = %d, want %d", len(env.message), maxMessageLen)
	}
}
