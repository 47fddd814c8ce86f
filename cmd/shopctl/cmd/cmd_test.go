package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/shopauth"
	"github.com/panyam/shopauth/devserver"
)

func startBackend(t *testing.T, config devserver.Config) (*devserver.Server, string) {
	t.Helper()
	s := devserver.New(config)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	_, err := s.CreateUser(shopauth.Registration{Name: "Jane Doe", Email: "jane@example.com", Password: "password123"})
	require.NoError(t, err)
	return s, ts.URL
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSessionAcrossInvocations(t *testing.T) {
	_, baseURL := startBackend(t, devserver.Config{LoginIssuesToken: true, LoginBurst: 20})
	mr := miniredis.RunT(t)

	stores := map[string]string{
		"fs":     "store:\n  type: fs\n  path: %s/credentials.json\n",
		"bbolt":  "store:\n  type: bbolt\n  path: %s/credentials.db\n",
		"sqlite": "store:\n  type: sqlite\n  path: %s/credentials.sqlite\n",
		"redis":  "store:\n  type: redis\n  redis:\n    addr: " + mr.Addr() + "\n# %s\n",
	}

	for name, storeYAML := range stores {
		t.Run(name, func(t *testing.T) {
			cfg := writeConfig(t, "base_url: "+baseURL+"\n"+fmt.Sprintf(storeYAML, t.TempDir()))

			out, err := run(t, "", "--config", cfg, "login", "-e", "jane@example.com", "-p", "password123")
			require.NoError(t, err)
			assert.Contains(t, out, `"authority": "user_session"`)

			out, err = run(t, "", "--config", cfg, "whoami")
			require.NoError(t, err)
			assert.Contains(t, out, "jane@example.com")

			out, err = run(t, "", "--config", cfg, "get", "/account")
			require.NoError(t, err)
			assert.Contains(t, out, `"email": "jane@example.com"`)

			out, err = run(t, "", "--config", cfg, "logout")
			require.NoError(t, err)
			assert.Contains(t, out, "Logged out")

			_, err = run(t, "", "--config", cfg, "whoami")
			assert.True(t, errors.Is(err, errNotLoggedIn), "got %v", err)
		})
	}
}

func TestLogin_PasswordFromStdin(t *testing.T) {
	_, baseURL := startBackend(t, devserver.Config{})
	cfg := writeConfig(t, "base_url: "+baseURL+"\nstore:\n  type: memory\n")

	out, err := run(t, "password123\n", "--config", cfg, "login", "--email", "jane@example.com")
	require.NoError(t, err)
	// No user token from this backend, so calls run with the client token
	assert.Contains(t, out, `"authority": "client_credentials"`)
}

func TestLogin_FieldErrors(t *testing.T) {
	_, baseURL := startBackend(t, devserver.Config{})
	cfg := writeConfig(t, "base_url: "+baseURL+"\nstore:\n  type: memory\n")

	_, err := run(t, "", "--config", cfg, "login", "--email", "jane@example.com", "--password", "wrong-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email: These credentials do not match our records.")
}

func TestRegisterAndVerify(t *testing.T) {
	s, baseURL := startBackend(t, devserver.Config{RequireOTP: true, LoginIssuesToken: true})
	codes := make(chan string, 2)
	s.OnOTP = func(_, code string) { codes <- code }
	cfg := writeConfig(t, fmt.Sprintf("base_url: %s\nstore:\n  type: fs\n  path: %s/credentials.json\n", baseURL, t.TempDir()))

	out, err := run(t, "", "--config", cfg, "register", "-n", "John Roe", "-e", "john@example.com", "-p", "password123")
	require.NoError(t, err)
	assert.Contains(t, out, `"requires_otp": true`)

	out, err = run(t, "", "--config", cfg, "verify", "-e", "john@example.com", "-c", <-codes)
	require.NoError(t, err)
	assert.Contains(t, out, `"authority": "user_session"`)

	out, err = run(t, "", "--config", cfg, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "john@example.com")
}

func TestToken(t *testing.T) {
	_, baseURL := startBackend(t, devserver.Config{})
	cfg := writeConfig(t, fmt.Sprintf("base_url: %s\nstore:\n  type: bbolt\n  path: %s/credentials.db\n", baseURL, t.TempDir()))

	out, err := run(t, "", "--config", cfg, "token")
	require.NoError(t, err)
	assert.Contains(t, out, `"client_token"`)
	assert.Contains(t, out, `"expires_at"`)
	assert.Contains(t, out, `"authority": "client_credentials"`)
}

func TestGet_Query(t *testing.T) {
	_, baseURL := startBackend(t, devserver.Config{})
	cfg := writeConfig(t, "base_url: "+baseURL+"\nstore:\n  type: memory\n")

	out, err := run(t, "", "--config", cfg, "get", "/store/products", "-q", "page=1")
	require.NoError(t, err)
	assert.Contains(t, out, "Espresso Beans")

	_, err = run(t, "", "--config", cfg, "get", "/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(shopauth.ErrorKindResourceNotFound))
}

func TestFlagsOverrideConfig(t *testing.T) {
	_, baseURL := startBackend(t, devserver.Config{})
	cfg := writeConfig(t, "base_url: http://127.0.0.1:1\nstore:\n  type: redis\n  redis:\n    addr: 127.0.0.1:1\n")

	out, err := run(t, "", "--config", cfg, "--base-url", baseURL, "--store", "memory", "get", "/store/products")
	require.NoError(t, err)
	assert.Contains(t, out, "Ceramic Dripper")
}

func TestServerScope(t *testing.T) {
	scope, err := serverScope("https://shop.example.com:8443/api")
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com:8443", scope)

	_, err = serverScope("not a url")
	assert.Error(t, err)
}

func TestResultError(t *testing.T) {
	res := shopauth.Fail(&shopauth.Error{
		Kind:    shopauth.ErrorKindValidationFailed,
		Status:  422,
		Message: "The given data was invalid.",
		Fields:  map[string][]string{"password": {"too short"}, "email": {"taken", "invalid"}},
	})
	err := resultError(res)
	assert.Equal(t, "validation_failed (HTTP 422): The given data was invalid.\n  email: taken; invalid\n  password: too short", err.Error())
}
