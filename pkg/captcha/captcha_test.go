package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spawnpoint/spawnpoint/pkg/config"
)

func newHTTPVerifier(t *testing.T, handler http.HandlerFunc) *HTTPVerifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	v, err := NewVerifier(config.CaptchaConfig{
		Provider:  "recaptcha",
		SecretKey: "shhh",
		VerifyURL: srv.URL,
	})
	require.NoError(t, err)
	return v.(*HTTPVerifier)
}

func TestVerifySuccess(t *testing.T) {
	var gotSecret, gotResponse string
	v := newHTTPVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotSecret = r.PostFormValue("secret")
		gotResponse = r.PostFormValue("response")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true}`))
	})
	v.client.Timeout = time.Second

	err := v.Verify(context.Background(), "the-token")
	require.NoError(t, err)
	assert.Equal(t, "shhh", gotSecret)
	assert.Equal(t, "the-token", gotResponse)
}

func TestVerifyRejected(t *testing.T) {
	v := newHTTPVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "error-codes": ["invalid-input-response"]}`))
	})

	err := v.Verify(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyEmptyTokenFailsFast(t *testing.T) {
	called := false
	v := newHTTPVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	err := v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalid)
	assert.False(t, called, "empty token must not hit the provider")
}

func TestVerifyProviderError(t *testing.T) {
	v := newHTTPVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := v.Verify(context.Background(), "the-token")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid, "provider outage is not a rejection")
}

func TestNewVerifierNone(t *testing.T) {
	v, err := NewVerifier(config.CaptchaConfig{Provider: "none"})
	require.NoError(t, err)
	assert.NoError(t, v.Verify(context.Background(), ""))
}

func TestNewVerifierMisconfigured(t *testing.T) {
	_, err := NewVerifier(config.CaptchaConfig{Provider: "recaptcha"})
	assert.Error(t, err)

	_, err = NewVerifier(config.CaptchaConfig{Provider: "hcaptcha"})
	assert.Error(t, err)
}
