package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spawnpoint/spawnpoint/pkg/config"
	"github.com/spawnpoint/spawnpoint/pkg/log"
)

// ErrInvalid is returned when the provider rejects the response token.
var ErrInvalid = errors.New("captcha verification failed")

// Verifier checks that a deploy request was made by a human.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

// NewVerifier builds the verifier selected by configuration. Provider
// "none" returns a pass-through verifier for local development and
// tests.
func NewVerifier(cfg config.CaptchaConfig) (Verifier, error) {
	switch cfg.Provider {
	case "none":
		return noneVerifier{}, nil
	case "recaptcha", "turnstile":
		if cfg.SecretKey == "" || cfg.VerifyURL == "" {
			return nil, fmt.Errorf("captcha provider %q requires secret_key and verify_url", cfg.Provider)
		}
		return &HTTPVerifier{
			verifyURL: cfg.VerifyURL,
			secret:    cfg.SecretKey,
			client:    &http.Client{Timeout: 10 * time.Second},
			logger:    log.WithComponent("captcha"),
		}, nil
	default:
		return nil, fmt.Errorf("unknown captcha provider %q", cfg.Provider)
	}
}

type noneVerifier struct{}

func (noneVerifier) Verify(context.Context, string) error { return nil }

// HTTPVerifier posts the response token to a siteverify-style endpoint
// (reCAPTCHA and Turnstile share the wire format).
type HTTPVerifier struct {
	verifyURL string
	secret    string
	client    *http.Client
	logger    zerolog.Logger
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts secret+response as form fields and checks the success
// flag. A missing token fails fast without a round trip.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalid
	}

	form := url.Values{
		"secret":   {v.secret},
		"response": {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("reach captcha provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("captcha provider returned status %d", resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode captcha response: %w", err)
	}
	if !body.Success {
		v.logger.Debug().Strs("error_codes", body.ErrorCodes).Msg("captcha rejected")
		return ErrInvalid
	}
	return nil
}
