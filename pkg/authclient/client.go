// Package authclient provides the capability a resource service (such as the
// file service) uses to authorize incoming requests against the auth service.
//
// The Validator interface has a single method so callers can swap the HTTP
// round trip for an in-process verifier or a cached one without changing
// call sites. All implementations must fail closed: a timeout, transport
// error, or open circuit is a denial, never a default grant.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/amandeep-boot/simple-auth-file-microservices/pkg/httpclient"
)

// ErrUnauthorized is returned when the auth service rejects the token or
// cannot be reached. Callers must treat it as "deny access".
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the validated caller identity returned by the auth service.
type Identity struct {
	UserID string `json:"user_id"`
}

// Validator validates an access token and returns the identity it asserts.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*Identity, error)
}

// HTTPValidator validates tokens with a synchronous call to the auth
// service's validate endpoint, protected by a circuit breaker.
type HTTPValidator struct {
	client  *httpclient.CircuitBreakerClient
	baseURL string
	logger  *slog.Logger
}

// NewHTTPValidator creates a validator that calls the auth service at baseURL
// (e.g. "http://auth:8080").
func NewHTTPValidator(baseURL string, cfg httpclient.Config, logger *slog.Logger) *HTTPValidator {
	client := httpclient.New(cfg)
	breaker := httpclient.NewCircuitBreakerClient(
		client,
		httpclient.DefaultCircuitBreakerConfig("auth-validate"),
		logger,
	)
	return &HTTPValidator{
		client:  breaker,
		baseURL: baseURL,
		logger:  logger,
	}
}

type validateResponse struct {
	Data Identity `json:"data"`
}

// Validate calls GET /api/v1/auth/validate with the token as a bearer
// credential. Any non-200 outcome, transport failure, or open breaker
// results in ErrUnauthorized.
func (v *HTTPValidator) Validate(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/api/v1/auth/validate", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create validate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := v.client.Do(ctx, req)
	if err != nil {
		v.logger.WarnContext(ctx, "auth validation call failed, denying",
			slog.String("error", err.Error()),
		)
		return nil, ErrUnauthorized
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrUnauthorized
	}

	var body validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		v.logger.WarnContext(ctx, "auth validation response malformed, denying",
			slog.String("error", err.Error()),
		)
		return nil, ErrUnauthorized
	}
	if body.Data.UserID == "" {
		return nil, ErrUnauthorized
	}

	return &body.Data, nil
}
