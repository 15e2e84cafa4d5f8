package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	gotrue "github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/postgrest-go"
	"github.com/tyemirov/fraudguide/internal/authkit"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxResponseBytes      = 1 << 20
	restSchema            = "public"
)

var (
	errMissingBaseURL = errors.New("supabase.missing_base_url")
	errMissingAnonKey = errors.New("supabase.missing_anon_key")
)

// Config configures the hosted provider adapter.
type Config struct {
	BaseURL    string
	AnonKey    string
	HTTPClient *http.Client
	Clock      authkit.Clock
	Logger     *zap.Logger
}

// Transport is shared by every browser context talking to one hosted project.
// Transport failures and 5xx responses trip a circuit breaker; while it is open calls fail fast as unavailable.
type Transport struct {
	authURL      string
	restURL      string
	anonKey      string
	roundTripper http.RoundTripper
	timeout      time.Duration
	breaker      *gobreaker.CircuitBreaker
	clock        authkit.Clock
	logger       *zap.Logger
}

// requestScope is the round tripper handed to the client libraries for one call.
// Neither library accepts a context, so the scope binds each request to the caller's and records the last status seen.
type requestScope struct {
	ctx        context.Context
	parent     http.RoundTripper
	statusCode int
}

func (scope *requestScope) RoundTrip(request *http.Request) (*http.Response, error) {
	response, err := scope.parent.RoundTrip(request.WithContext(scope.ctx))
	if err != nil {
		return nil, err
	}
	scope.statusCode = response.StatusCode
	return response, nil
}

// NewTransport validates the configuration and constructs a Transport.
func NewTransport(configuration Config) (*Transport, error) {
	if strings.TrimSpace(configuration.BaseURL) == "" {
		return nil, fmt.Errorf("supabase.new: %w", errMissingBaseURL)
	}
	if strings.TrimSpace(configuration.AnonKey) == "" {
		return nil, fmt.Errorf("supabase.new: %w", errMissingAnonKey)
	}
	baseURL, err := url.Parse(strings.TrimRight(configuration.BaseURL, "/"))
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("supabase.new: invalid base url %q", configuration.BaseURL)
	}
	roundTripper := http.DefaultTransport
	timeout := defaultRequestTimeout
	if configuration.HTTPClient != nil {
		if configuration.HTTPClient.Transport != nil {
			roundTripper = configuration.HTTPClient.Transport
		}
		if configuration.HTTPClient.Timeout > 0 {
			timeout = configuration.HTTPClient.Timeout
		}
	}
	clock := configuration.Clock
	if clock == nil {
		clock = authkit.NewSystemClock()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "supabase",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("code", "supabase.breaker.state_changed"),
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Transport{
		authURL:      baseURL.String() + "/auth/v1",
		restURL:      baseURL.String() + "/rest/v1",
		anonKey:      configuration.AnonKey,
		roundTripper: roundTripper,
		timeout:      timeout,
		breaker:      breaker,
		clock:        clock,
		logger:       logger,
	}, nil
}

// NewClient returns a provider view bound to one browser context.
func (transport *Transport) NewClient() *Client {
	return &Client{
		transport:   transport,
		broadcaster: authkit.NewBroadcaster(),
	}
}

// auth returns a GoTrue client that sends bearer, or the project key when bearer is empty.
func (transport *Transport) auth(scope *requestScope, bearer string) gotrue.Client {
	if bearer == "" {
		bearer = transport.anonKey
	}
	return gotrue.New("", transport.anonKey).
		WithCustomGoTrueURL(transport.authURL).
		WithToken(bearer).
		WithClient(http.Client{Transport: scope})
}

// rest returns a PostgREST client for one request. Its headers are per client, so clients are never shared.
func (transport *Transport) rest(scope *requestScope, bearer string) *postgrest.Client {
	if bearer == "" {
		bearer = transport.anonKey
	}
	client := postgrest.NewClient(transport.restURL, restSchema, nil).
		SetApiKey(transport.anonKey).
		SetAuthToken(bearer)
	client.Transport.Parent = scope
	return client
}

// exchange runs one provider call under the circuit breaker and translates its failure.
// Rejections below 500 are returned as *authkit.ProviderError without counting against the breaker.
func (transport *Transport) exchange(ctx context.Context, operation string, call func(scope *requestScope) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("supabase.%s: %w", operation, err)
	}
	var rejection error
	_, breakerErr := transport.breaker.Execute(func() (interface{}, error) {
		scopedCtx, cancel := context.WithTimeout(ctx, transport.timeout)
		defer cancel()
		scope := &requestScope{ctx: scopedCtx, parent: transport.roundTripper}
		callErr := call(scope)
		if callErr == nil {
			return nil, nil
		}
		failure := translateFailure(scope.statusCode, callErr)
		if errors.Is(failure, authkit.ErrProviderUnavailable) {
			return nil, failure
		}
		rejection = failure
		return nil, nil
	})
	if breakerErr != nil {
		if errors.Is(breakerErr, gobreaker.ErrOpenState) || errors.Is(breakerErr, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("supabase.%s: %w", operation, authkit.ErrProviderUnavailable)
		}
		return fmt.Errorf("supabase.%s: %w", operation, breakerErr)
	}
	return rejection
}

// postAuth sends a JSON body to a GoTrue endpoint the client library does not model.
// Failures carry the library's "response status code" text so one translation serves both paths.
func (transport *Transport) postAuth(scope *requestScope, path string, query url.Values, requestBody any, responseBody any) error {
	payload, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("supabase.encode: %w", err)
	}
	endpoint := transport.authURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	request, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("apikey", transport.anonKey)
	request.Header.Set("Authorization", "Bearer "+transport.anonKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := (&http.Client{Transport: scope}).Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("response status code %d: %s", response.StatusCode, body)
	}
	if decodeErr := json.Unmarshal(body, responseBody); decodeErr != nil {
		return fmt.Errorf("supabase.decode: %w", decodeErr)
	}
	return nil
}
