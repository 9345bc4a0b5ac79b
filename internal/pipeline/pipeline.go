// Package pipeline sends authenticated requests. It attaches the bearer token, and when
// the gateway answers 401 it refreshes the credential (single-flight) and retries once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"jobs-admin/client/internal/credential/domain"
	"jobs-admin/client/internal/gateway"
)

const (
	instrumentationName = "jobs-admin/client/pipeline"
	// RequestIDHeader carries a per-dispatch id for correlating client and gateway logs.
	RequestIDHeader = "X-Request-ID"
)

// CredentialSource returns the credential to authenticate with, or nil when signed out.
type CredentialSource interface {
	Load(ctx context.Context) (*domain.Credential, error)
}

// Refresher is the shared single-flight refresh path.
type Refresher interface {
	Refresh(ctx context.Context, staleAccess string) (domain.Credential, error)
}

// Pipeline is an http.Client-like Doer for authenticated calls.
type Pipeline struct {
	doer      gateway.Doer
	creds     CredentialSource
	refresher Refresher

	tracer   trace.Tracer
	requests metric.Int64Counter
	retries  metric.Int64Counter
}

// New returns a Pipeline sending through doer.
func New(doer gateway.Doer, creds CredentialSource, refresher Refresher) *Pipeline {
	meter := otel.Meter(instrumentationName)
	p := &Pipeline{
		doer:      doer,
		creds:     creds,
		refresher: refresher,
		tracer:    otel.Tracer(instrumentationName),
	}
	p.requests, _ = meter.Int64Counter("pipeline.requests", metric.WithDescription("Authenticated requests sent, by outcome."))
	p.retries, _ = meter.Int64Counter("pipeline.retries", metric.WithDescription("Requests retried after a credential refresh."))
	return p
}

// attempt is one trip of a request through the pipeline. retried is set on the copy
// sent after a refresh so a second 401 is final.
type attempt struct {
	req     *http.Request
	retried bool
}

// Do sends req with the current bearer token. Non-2xx responses come back as *gateway.Error
// (the response body is consumed); transport failures as a KindNetwork *gateway.Error.
// A 401 triggers one refresh and one retry; if the refresh fails, the original 401 error is
// returned. Nothing else is retried.
func (p *Pipeline) Do(req *http.Request) (*http.Response, error) {
	ctx, span := p.tracer.Start(req.Context(), "pipeline.Do",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		))
	defer span.End()

	resp, err := p.send(ctx, attempt{req: req.WithContext(ctx)})
	outcome := "ok"
	if err != nil {
		outcome = string(gateway.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	p.count(ctx, p.requests, attribute.String("outcome", outcome))
	return resp, err
}

func (p *Pipeline) send(ctx context.Context, a attempt) (*http.Response, error) {
	cred, err := p.creds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load credential: %w", err)
	}
	var access string
	if cred != nil {
		access = cred.AccessToken
	}

	resp, err := p.dispatch(a, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp, nil
	}

	original := gateway.FromResponse(resp, gateway.OpDefault)
	if original.Kind != gateway.KindAuthExpired || a.retried || access == "" {
		return nil, original
	}
	retry, ok := replay(a.req)
	if !ok {
		log.Debug().Str("path", a.req.URL.Path).Msg("pipeline: body cannot be replayed, not retrying")
		return nil, original
	}

	fresh, err := p.refresher.Refresh(ctx, access)
	if err != nil {
		// The refresher has already ended the session when the refresh token was rejected.
		log.Debug().Err(err).Str("path", a.req.URL.Path).Msg("pipeline: refresh failed, returning original error")
		return nil, original
	}
	p.count(ctx, p.retries)
	trace.SpanFromContext(ctx).AddEvent("credential refreshed, retrying")

	resp, err = p.dispatch(attempt{req: retry, retried: true}, fresh.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, gateway.FromResponse(resp, gateway.OpDefault)
	}
	return resp, nil
}

// dispatch sends one attempt with the given bearer token. The request is cloned so the
// caller's headers are never mutated.
func (p *Pipeline) dispatch(a attempt, access string) (*http.Response, error) {
	req := a.req.Clone(a.req.Context())
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	} else {
		req.Header.Del("Authorization")
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	log.Debug().Str("request_id", reqID).Str("method", req.Method).Str("path", req.URL.Path).
		Bool("retried", a.retried).Msg("pipeline: dispatch")

	resp, err := p.doer.Do(req)
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, gateway.NetworkError(err)
	}
	return resp, nil
}

// replay returns a copy of req with a fresh body, or false when the body cannot be re-read.
func replay(req *http.Request) (*http.Request, bool) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone.Body = body
	return clone, true
}

func (p *Pipeline) count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

var _ gateway.Doer = (*Pipeline)(nil)

// NewRequest is a convenience for consumers that build JSON requests against the gateway base URL.
func NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
