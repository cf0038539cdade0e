package auth

import (
	"context"

	"dapaggregator/internal/codec"
	"dapaggregator/internal/dap"
)

// TokenProvider looks up the bearer tokens configured for a task, and knows
// the global taskprov fallback tokens used when a provisional task has none
// of its own configured yet.
type TokenProvider interface {
	// LeaderToken returns the task's configured Leader bearer token, if any.
	LeaderToken(ctx context.Context, taskID dap.TaskId) (BearerToken, bool, error)
	// CollectorToken returns the task's configured Collector bearer token, if any.
	CollectorToken(ctx context.Context, taskID dap.TaskId) (BearerToken, bool, error)
	// IsTaskprovLeaderToken reports whether token matches the global
	// taskprov Leader fallback token.
	IsTaskprovLeaderToken(token BearerToken) bool
	// IsTaskprovCollectorToken reports whether token matches the global
	// taskprov Collector fallback token.
	IsTaskprovCollectorToken(token BearerToken) bool
}

// SenderAuth is the credential a request carried, whichever of the two
// supported mechanisms it used. The interface has no accessors; each
// concrete type carries only its own mechanism's fields.
type SenderAuth interface {
	isSenderAuth()
}

// BearerAuth is a request authorized with an Authorization-style bearer token.
type BearerAuth struct {
	Token BearerToken
}

func (BearerAuth) isSenderAuth() {}

// ClientCertAuth is a request authorized via mutual TLS client certificate,
// the optional substitute for bearer tokens on taskprov-provisioned tasks
// (spec.md §4.1).
type ClientCertAuth struct {
	Issuer  string
	Subject string
}

func (ClientCertAuth) isSenderAuth() {}

// Request is the subset of an incoming DAP request the authenticator needs
// to reach an authorization decision.
type Request struct {
	TaskID    *dap.TaskId
	MediaType codec.MediaType
	Auth      SenderAuth // nil if the request carried no credential
}

// Authenticator checks incoming DAP requests against the Leader/Collector
// bearer tokens configured for a task (spec.md §4.1), with taskprov's global
// fallback tokens for provisional tasks that have none configured yet.
type Authenticator struct {
	tokens TokenProvider
	mtls   *MTLSPolicy // nil disables the mTLS substitute mechanism
}

// NewAuthenticator builds an Authenticator. mtls may be nil.
func NewAuthenticator(tokens TokenProvider, mtls *MTLSPolicy) *Authenticator {
	return &Authenticator{tokens: tokens, mtls: mtls}
}

// Check reports whether req is authorized. A non-nil return is the deny
// reason; the HTTP boundary logs it and sends back the abort's type
// without its detail (spec.md §4.1, §7). A nil error alongside a nil
// abort means the request is authorized.
func (a *Authenticator) Check(ctx context.Context, req Request) (*dap.Abort, error) {
	sender, ok := req.MediaType.Sender()
	if !ok {
		return dap.NewAbort(dap.AbortUnauthorizedRequest, "cannot resolve sender: unknown or missing media type"), nil
	}

	switch sender {
	case dap.SenderClient:
		// Uploads need no authorization.
		return nil, nil
	case dap.SenderLeader:
		return a.checkAgainst(ctx, req, a.tokens.LeaderToken, a.tokens.IsTaskprovLeaderToken, "Leader")
	case dap.SenderCollector:
		return a.checkAgainst(ctx, req, a.tokens.CollectorToken, a.tokens.IsTaskprovCollectorToken, "Collector")
	default:
		return dap.NewAbort(dap.AbortUnauthorizedRequest, "cannot resolve sender: unknown or missing media type"), nil
	}
}

type tokenLookup func(ctx context.Context, taskID dap.TaskId) (BearerToken, bool, error)

func (a *Authenticator) checkAgainst(ctx context.Context, req Request, lookup tokenLookup, isTaskprovFallback func(BearerToken) bool, role string) (*dap.Abort, error) {
	if req.TaskID == nil {
		return dap.NewAbort(dap.AbortUnauthorizedRequest, "missing task id"), nil
	}

	switch cred := req.Auth.(type) {
	case ClientCertAuth:
		if a.mtls == nil {
			return dap.NewAbortForTask(dap.AbortUnauthorizedRequest, *req.TaskID, "mTLS authorization is not configured"), nil
		}
		if !a.mtls.Check(cred) {
			return dap.NewAbortForTask(dap.AbortUnauthorizedRequest, *req.TaskID, "client certificate did not match the configured issuer/subject policy"), nil
		}
		return nil, nil

	case BearerAuth:
		expected, found, err := lookup(ctx, *req.TaskID)
		if err != nil {
			return nil, dap.WrapFatal("looking up bearer token for task", err)
		}
		if found {
			if cred.Token.Equal(expected) {
				return nil, nil
			}
			return dap.NewAbortForTask(dap.AbortUnauthorizedRequest, *req.TaskID, "the indicated bearer token is incorrect for the "+role), nil
		}
		if isTaskprovFallback(cred.Token) {
			return nil, nil
		}
		return dap.NewAbortForTask(dap.AbortUnauthorizedRequest, *req.TaskID, "the indicated bearer token is incorrect for taskprov "+role), nil

	default:
		return dap.NewAbortForTask(dap.AbortUnauthorizedRequest, *req.TaskID, "request carried no recognized credential"), nil
	}
}

// Authorize returns the bearer token the Leader should present when
// originating a request of the given media type against a Helper. Only
// Leader-sent media types are meaningful here; anything else is a caller
// bug, so it returns a Fatal error rather than a protocol Abort.
func Authorize(ctx context.Context, tokens TokenProvider, taskID dap.TaskId, mediaType codec.MediaType) (BearerToken, error) {
	sender, ok := mediaType.Sender()
	if !ok || sender != dap.SenderLeader {
		return BearerToken{}, dap.NewFatal("attempted to authorize a request of a non-Leader media type")
	}
	token, found, err := tokens.LeaderToken(ctx, taskID)
	if err != nil {
		return BearerToken{}, dap.WrapFatal("looking up leader token to authorize outbound request", err)
	}
	if !found {
		return BearerToken{}, dap.NewFatal("attempted to authorize request with unknown task ID")
	}
	return token, nil
}
