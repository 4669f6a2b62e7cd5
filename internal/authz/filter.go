package authz

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// ErrAuthorizationUnavailable marks a decision made without role data.
var ErrAuthorizationUnavailable = errors.New("authz: authorization data unavailable")

// ReasonForbidden is the machine-readable reason carried by every denial.
const ReasonForbidden = "forbidden"

const forbiddenMessage = "You do not have permission to perform this action."

// ContextResult is what the context-construction collaborator hands the
// filter: either a resolved context or the reason it could not be built.
type ContextResult struct {
	ctx *PermissionContext
	err error
}

// Resolved wraps a successfully built context.
func Resolved(pc *PermissionContext) ContextResult {
	return ContextResult{ctx: pc}
}

// Unavailable records that role/permission data could not be loaded.
func Unavailable(reason error) ContextResult {
	if reason == nil {
		reason = ErrAuthorizationUnavailable
	}
	return ContextResult{err: reason}
}

// Context returns the resolved context, or nil and the failure reason.
func (r ContextResult) Context() (*PermissionContext, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.ctx == nil {
		return nil, ErrAuthorizationUnavailable
	}
	return r.ctx, nil
}

// Format is the response shape the caller declared it expects.
type Format int

const (
	FormatHTML Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "html"
}

// NegotiateFormat picks JSON when the request asks for it through Accept
// (application/json or any +json type) or marks itself as an XHR. A media
// range weighted q=0 is a refusal. Every other request gets a rendered page.
func NegotiateFormat(r *http.Request) Format {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return FormatJSON
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if q, ok := params["q"]; ok {
			if w, err := strconv.ParseFloat(q, 64); err == nil && w <= 0 {
				continue
			}
		}
		if mt == "application/json" || strings.HasSuffix(mt, "+json") {
			return FormatJSON
		}
	}
	return FormatHTML
}

// Outcome is the filter's verdict for one request.
type Outcome struct {
	Allowed bool
	Status  int
	Reason  string
	Message string
	Format  Format
}

// Event describes one decision for observers.
type Event struct {
	UserID      string
	Roles       []string
	Permissions []string
	Expression  string
	Allowed     bool
	Reason      string
	// Err is set when the decision was forced by missing authorization data.
	Err error
}

// Observer receives every decision the filter makes.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// Observers fans one event out to several observers.
type Observers []Observer

// Observe implements Observer.
func (o Observers) Observe(ctx context.Context, ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, ev)
		}
	}
}

// Filter is the single entry point in front of a protected operation.
type Filter struct {
	observer Observer
}

// NewFilter creates a filter that reports decisions to observer (may be nil).
func NewFilter(observer Observer) *Filter {
	return &Filter{observer: observer}
}

// Authorize checks expr against the context in res. A result that carries no
// context always denies.
func (f *Filter) Authorize(ctx context.Context, expr string, res ContextResult, format Format) Outcome {
	pc, err := res.Context()
	if err != nil {
		f.observe(ctx, Event{
			Expression: expr,
			Reason:     "authorization unavailable",
			Err:        errors.Join(ErrAuthorizationUnavailable, err),
		})
		return deny(format)
	}

	d := Resolve(pc, expr)
	f.observe(ctx, Event{
		UserID:      pc.UserID(),
		Roles:       pc.Roles(),
		Permissions: pc.Permissions(),
		Expression:  expr,
		Allowed:     d.Allowed,
		Reason:      d.Reason,
	})
	if !d.Allowed {
		return deny(format)
	}
	return Outcome{Allowed: true, Status: http.StatusOK, Format: format}
}

func (f *Filter) observe(ctx context.Context, ev Event) {
	if f.observer != nil {
		f.observer.Observe(ctx, ev)
	}
}

func deny(format Format) Outcome {
	return Outcome{
		Status:  http.StatusForbidden,
		Reason:  ReasonForbidden,
		Message: forbiddenMessage,
		Format:  format,
	}
}
