package clapi

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Object types understood by CLAPI's -o flag
const (
	ObjectHost    = "host"
	ObjectService = "service"
)

// Actions passed through CLAPI's -a flag
const (
	ActionApplyTemplate  = "applytpl"
	ActionAddTemplate    = "addtemplate"
	ActionSetParam       = "setparam"
	ActionSetHostgroup   = "sethostgroup"
	ActionAdd            = "add"
	ActionPollerGenerate = "pollergenerate"
	ActionConfigMove     = "cfgmove"
	ActionPollerReload   = "pollerreload"
)

// FieldSeparator joins payload fields. CLAPI has no escape for it.
const FieldSeparator = ";"

// Invocation describes a single CLAPI call
type Invocation struct {
	Action     string
	ObjectType string
	Payload    string
}

// Args builds the argument list for the invocation. The -o flag is only
// present when ObjectType is set and always sits right before -v.
func (inv Invocation) Args(path, username, password string) []string {
	args := make([]string, 0, 11)
	args = append(args, path, "-u", username, "-p", password, "-a", inv.Action)
	if inv.ObjectType != "" {
		args = append(args, "-o", inv.ObjectType)
	}
	return append(args, "-v", inv.Payload)
}

// Result is what a Runner hands back after the process exits
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Record summarises a finished invocation for observers.
// It never carries the password.
type Record struct {
	ID         uuid.UUID
	StartedAt  time.Time
	Duration   time.Duration
	Action     string
	ObjectType string
	Payload    string
	ExitCode   int
	Stdout     string
	Stderr     string
	Error      string
	// Caller fields, empty outside the HTTP gateway
	RequestID string
	User      string
}

// Caller identifies who triggered an invocation
type Caller struct {
	RequestID string
	User      string
}

type callerKey struct{}

// WithCaller returns a context whose invocations are recorded as made by c
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, if any
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// joinFields builds a payload from fields in the given order
func joinFields(fields ...string) string {
	return strings.Join(fields, FieldSeparator)
}
