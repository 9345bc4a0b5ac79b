// Package access decides which admin client actions a user may perform, using an
// in-process OPA Rego policy.
package access

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog/log"

	userdomain "jobs-admin/client/internal/user/domain"
)

const allowQuery = "data.jobsadmin.access.allow"

// Actions.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Resources.
const (
	ResourceJobOffer     = "job_offer"
	ResourceConsultation = "consultation_offer"
	ResourceFunding      = "funding_offer"
	ResourceScholarship  = "scholarship_offer"
	ResourceRecruiter    = "recruiter"
	ResourceBlog         = "blog"
	ResourceDashboard    = "dashboard"
	ResourceProfile      = "profile"
	ResourceSession      = "session"
	ResourceUser         = "user"
)

// DefaultPolicy grants admins and staff everything, recruiters their offers, and every
// signed-in user their own profile and sessions.
const DefaultPolicy = `package jobsadmin.access

default allow := false

offers := {"job_offer", "consultation_offer", "funding_offer", "scholarship_offer"}

admin if input.user.user_type == "ADMIN"

admin if input.user.is_staff

allow if admin

allow if {
	input.user.user_type == "RECRUITER"
	offers[input.resource]
	input.action != "delete"
}

allow if {
	input.action == "read"
	input.resource == "blog"
}

allow if input.resource == "profile"

allow if input.resource == "session"
`

// ErrNoPolicyResult is returned when the policy does not define allow for the input.
var ErrNoPolicyResult = errors.New("access: policy returned no result")

// Evaluator answers allow/deny questions against a compiled policy.
type Evaluator struct {
	query rego.PreparedEvalQuery
}

// NewEvaluator compiles policy, or DefaultPolicy when policy is empty.
func NewEvaluator(ctx context.Context, policy string) (*Evaluator, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"access.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("access: compile policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("access: prepare policy: %w", err)
	}
	return &Evaluator{query: q}, nil
}

// LoadEvaluator compiles the policy file at path, or DefaultPolicy when path is empty.
func LoadEvaluator(ctx context.Context, path string) (*Evaluator, error) {
	if path == "" {
		return NewEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("access: read policy %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("access: using policy file")
	return NewEvaluator(ctx, string(b))
}

// Allow reports whether user may perform action on resource. A nil user is never allowed.
// Evaluation errors deny.
func (e *Evaluator) Allow(ctx context.Context, user *userdomain.User, action, resource string) (bool, error) {
	if user == nil {
		return false, nil
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(user, action, resource)))
	if err != nil {
		return false, fmt.Errorf("access: eval: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, ErrNoPolicyResult
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("access: allow is %T, want bool", rs[0].Expressions[0].Value)
	}
	return allowed, nil
}

// HealthCheck evaluates the policy for a staff user and fails if it errors.
func (e *Evaluator) HealthCheck(ctx context.Context) error {
	_, err := e.Allow(ctx, &userdomain.User{UserType: userdomain.UserTypeAdmin, IsStaff: true}, ActionRead, ResourceDashboard)
	return err
}

func buildInput(user *userdomain.User, action, resource string) map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{
			"id":             user.ID,
			"user_type":      string(user.UserType),
			"is_staff":       user.IsStaff,
			"email_verified": user.EmailVerified,
		},
		"action":   action,
		"resource": resource,
	}
}
