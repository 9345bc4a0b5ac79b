package access

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	userdomain "jobs-admin/client/internal/user/domain"
)

func TestEvaluator_HealthCheck(t *testing.T) {
	e, err := NewEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestEvaluator_DefaultPolicy(t *testing.T) {
	e, err := NewEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	admin := &userdomain.User{ID: 1, UserType: userdomain.UserTypeAdmin}
	staff := &userdomain.User{ID: 2, UserType: userdomain.UserTypeJobSeeker, IsStaff: true}
	recruiter := &userdomain.User{ID: 3, UserType: userdomain.UserTypeRecruiter}
	seeker := &userdomain.User{ID: 4, UserType: userdomain.UserTypeJobSeeker}

	testCases := []struct {
		name     string
		user     *userdomain.User
		action   string
		resource string
		want     bool
	}{
		{"admin deletes recruiter", admin, ActionDelete, ResourceRecruiter, true},
		{"staff reads dashboard", staff, ActionRead, ResourceDashboard, true},
		{"recruiter creates job offer", recruiter, ActionCreate, ResourceJobOffer, true},
		{"recruiter deletes job offer", recruiter, ActionDelete, ResourceJobOffer, false},
		{"recruiter reads dashboard", recruiter, ActionRead, ResourceDashboard, false},
		{"seeker reads blog", seeker, ActionRead, ResourceBlog, true},
		{"seeker writes blog", seeker, ActionCreate, ResourceBlog, false},
		{"seeker updates profile", seeker, ActionUpdate, ResourceProfile, true},
		{"seeker lists sessions", seeker, ActionRead, ResourceSession, true},
		{"nil user", nil, ActionRead, ResourceProfile, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Allow(context.Background(), tc.user, tc.action, tc.resource)
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if got != tc.want {
				t.Errorf("Allow = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewEvaluator(context.Background(), "package broken\nallow if {"); err == nil {
		t.Fatal("NewEvaluator should fail on an invalid policy")
	}
}

func TestLoadEvaluator(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "access.rego")
	policy := `package jobsadmin.access

default allow := false

allow if input.user.is_staff
`
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err := LoadEvaluator(ctx, path)
	if err != nil {
		t.Fatalf("LoadEvaluator: %v", err)
	}
	admin := &userdomain.User{UserType: userdomain.UserTypeAdmin}
	if ok, _ := e.Allow(ctx, admin, ActionRead, ResourceDashboard); ok {
		t.Error("custom policy should deny a non-staff admin")
	}
	staff := &userdomain.User{IsStaff: true}
	if ok, _ := e.Allow(ctx, staff, ActionRead, ResourceDashboard); !ok {
		t.Error("custom policy should allow staff")
	}

	if _, err := LoadEvaluator(ctx, filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Error("LoadEvaluator should fail for a missing file")
	}
	if e, err := LoadEvaluator(ctx, ""); err != nil || e == nil {
		t.Errorf("LoadEvaluator(\"\") = %v, %v; want the default policy", e, err)
	}
}

func TestAllow_UndefinedRuleDenies(t *testing.T) {
	e, err := NewEvaluator(context.Background(), "package jobsadmin.access\n\nallow if input.user.is_staff\n")
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	ok, err := e.Allow(context.Background(), &userdomain.User{}, ActionRead, ResourceBlog)
	if ok {
		t.Error("undefined allow must deny")
	}
	if err != ErrNoPolicyResult {
		t.Errorf("err = %v, want ErrNoPolicyResult", err)
	}
}
