package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/logging"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// failureRecorder collects codes passed to the failure hook.
type failureRecorder struct {
	mu    sync.Mutex
	codes []result.Code
}

func (r *failureRecorder) record(code result.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func newTestService(t *testing.T) (*Service, *failureRecorder) {
	t.Helper()
	tokens, _ := newTestTokens(newFakeClock())
	svc := NewService(NewUserRepository(testDB(t)), tokens, logging.Discard().Logger)
	rec := &failureRecorder{}
	svc.SetFailureHook(rec.record)
	return svc, rec
}

func TestService_RegisterLoginMe(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Username: "driver", Email: "  Driver@Parking.com ", Password: "longenough"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Email != "driver@parking.com" {
		t.Errorf("Email = %q, want normalised", user.Email)
	}

	res, err := svc.Login(ctx, "DRIVER@parking.com", "longenough")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.User.ID != user.ID || res.AccessToken == "" || res.RefreshToken == "" {
		t.Errorf("Login() = %+v", res)
	}

	payload, err := svc.Tokens().VerifyAccess(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess() error = %v", err)
	}
	me, err := svc.Me(ctx, payload.UserID)
	if err != nil || me.Username != "driver" {
		t.Errorf("Me() = %+v, %v", me, err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterInput
		want result.Code
	}{
		{"bad username", RegisterInput{Username: "has space", Email: "a@b.com", Password: "longenough"}, result.CodeValidation},
		{"empty username", RegisterInput{Username: "", Email: "a@b.com", Password: "longenough"}, result.CodeValidation},
		{"bad email", RegisterInput{Username: "ok", Email: "not-an-email", Password: "longenough"}, result.CodeValidation},
		{"display-name email", RegisterInput{Username: "ok", Email: "Bob <bob@b.com>", Password: "longenough"}, result.CodeValidation},
		{"short password", RegisterInput{Username: "ok", Email: "a@b.com", Password: "short"}, result.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.in)
			if got := result.CodeOf(err); got != tt.want {
				t.Errorf("Register() code = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := svc.Register(ctx, RegisterInput{Username: "one", Email: "dup@b.com", Password: "longenough"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err := svc.Register(ctx, RegisterInput{Username: "two", Email: "DUP@b.com", Password: "longenough"})
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("duplicate Register() error = %v, want ErrEmailExists", err)
	}
}

func TestService_LoginFailures(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "driver", Email: "driver@parking.com", Password: "longenough"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, wrongPass := svc.Login(ctx, "driver@parking.com", "wrong-password")
	_, unknown := svc.Login(ctx, "ghost@parking.com", "longenough")

	for name, err := range map[string]error{"wrong password": wrongPass, "unknown email": unknown} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("%s: error = %v, want ErrInvalidCredentials", name, err)
		}
	}
	if wrongPass.Error() != unknown.Error() {
		t.Error("wrong password and unknown email must be indistinguishable")
	}

	if _, err := svc.Login(ctx, "", ""); result.CodeOf(err) != result.CodeValidation {
		t.Errorf("empty Login() code = %q, want validation", result.CodeOf(err))
	}

	if len(rec.codes) != 3 {
		t.Errorf("failure hook calls = %v, want 3", rec.codes)
	}
}

func TestService_RefreshAndLogout(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "driver", Email: "driver@parking.com", Password: "longenough"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	login, err := svc.Login(ctx, "driver@parking.com", "longenough")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	pair, err := svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("reused Refresh() error = %v, want ErrInvalidRefreshToken", err)
	}

	if err := svc.Logout(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.Tokens().VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("VerifyAccess() after logout error = %v, want ErrTokenRevoked", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("Refresh() after logout error = %v, want ErrInvalidRefreshToken", err)
	}

	for _, code := range rec.codes {
		if code != result.CodeTokenInvalid {
			t.Errorf("failure hook code = %q, want token_invalid", code)
		}
	}
}

func TestService_ListUsersPaging(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, email := range []string{"a@parking.com", "b@parking.com", "c@parking.com"} {
		if _, err := svc.Register(ctx, RegisterInput{Username: "u", Email: email, Password: "longenough"}); err != nil {
			t.Fatalf("Register(%s) error = %v", email, err)
		}
	}

	tests := []struct {
		name        string
		page, limit int
		wantUsers   int
		wantPage    int
		wantPages   int
	}{
		{"defaults", 0, 0, 3, 1, 1},
		{"first of two", 1, 2, 2, 1, 2},
		{"second of two", 2, 2, 1, 2, 2},
		{"past the end", 5, 2, 0, 5, 2},
		{"clamped limit", 1, 1000, 3, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ListUsers(ctx, tt.page, tt.limit)
			if err != nil {
				t.Fatalf("ListUsers() error = %v", err)
			}
			if len(got.Users) != tt.wantUsers || got.Page != tt.wantPage || got.TotalPages != tt.wantPages || got.Total != 3 {
				t.Errorf("ListUsers(%d, %d) = %d users, page %d/%d, total %d",
					tt.page, tt.limit, len(got.Users), got.Page, got.TotalPages, got.Total)
			}
		})
	}
}

func TestService_UpdateUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, _ := svc.Register(ctx, RegisterInput{Username: "driver", Email: "driver@parking.com", Password: "longenough"})
	if _, err := svc.Register(ctx, RegisterInput{Username: "other", Email: "other@parking.com", Password: "longenough"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	name, email, password := "renamed", " New@Parking.com", "evenlonger"
	got, err := svc.UpdateUser(ctx, user.ID, UpdateUserInput{Username: &name, Email: &email, Password: &password})
	if err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if got.Username != "renamed" || got.Email != "new@parking.com" {
		t.Errorf("UpdateUser() = %+v", got)
	}
	if _, err := svc.Login(ctx, "new@parking.com", "evenlonger"); err != nil {
		t.Errorf("Login() with new password error = %v", err)
	}

	short, taken, bad := "short", "other@parking.com", "not-an-email"
	tests := []struct {
		name string
		id   string
		in   UpdateUserInput
		code result.Code
	}{
		{"short password", user.ID, UpdateUserInput{Password: &short}, result.CodeValidation},
		{"bad email", user.ID, UpdateUserInput{Email: &bad}, result.CodeValidation},
		{"taken email", user.ID, UpdateUserInput{Email: &taken}, result.CodeConflict},
		{"missing user", "usr-missing", UpdateUserInput{Username: &name}, result.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateUser(ctx, tt.id, tt.in)
			if result.CodeOf(err) != tt.code {
				t.Errorf("UpdateUser() error = %v, want code %q", err, tt.code)
			}
		})
	}
}

func TestService_DeleteUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, _ := svc.Register(ctx, RegisterInput{Username: "driver", Email: "driver@parking.com", Password: "longenough"})
	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if _, err := svc.GetUser(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUser() after delete error = %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); result.CodeOf(err) != result.CodeNotFound {
		t.Errorf("second DeleteUser() error = %v, want not_found", err)
	}
}
