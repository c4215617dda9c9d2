package authpw

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"agora/api/internal/errs"
	"agora/api/internal/store"
	"agora/api/internal/store/storetest"
	"golang.org/x/crypto/bcrypt"
)

func newTestService() (*Service, *storetest.Memory) {
	mem := storetest.New()
	return NewService(mem, nil, WithBcryptCost(bcrypt.MinCost)), mem
}

func validationMessages(t *testing.T, err error) []string {
	t.Helper()
	var validation *errs.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	return validation.Messages
}

func TestRegisterAndLoginScenario(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	account, err := svc.Register(ctx, RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correcthorsebattery",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if account.ID == "" || account.Username != "alice" {
		t.Fatalf("unexpected account %+v", account)
	}
	if !strings.HasPrefix(account.AvatarRef, "https://gravatar.com/avatar/") {
		t.Fatalf("unexpected avatar %q", account.AvatarRef)
	}

	_, err = svc.Register(ctx, RegisterRequest{
		Username: "alice",
		Email:    "alice2@example.com",
		Password: "anothergoodpassword",
	})
	if got := validationMessages(t, err); !reflect.DeepEqual(got, []string{MsgUsernameTaken}) {
		t.Fatalf("unexpected messages %v", got)
	}

	_, err = svc.Login(ctx, "alice", "wrongpassword1")
	if !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if !errors.Is(err, errs.ErrAuthenticationRequired) {
		t.Fatal("expected invalid credentials to be an authentication failure")
	}
	if got := errs.UserMessages(err); !reflect.DeepEqual(got, []string{"Invalid username or password."}) {
		t.Fatalf("unexpected user message %v", got)
	}

	loggedIn, err := svc.Login(ctx, "ALICE", "correcthorsebattery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if loggedIn.ID != account.ID {
		t.Fatalf("expected same account, got %+v", loggedIn)
	}
}

func TestRegisterReportsEveryProblem(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Register(context.Background(), RegisterRequest{})
	want := []string{MsgUsernameRequired, MsgEmailInvalid, MsgPasswordRequired}
	if got := validationMessages(t, err); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRegisterFieldRules(t *testing.T) {
	cases := []struct {
		name string
		req  RegisterRequest
		want []string
	}{
		{
			name: "symbols and short password",
			req:  RegisterRequest{Username: "al!ce", Email: "a@example.com", Password: "short"},
			want: []string{MsgUsernameCharacters, MsgPasswordTooShort},
		},
		{
			name: "sharp s does not fold to ascii",
			req:  RegisterRequest{Username: "ßob", Email: "b@example.com", Password: "longenoughpassword"},
			want: []string{MsgUsernameCharacters},
		},
		{
			name: "short username",
			req:  RegisterRequest{Username: "al", Email: "a@example.com", Password: "longenoughpassword"},
			want: []string{MsgUsernameTooShort},
		},
		{
			name: "long username and password",
			req:  RegisterRequest{Username: strings.Repeat("a", 31), Email: "a@example.com", Password: strings.Repeat("p", 51)},
			want: []string{MsgPasswordTooLong, MsgUsernameTooLong},
		},
		{
			name: "bad email",
			req:  RegisterRequest{Username: "alice", Email: "not-an-email", Password: "longenoughpassword"},
			want: []string{MsgEmailInvalid},
		},
		{
			name: "display name email",
			req:  RegisterRequest{Username: "alice", Email: "Alice <a@example.com>", Password: "longenoughpassword"},
			want: []string{MsgEmailInvalid},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService()
			_, err := svc.Register(context.Background(), tc.req)
			if got := validationMessages(t, err); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "shared@example.com", Password: "correcthorsebattery"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := svc.Register(ctx, RegisterRequest{Username: "bob", Email: " Shared@Example.com ", Password: "correcthorsebattery"})
	if got := validationMessages(t, err); !reflect.DeepEqual(got, []string{MsgEmailTaken}) {
		t.Fatalf("unexpected messages %v", got)
	}
}

func TestRegisterFoldsUsername(t *testing.T) {
	svc, mem := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{Username: "Alice", Email: "a@example.com", Password: "correcthorsebattery"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := mem.GetUserByUsername(ctx, "alice"); err != nil {
		t.Fatalf("expected folded username to be stored: %v", err)
	}
	exists, err := svc.UsernameExists(ctx, "ALICE")
	if err != nil || !exists {
		t.Fatalf("UsernameExists = %v, %v", exists, err)
	}
}

func TestRegisterDoesNotStorePlainPassword(t *testing.T) {
	svc, mem := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "a@example.com", Password: "correcthorsebattery"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	user, _ := mem.GetUserByUsername(ctx, "alice")
	if user.PasswordHash == "correcthorsebattery" || user.PasswordHash == "" {
		t.Fatal("expected hashed password")
	}
}

// racingStore lets the existence check pass and then reports the constraint violation.
type racingStore struct {
	*storetest.Memory
	createErr error
}

func (r racingStore) GetUserByUsername(context.Context, string) (store.User, error) {
	return store.User{}, store.ErrNotFound
}

func (r racingStore) GetUserByEmail(context.Context, string) (store.User, error) {
	return store.User{}, store.ErrNotFound
}

func (r racingStore) CreateUser(context.Context, store.User) (store.User, error) {
	return store.User{}, r.createErr
}

func TestRegisterConstraintViolationBecomesValidation(t *testing.T) {
	cases := map[error]string{
		store.ErrUsernameTaken: MsgUsernameTaken,
		store.ErrEmailTaken:    MsgEmailTaken,
	}
	for storeErr, msg := range cases {
		svc := NewService(racingStore{Memory: storetest.New(), createErr: storeErr}, nil, WithBcryptCost(bcrypt.MinCost))
		_, err := svc.Register(context.Background(), RegisterRequest{Username: "alice", Email: "a@example.com", Password: "correcthorsebattery"})
		if got := validationMessages(t, err); !reflect.DeepEqual(got, []string{msg}) {
			t.Fatalf("got %v, want [%s]", got, msg)
		}
	}
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	svc, mem := newTestService()
	mem.Fail = errors.New("connection refused")
	ctx := context.Background()

	if _, err := svc.Login(ctx, "alice", "correcthorsebattery"); !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Login, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "a@example.com", Password: "correcthorsebattery"}); !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Register, got %v", err)
	}
	if _, err := svc.EmailExists(ctx, "a@example.com"); !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from EmailExists, got %v", err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Login(context.Background(), "nobody", "correcthorsebattery"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "", ""); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty input, got %v", err)
	}
}
