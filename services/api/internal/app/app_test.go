package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"eduflow/pkg/ai"
	"eduflow/pkg/domain"
	"eduflow/pkg/extract"
	"eduflow/pkg/extract/extracttest"
	"eduflow/pkg/store"
	"eduflow/pkg/studygen"
)

type fixture struct {
	app      *App
	store    *store.MemoryStore
	sessions *store.JWTSessionStore
	prompts  []string
	fail     error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemoryStore()}
	sessions, err := store.NewJWTSessionStore("test-secret", "HS256", 30*time.Minute)
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	f.sessions = sessions
	gen := studygen.New(ai.TextGeneratorFunc(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		f.prompts = append(f.prompts, userPrompt)
		if f.fail != nil {
			return "", f.fail
		}
		return "generated: " + userPrompt[strings.LastIndex(userPrompt, "\n")+1:], nil
	}))
	a, err := New(Config{Store: f.store, Sessions: sessions, Generator: gen})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = a
	return f
}

func (f *fixture) register(t *testing.T) domain.User {
	t.Helper()
	user, err := f.app.Register("alice@x.com", "alice", "pw123456")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return user
}

func TestRegisterStoresHashedActiveUser(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)
	if user.ID == 0 || !user.IsActive {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash == "" || user.PasswordHash == "pw123456" {
		t.Fatalf("password not hashed: %q", user.PasswordHash)
	}
	if user.UpdatedAt != nil {
		t.Fatalf("updated_at should be unset on create")
	}
}

func TestRegisterConflictsAndValidation(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	tests := []struct {
		name                      string
		email, username, password string
		want                      error
	}{
		{"duplicate email wins over username", "alice@x.com", "alice", "pw", ErrEmailTaken},
		{"duplicate username", "other@x.com", "alice", "pw", ErrUsernameTaken},
		{"bad email", "not-an-email", "bob", "pw", ErrInvalidEmail},
		{"display name email", "Bob <bob@x.com>", "bob", "pw", ErrInvalidEmail},
		{"blank username", "bob@x.com", "  ", "pw", ErrUsernameRequired},
		{"empty password", "bob@x.com", "bob", "", ErrInvalidInput},
		{"long password", "bob@x.com", "bob", strings.Repeat("p", 73), ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.app.Register(tc.email, tc.username, tc.password); !errors.Is(err, tc.want) {
				t.Fatalf("Register error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestIssueTokenAndResolveUser(t *testing.T) {
	f := newFixture(t)
	registered := f.register(t)

	token, user, err := f.app.IssueToken("alice", "pw123456")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if user.ID != registered.ID {
		t.Fatalf("unexpected user: %+v", user)
	}
	resolved, err := f.app.UserFromToken(token)
	if err != nil {
		t.Fatalf("user from token: %v", err)
	}
	if resolved.Username != "alice" {
		t.Fatalf("unexpected resolved user: %+v", resolved)
	}

	for _, creds := range [][2]string{{"alice", "wrong"}, {"nobody", "pw123456"}, {"ALICE", "pw123456"}} {
		if _, _, err := f.app.IssueToken(creds[0], creds[1]); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("IssueToken(%q) error = %v, want ErrInvalidCredentials", creds[0], err)
		}
	}
}

func TestUserFromTokenRejectsInactiveAndUnknownUsers(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)
	token, _, err := f.app.IssueToken("alice", "pw123456")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	f.store.SetUserActive(user.ID, false)
	if _, err := f.app.UserFromToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected inactive user to be unauthorized, got %v", err)
	}
	if _, _, err := f.app.IssueToken("alice", "pw123456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected inactive user login to fail, got %v", err)
	}

	ghost, err := f.sessions.NewSession("ghost")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := f.app.UserFromToken(ghost); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unknown subject to be unauthorized, got %v", err)
	}
	if _, err := f.app.UserFromToken("garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected malformed token to be unauthorized, got %v", err)
	}
}

func TestAuthenticateUnknownUserCostsAsMuchAsWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	// warm the shared comparison hash
	_, _ = f.app.Authenticate("nobody", "pw123456")

	start := time.Now()
	_, wrongErr := f.app.Authenticate("alice", "not-the-password")
	wrong := time.Since(start)

	start = time.Now()
	_, unknownErr := f.app.Authenticate("nobody", "pw123456")
	unknown := time.Since(start)

	if !errors.Is(wrongErr, ErrInvalidCredentials) || !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", wrongErr, unknownErr)
	}
	if unknown < wrong/4 {
		t.Fatalf("unknown user answered in %v, wrong password in %v", unknown, wrong)
	}
}

func TestGenerateFromTextRecordsTruncatedInput(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)
	long := strings.Repeat("é", domain.StoredTextLimit+50)

	gen, err := f.app.GenerateFromText(context.Background(), user, long, "flashcards")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.ID == 0 || gen.UserID != user.ID {
		t.Fatalf("unexpected generation: %+v", gen)
	}
	if got := len([]rune(gen.InputText)); got != domain.StoredTextLimit {
		t.Fatalf("stored input runes = %d, want %d", got, domain.StoredTextLimit)
	}
	if gen.OutputType != "flashcards" {
		t.Fatalf("output type should be stored as sent, got %q", gen.OutputType)
	}
	if !strings.Contains(f.prompts[0], "Summarize this text:") {
		t.Fatalf("unknown output type should use fallback prompt: %q", f.prompts[0])
	}
	if !strings.HasSuffix(f.prompts[0], long) {
		t.Fatalf("full text should reach the generator")
	}
}

func TestGenerateFromTextErrors(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)
	if _, err := f.app.GenerateFromText(context.Background(), user, "   ", domain.OutputQuiz); !errors.Is(err, ErrInputTextRequired) {
		t.Fatalf("expected ErrInputTextRequired, got %v", err)
	}

	f.fail = errors.New("upstream 503")
	_, err := f.app.GenerateFromText(context.Background(), user, "cells", domain.OutputQuiz)
	if !errors.Is(err, studygen.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if list, _ := f.app.ListGenerations(user, 0); len(list) != 0 {
		t.Fatalf("failed generation must not be recorded: %+v", list)
	}
}

func TestGenerateFromUpload(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)
	data := extracttest.PDF("Mitochondria produce ATP")

	gen, err := f.app.GenerateFromUpload(context.Background(), user, Upload{
		Filename:    "bio.pdf",
		ContentType: extract.MIMEPDF,
		Data:        data,
	}, domain.OutputShortNotes)
	if err != nil {
		t.Fatalf("generate from upload: %v", err)
	}
	if !strings.Contains(gen.InputText, "Mitochondria produce ATP") {
		t.Fatalf("unexpected stored input: %q", gen.InputText)
	}
	uploads := f.store.Uploads()
	if len(uploads) != 1 {
		t.Fatalf("expected one upload row, got %d", len(uploads))
	}
	if uploads[0].FileSize != int64(len(data)) || uploads[0].FileType != extract.MIMEPDF || *uploads[0].UserID != user.ID {
		t.Fatalf("unexpected upload row: %+v", uploads[0])
	}
}

func TestGenerateFromUploadRejectsBadDocuments(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)
	tests := []struct {
		name   string
		upload Upload
		want   error
	}{
		{"text file", Upload{Filename: "a.txt", ContentType: "text/plain", Data: []byte("hi")}, extract.ErrUnsupportedType},
		{"docx", Upload{Filename: "a.docx", ContentType: extract.MIMEDOCX, Data: []byte("PK")}, extract.ErrNotImplemented},
		{"blank pdf", Upload{Filename: "a.pdf", ContentType: extract.MIMEPDF, Data: extracttest.PDF("")}, extract.ErrEmptyExtraction},
		{"corrupt pdf", Upload{Filename: "a.pdf", ContentType: extract.MIMEPDF, Data: []byte("%PDF-garbage")}, extract.ErrUnreadable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.app.GenerateFromUpload(context.Background(), user, tc.upload, domain.OutputQuiz); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
	if len(f.prompts) != 0 {
		t.Fatalf("generator must not be called for rejected uploads")
	}
	if len(f.store.Uploads()) != 0 {
		t.Fatalf("rejected uploads must not be recorded")
	}
}

func TestGetGenerationIsScopedToOwner(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t)
	bob, err := f.app.Register("bob@x.com", "bob", "pw123456")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	gen, err := f.app.GenerateFromText(context.Background(), alice, "cells", domain.OutputQuiz)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := f.app.GetGeneration(alice, gen.ID); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := f.app.GetGeneration(bob, gen.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
	if _, err := f.app.GetGeneration(alice, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestStudySessions(t *testing.T) {
	f := newFixture(t)
	user := f.register(t)
	if _, err := f.app.CreateStudySession(user, " ", nil, nil); !errors.Is(err, ErrSessionNameRequired) {
		t.Fatalf("expected ErrSessionNameRequired, got %v", err)
	}
	negative := -5
	if _, err := f.app.CreateStudySession(user, "bio", nil, &negative); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	minutes := 45
	notes := "chapter 3"
	session, err := f.app.CreateStudySession(user, "bio", &notes, &minutes)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID == 0 || session.UserID != user.ID || *session.DurationMinutes != 45 {
		t.Fatalf("unexpected session: %+v", session)
	}
	list, err := f.app.ListStudySessions(user)
	if err != nil || len(list) != 1 {
		t.Fatalf("list sessions: %v %+v", err, list)
	}
}
