package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/bloodlink/internal/model"
)

func TestNewPostgresWebSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresWebSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

func newWebSession(id string, ttl time.Duration) *model.WebSession {
	now := time.Now()
	return &model.WebSession{
		ID:        id,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

func TestPostgresWebSessionRepo_CreateAndFind_Anonymous(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresWebSessionRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, newWebSession("ws-anon", time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.FindByID(ctx, "ws-anon")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.Identity != nil {
		t.Errorf("Identity = %+v, want nil", got.Identity)
	}
	if got.AccessToken != "" {
		t.Errorf("AccessToken = %q, want empty", got.AccessToken)
	}
}

func TestPostgresWebSessionRepo_FindByID_Expired_ReturnsNil(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresWebSessionRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, newWebSession("ws-expired", -time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.FindByID(ctx, "ws-expired")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for expired session, got %+v", got)
	}
}

func TestPostgresWebSessionRepo_IdentityAndToken(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresWebSessionRepo(db)
	ctx := context.Background()

	if err := repo.Create(ctx, newWebSession("ws-1", time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ident := &model.Identity{
		Email:          "donor@example.com",
		Name:           "Rahim",
		AvatarURL:      "https://example.com/a.png",
		Provider:       "google",
		ProviderUserID: "g-1",
	}
	if err := repo.SetIdentity(ctx, "ws-1", ident); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	if err := repo.SetAccessToken(ctx, "ws-1", "tok-1"); err != nil {
		t.Fatalf("SetAccessToken: %v", err)
	}

	got, err := repo.FindByID(ctx, "ws-1")
	if err != nil || got == nil {
		t.Fatalf("FindByID: %v, %v", got, err)
	}
	if got.Identity == nil || got.Identity.Email != "donor@example.com" || got.Identity.Name != "Rahim" {
		t.Errorf("Identity = %+v", got.Identity)
	}
	tok, err := repo.GetAccessToken(ctx, "ws-1")
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %q, want %q", tok, "tok-1")
	}

	if err := repo.ClearAccessToken(ctx, "ws-1"); err != nil {
		t.Fatalf("ClearAccessToken: %v", err)
	}
	tok, _ = repo.GetAccessToken(ctx, "ws-1")
	if tok != "" {
		t.Errorf("token after clear = %q, want empty", tok)
	}

	if err := repo.SetAccessToken(ctx, "ws-1", "tok-2"); err != nil {
		t.Fatalf("SetAccessToken: %v", err)
	}
	if err := repo.ClearIdentity(ctx, "ws-1"); err != nil {
		t.Fatalf("ClearIdentity: %v", err)
	}
	got, _ = repo.FindByID(ctx, "ws-1")
	if got.Identity != nil || got.AccessToken != "" {
		t.Errorf("after ClearIdentity: identity=%+v token=%q", got.Identity, got.AccessToken)
	}
}

func TestPostgresWebSessionRepo_DeleteExpired(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresWebSessionRepo(db)
	ctx := context.Background()

	_ = repo.Create(ctx, newWebSession("ws-live", time.Hour))
	_ = repo.Create(ctx, newWebSession("ws-old", -time.Hour))

	n, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if got, _ := repo.FindByID(ctx, "ws-live"); got == nil {
		t.Error("live session should remain")
	}
}

func TestPostgresConfirmationRepo_SaveAndFind(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresConfirmationRepo(db)
	ctx := context.Background()

	got, err := repo.FindByCheckoutSessionID(ctx, "cs_none")
	if err != nil {
		t.Fatalf("FindByCheckoutSessionID: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}

	c := &model.PaymentConfirmation{
		CheckoutSessionID: "cs_123",
		WebSessionID:      "ws-1",
		Status:            model.ConfirmationPending,
	}
	if err := repo.Save(ctx, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	c.Status = model.ConfirmationConfirmed
	c.Message = model.MsgPaymentConfirmed
	if err := repo.Save(ctx, c); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	got, err = repo.FindByCheckoutSessionID(ctx, "cs_123")
	if err != nil || got == nil {
		t.Fatalf("FindByCheckoutSessionID: %v, %v", got, err)
	}
	if got.Status != model.ConfirmationConfirmed {
		t.Errorf("Status = %q, want %q", got.Status, model.ConfirmationConfirmed)
	}
	if got.WebSessionID != "ws-1" {
		t.Errorf("WebSessionID = %q, want %q", got.WebSessionID, "ws-1")
	}

	n, err := repo.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}
