package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-lifecycle/internal/models"
)

func TestIssueVerify(t *testing.T) {
	v := NewVerifier("secret")
	tok, err := v.Issue(models.Caller{ID: "d1", Name: "Dana", Role: models.RoleDriver}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "d1" || c.Role != models.RoleDriver || c.Name != "Dana" {
		t.Fatalf("unexpected caller %+v", c)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret")
	other, _ := NewVerifier("other").Issue(models.Caller{ID: "u1", Role: models.RoleRider}, time.Minute)
	expired, _ := v.Issue(models.Caller{ID: "u1", Role: models.RoleRider}, -time.Minute)
	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u1"}).SignedString([]byte("secret"))

	for name, tok := range map[string]string{"wrong key": other, "expired": expired, "no role": noRole, "garbage": "abc"} {
		if _, err := v.Verify(tok); !errors.Is(err, models.ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, err := BearerToken(r); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	r.Header.Set("Authorization", "Bearer abc.def")
	tok, err := BearerToken(r)
	if err != nil || tok != "abc.def" {
		t.Fatalf("tok=%q err=%v", tok, err)
	}
}
