package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIssueAndVerify(t *testing.T) {
	i := NewIssuer([]byte("test-secret"), "http://localhost:8085", time.Hour)
	sid := uuid.New()

	signed, err := i.Issue(sid, "exam-7")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := i.Verify(signed)
	if err != nil {
		t.Fatal(err)
	}
	if claims.SessionID != sid {
		t.Errorf("SessionID = %s, want %s", claims.SessionID, sid)
	}
	if claims.ExamID != "exam-7" {
		t.Errorf("ExamID = %q, want %q", claims.ExamID, "exam-7")
	}
}

func TestVerify_rejectsWrongSecret(t *testing.T) {
	a := NewIssuer([]byte("secret-a"), "http://localhost:8085", time.Hour)
	b := NewIssuer([]byte("secret-b"), "http://localhost:8085", time.Hour)

	signed, err := a.Issue(uuid.New(), "exam-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(signed); err == nil {
		t.Error("token signed with another secret verified")
	}
}

func TestVerify_rejectsWrongIssuer(t *testing.T) {
	a := NewIssuer([]byte("secret"), "http://monitor-a", time.Hour)
	b := NewIssuer([]byte("secret"), "http://monitor-b", time.Hour)

	signed, _ := a.Issue(uuid.New(), "exam-1")
	if _, err := b.Verify(signed); err == nil {
		t.Error("token from another issuer verified")
	}
}

func TestVerify_rejectsExpired(t *testing.T) {
	i := NewIssuer([]byte("secret"), "http://localhost", -time.Minute)
	signed, _ := i.Issue(uuid.New(), "exam-1")
	if _, err := i.Verify(signed); err == nil {
		t.Error("expired token verified")
	}
}

func TestVerify_rejectsGarbage(t *testing.T) {
	i := NewIssuer([]byte("secret"), "http://localhost", time.Hour)
	if _, err := i.Verify("not-a-token"); err == nil {
		t.Error("garbage token verified")
	}
}
