package auth

import (
	"testing"
	"time"
)

func TestIssueAndVerify_RoundTrips(t *testing.T) {
	m := NewTokenManager("test-secret")
	token, err := m.Issue("player1", "room1", "session1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := m.Verify(token, "room1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.PlayerID != "player1" || claims.SessionID != "session1" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerify_RejectsTokenScopedToAnotherRoom(t *testing.T) {
	m := NewTokenManager("test-secret")
	token, _ := m.Issue("player1", "room1", "session1")
	if _, err := m.Verify(token, "room2"); err != ErrForeignRoom {
		t.Errorf("expected ErrForeignRoom, got %v", err)
	}
}

func TestVerify_RejectsTokenSignedWithADifferentSecret(t *testing.T) {
	m1 := NewTokenManager("secret-a")
	m2 := NewTokenManager("secret-b")
	token, _ := m1.Issue("player1", "room1", "session1")
	if _, err := m2.Verify(token, "room1"); err == nil {
		t.Error("expected verification to fail against a token signed with a different secret")
	}
}

func TestNeedsRefresh_TrueOnlyInsideTheRefreshWindow(t *testing.T) {
	m := NewTokenManager("test-secret")
	m.TTL = 2 * time.Minute
	token, _ := m.Issue("player1", "room1", "session1")
	claims, err := m.Verify(token, "room1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claims.NeedsRefresh() {
		t.Error("expected a token expiring in 2 minutes to need refresh within the 5-minute window")
	}

	m.TTL = defaultTTL
	token, _ = m.Issue("player1", "room1", "session1")
	claims, _ = m.Verify(token, "room1")
	if claims.NeedsRefresh() {
		t.Error("expected a freshly issued 24h token to not need refresh")
	}
}

func TestRefresh_PreservesTheSameBinding(t *testing.T) {
	m := NewTokenManager("test-secret")
	token, _ := m.Issue("player1", "room1", "session1")
	claims, _ := m.Verify(token, "room1")

	refreshed, err := m.Refresh(claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	newClaims, err := m.Verify(refreshed, "room1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newClaims.PlayerID != "player1" || newClaims.SessionID != "session1" || newClaims.RoomID != "room1" {
		t.Errorf("expected refresh to preserve the original binding, got %+v", newClaims)
	}
}
