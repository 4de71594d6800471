package core

import (
	"errors"
	"math/big"
	"testing"
)

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestUserCloneIsDeep(t *testing.T) {
	u := NewUser("alice", "premium")
	u.Points.SetInt64(10)
	u.AddPending("premium", 2)

	cp := u.Clone()
	cp.Points.SetInt64(99)
	cp.AddPending("premium", 3)

	if u.Points.Int64() != 10 {
		t.Fatalf("points leaked into original: %s", u.Points)
	}
	if _, ok := u.PendingTiers("premium")[3]; ok {
		t.Fatal("pending set leaked into original")
	}
}

func TestCloneKeepsNilPendingSet(t *testing.T) {
	u := NewUser("alice", "premium")
	u.Pending["free"] = nil
	cp := u.Clone()
	if set, ok := cp.Pending["free"]; !ok || set != nil {
		t.Fatalf("expected nil set to survive clone, got %v %v", set, ok)
	}
}

func TestPendingTiers(t *testing.T) {
	var u User
	if u.PendingTiers("premium") != nil {
		t.Fatal("expected nil pending set")
	}
	u.AddPending("premium", 4)
	if !u.RemovePending("premium", 4) {
		t.Fatal("expected tier 4 to be pending")
	}
	if u.RemovePending("premium", 4) {
		t.Fatal("tier 4 removed twice")
	}
	if u.PendingTiers("premium") == nil {
		t.Fatal("emptied set should stay non-nil")
	}
}

func TestHasPass(t *testing.T) {
	u := NewUser("bob", "premium")
	if !u.HasPass("premium") || u.HasPass("free") {
		t.Fatalf("unexpected HasPass result for %q", u.PassID)
	}
	if (User{}).HasPass("") {
		t.Fatal("empty pass id must never match")
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" 123456789012345678901234567890 ")
	if err != nil {
		t.Fatal(err)
	}
	want, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	if v.Cmp(want) != 0 {
		t.Fatalf("got %s", v)
	}
	for _, bad := range []string{"", "12a", "1.5", "ten"} {
		if _, err := ParseAmount(bad); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q: expected ErrInvalidAmount, got %v", bad, err)
		}
	}
	if _, err := ParseNonNegativeAmount("-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected negative amount rejected, got %v", err)
	}
	if FormatAmount(nil) != "0" {
		t.Fatal("nil amount should format as 0")
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("[Webhook] https://example.test/hook")
	if err != nil {
		t.Fatal(err)
	}
	if a.Type != "webhook" || a.Value != "https://example.test/hook" {
		t.Fatalf("unexpected action %+v", a)
	}
	a, err = ParseAction("congratulations!")
	if err != nil || a.Type != "message" {
		t.Fatalf("expected message action, got %+v %v", a, err)
	}
	if _, err := ParseAction("[broken value"); err == nil {
		t.Fatal("expected unterminated type error")
	}
	if _, err := ParseAction("  "); err == nil {
		t.Fatal("expected empty action error")
	}
}

func TestActionExpand(t *testing.T) {
	a := Action{Type: "message", Value: "%player% reached tier %tier% of %pass_id%"}
	got := a.Expand(NewUser("alice", "premium"), 7)
	if got != "alice reached tier 7 of premium" {
		t.Fatalf("got %q", got)
	}
}

func TestEventEnsureAndMeta(t *testing.T) {
	ev := Event{Type: EventMove, Metadata: map[string]any{"distance": float64(12)}}.Ensure()
	if ev.ID == "" || ev.Time.IsZero() {
		t.Fatalf("ensure did not stamp event: %+v", ev)
	}
	if d, ok := ev.MetaInt64("distance"); !ok || d != 12 {
		t.Fatalf("got %v %v", d, ok)
	}
	if _, ok := ev.MetaInt64("missing"); ok {
		t.Fatal("missing key should not be found")
	}
}
