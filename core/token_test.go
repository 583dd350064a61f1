package core

import (
	"strings"
	"testing"
	"time"
)

func testCodec(t *testing.T, lifetime time.Duration) *TokenCodec {
	t.Helper()
	tc, err := NewTokenCodec([]SigningKey{{Version: 1, Secret: []byte("test-secret-v1")}}, lifetime)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return tc
}

func TestTokenRoundTrip(t *testing.T) {
	tc := testCodec(t, 24*time.Hour)
	issued := time.Now().UTC().Truncate(time.Second)

	for _, p := range Purposes {
		t.Run(string(p), func(t *testing.T) {
			token, err := tc.Mint(3, 17, p, issued)
			if err != nil {
				t.Fatalf("Mint: %v", err)
			}
			pt, err := tc.Decode(token)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if pt.CampaignId != 3 || pt.TargetId != 17 {
				t.Errorf("got campaign=%d target=%d, want 3/17", pt.CampaignId, pt.TargetId)
			}
			if pt.Purpose != p {
				t.Errorf("got purpose %s, want %s", pt.Purpose, p)
			}
			if pt.KeyVersion != 1 {
				t.Errorf("got key version %d, want 1", pt.KeyVersion)
			}
			if !pt.IssuedAt.Equal(issued) {
				t.Errorf("got issued %v, want %v", pt.IssuedAt, issued)
			}
		})
	}
}

func TestTokenMintUnknownPurpose(t *testing.T) {
	tc := testCodec(t, 0)
	if _, err := tc.Mint(1, 1, Purpose("peek"), time.Now()); err == nil {
		t.Error("expected error for unknown purpose")
	}
}

func TestTokenTamper(t *testing.T) {
	tc := testCodec(t, 24*time.Hour)
	token, err := tc.Mint(1, 2, PurposeClick, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	parts := strings.Split(token, ".")

	flip := func(s string) string {
		b := []byte(s)
		i := len(b) / 2
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		return string(b)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"two segments", parts[0] + "." + parts[1]},
		{"four segments", token + ".extra"},
		{"bad version prefix", "x1." + parts[1] + "." + parts[2]},
		{"unknown key version", "v9." + parts[1] + "." + parts[2]},
		{"flipped payload", parts[0] + "." + flip(parts[1]) + "." + parts[2]},
		{"flipped signature", parts[0] + "." + parts[1] + "." + flip(parts[2])},
		{"truncated signature", parts[0] + "." + parts[1] + "." + parts[2][:10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tc.Decode(tt.token); err != ErrInvalidToken {
				t.Errorf("got %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenWrongKey(t *testing.T) {
	tc := testCodec(t, 0)
	other, err := NewTokenCodec([]SigningKey{{Version: 1, Secret: []byte("a-different-secret")}}, 0)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	token, err := tc.Mint(1, 1, PurposeOpen, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := other.Decode(token); err != ErrInvalidToken {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	tc := testCodec(t, time.Hour)
	token, err := tc.Mint(1, 1, PurposeOpen, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := tc.Decode(token); err != ErrExpiredToken {
		t.Errorf("got %v, want ErrExpiredToken", err)
	}

	// zero lifetime disables expiry
	forever := testCodec(t, 0)
	token, err = forever.Mint(1, 1, PurposeOpen, time.Now().Add(-1000*time.Hour))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := forever.Decode(token); err != nil {
		t.Errorf("Decode: %v", err)
	}
}

func TestTokenRotation(t *testing.T) {
	tc := testCodec(t, 24*time.Hour)
	old, err := tc.Mint(5, 6, PurposeSubmit, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := tc.AddKey(2, []byte("test-secret-v2")); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	if v := tc.ActiveKeyVersion(); v != 2 {
		t.Fatalf("active version = %d, want 2", v)
	}

	// tokens minted under the retired key stay valid
	pt, err := tc.Decode(old)
	if err != nil {
		t.Fatalf("Decode old token: %v", err)
	}
	if pt.KeyVersion != 1 {
		t.Errorf("old token key version = %d, want 1", pt.KeyVersion)
	}

	fresh, err := tc.Mint(5, 6, PurposeSubmit, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	pt, err = tc.Decode(fresh)
	if err != nil {
		t.Fatalf("Decode fresh token: %v", err)
	}
	if pt.KeyVersion != 2 {
		t.Errorf("fresh token key version = %d, want 2", pt.KeyVersion)
	}

	if err := tc.AddKey(2, []byte("stale")); err == nil {
		t.Error("expected error when re-adding current version")
	}
	if err := tc.AddKey(1, []byte("stale")); err == nil {
		t.Error("expected error when adding older version")
	}
}
