package payment

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var (
	testSecret = []byte("whsec_test_secret")
	testBody   = []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"intent_id":"pi_1"}}`)
)

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Now()
	header := Sign(testSecret, now, testBody)

	if err := VerifySignature(testSecret, header, testBody, now, 5*time.Minute); err != nil {
		t.Fatalf("VerifySignature() = %v, want nil", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	now := time.Now()
	header := Sign(testSecret, now, testBody)

	tampered := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"intent_id":"pi_evil"}}`)
	err := VerifySignature(testSecret, header, tampered, now, 5*time.Minute)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("VerifySignature() = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	header := Sign([]byte("other_secret"), now, testBody)

	err := VerifySignature(testSecret, header, testBody, now, 5*time.Minute)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("VerifySignature() = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	signedAt := time.Now().Add(-time.Hour)
	header := Sign(testSecret, signedAt, testBody)

	err := VerifySignature(testSecret, header, testBody, time.Now(), 5*time.Minute)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("VerifySignature() = %v, want ErrInvalidSignature for stale timestamp", err)
	}
}

func TestVerifyRejectsReplayedTimestampInHeader(t *testing.T) {
	// Swapping the timestamp component without re-signing must fail because
	// the timestamp is part of the signed input.
	now := time.Now()
	header := Sign(testSecret, now, testBody)
	parts := strings.SplitN(header, ",", 2)
	forged := "t=1700000000," + parts[1]

	err := VerifySignature(testSecret, forged, testBody, now, 0)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("VerifySignature() = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "garbage", "t=abc,v1=00", "v1=deadbeef", "t=1700000000"} {
		if err := VerifySignature(testSecret, header, testBody, time.Now(), 0); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("header %q: VerifySignature() = %v, want ErrInvalidSignature", header, err)
		}
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(testBody)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventIntentSucceeded || ev.Data.IntentID != "pi_1" {
		t.Fatalf("ParseEvent() = %+v", ev)
	}
}
