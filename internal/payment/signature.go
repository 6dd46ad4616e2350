package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature: "t=<unix>,v1=<hex hmac>".
// The HMAC-SHA256 is computed over "<unix>.<raw body>" with the shared
// webhook secret, so neither timestamp nor body can be swapped independently.
const SignatureHeader = "Fastpay-Signature"

var ErrInvalidSignature = errors.New("webhook signature verification failed")

// Sign produces the header value for a payload. Used by the gateway (and by
// tests building fixtures).
func Sign(secret []byte, ts time.Time, body []byte) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", unix, hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature checks the header against the body. tolerance bounds how
// stale the signed timestamp may be; zero disables the staleness check.
func VerifySignature(secret []byte, header string, body []byte, now time.Time, tolerance time.Duration) error {
	ts, sig, err := parseHeader(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrInvalidSignature
		}
	}

	expected := Sign(secret, time.Unix(ts, 0), body)
	_, expectedSig, _ := parseHeader(expected)
	if !hmac.Equal([]byte(sig), []byte(expectedSig)) {
		return ErrInvalidSignature
	}
	return nil
}

func parseHeader(header string) (ts int64, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", ErrInvalidSignature
			}
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", ErrInvalidSignature
	}
	return ts, sig, nil
}
