// Package webhook signs and verifies `t=<unix>,v1=<hex>` HMAC-SHA256 headers
// as used by Mux, the identity provider, and the workflow invoker.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrMalformed        = errors.New("malformed signature header")
	ErrStale            = errors.New("signature timestamp outside tolerance")
	ErrMismatch         = errors.New("signature mismatch")
	ErrNoSecret         = errors.New("signing secret is not configured")
)

// Sign returns the header value for body at ts.
func Sign(secret string, ts time.Time, body []byte) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + digest(secret, unix, body)
}

type Verifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{Secret: secret, Tolerance: DefaultTolerance, Now: time.Now}
}

// Verify accepts the header when any v1 entry matches. Providers send several
// during secret rotation.
func (v *Verifier) Verify(header string, body []byte) error {
	if v.Secret == "" {
		return ErrNoSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformed
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrMalformed
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrMalformed
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if v.Tolerance > 0 {
		age := now().Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > v.Tolerance {
			return ErrStale
		}
	}

	expected := digest(v.Secret, ts, body)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrMismatch
}

func digest(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
