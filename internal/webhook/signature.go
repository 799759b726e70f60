package webhook

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

// SignatureHeader is the request header carrying the Stripe signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is Stripe's default replay window.
const DefaultTolerance = 300 * time.Second

var (
	ErrMissingHeader   = errors.New("expecting " + SignatureHeader + " header")
	ErrInvalidHeader   = errors.New("unable to extract timestamp and signature from header")
	ErrNoValidSig      = errors.New("no signature found matching the expected signature for payload")
	ErrExpiredSig      = errors.New("timestamp outside the tolerance zone")
	ErrUnknownSecret   = errors.New("unknown signing secret name")
	errEmptySecretName = errors.New("signing secret name must not be empty")
)

// Verifier checks webhook signatures against named signing secrets.
// It is a pure checker: it never logs and never mutates state; callers emit
// the observability event on failure.
type Verifier struct {
	secrets   map[string]string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a Verifier over the secret-name → secret-value map.
// A non-positive tolerance falls back to DefaultTolerance.
func NewVerifier(secrets map[string]string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secrets: secrets, tolerance: tolerance, now: time.Now}
}

// Verify authenticates body against the header using the named secret.
// The scheme is Stripe's v1: HMAC-SHA256 over "<t>.<body>" where t is the
// unix timestamp from the header; the timestamp must be within tolerance.
func (v *Verifier) Verify(body []byte, header, secretName string) error {
	if secretName == "" {
		return errEmptySecretName
	}
	secret, ok := v.secrets[secretName]
	if !ok || secret == "" {
		return fmt.Errorf("%w: %s", ErrUnknownSecret, secretName)
	}
	if header == "" {
		return ErrMissingHeader
	}

	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	if v.now().Sub(time.Unix(ts, 0)) > v.tolerance {
		return ErrExpiredSig
	}

	expected := computeSignature(ts, body, secret)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrNoValidSig
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>…]". Elements with
// other prefixes (e.g. v0) are ignored.
func parseSignatureHeader(header string) (ts int64, sigs [][]byte, err error) {
	ts = -1
	for _, pair := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, ErrInvalidHeader
			}
		case "v1":
			sig, err := hex.DecodeString(val)
			if err != nil {
				continue // ignore malformed entries, another may match
			}
			sigs = append(sigs, sig)
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return 0, nil, ErrInvalidHeader
	}
	return ts, sigs, nil
}

func computeSignature(ts int64, body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignPayload produces a valid signature header for body at time t.
// Used by tests and local tooling.
func SignPayload(body []byte, secret string, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature(ts, body, secret)))
}
