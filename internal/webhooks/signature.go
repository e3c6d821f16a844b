package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// MaxSignatureAge bounds how old a signed delivery may be before receivers reject it.
const MaxSignatureAge = 5 * time.Minute

// Sign returns the X-Signature value "t=<unix>,v1=<hex>" where v1 is HMAC-SHA256 over
// "<unix>.<deliveryID>.<body>". Binding the delivery id keeps a captured body from
// being replayed under another id.
func Sign(secret, deliveryID string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac(secret, ts, deliveryID, body))
}

// Verify checks a header produced by Sign against now.
func Verify(secret, deliveryID string, body []byte, header string, now time.Time) bool {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if age := now.Sub(time.Unix(unix, 0)); age > MaxSignatureAge || age < -MaxSignatureAge {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(secret, ts, deliveryID, body), got)
}

func mac(secret, ts, deliveryID string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(ts + "." + deliveryID + "."))
	m.Write(body)
	return m.Sum(nil)
}
