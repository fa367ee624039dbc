package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature validates an x-signature header of the form "ts=…,v1=…"
// against the manifest "id:{dataID};request-id:{requestID};ts:{ts};".
// An empty secret disables verification.
func VerifySignature(secret, signature, requestID, dataID string) bool {
	if secret == "" {
		return true
	}

	var ts, v1 string
	for _, part := range strings.Split(signature, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	expected, err := hex.DecodeString(v1)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sign(secret, manifest(dataID, requestID, ts)))
}

// Sign returns the x-signature header value for a notification. Used by tests
// and local tooling that replays provider webhooks.
func Sign(secret, requestID, dataID, ts string) string {
	return "ts=" + ts + ",v1=" + hex.EncodeToString(sign(secret, manifest(dataID, requestID, ts)))
}

func manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func sign(secret, message string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return mac.Sum(nil)
}
