package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

func mac(secret, payload string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return h.Sum(nil)
}

// SignHex returns the hex HMAC-SHA256 of payload.
func SignHex(secret, payload string) string {
	return hex.EncodeToString(mac(secret, payload))
}

// SignBase64 returns the base64 HMAC-SHA256 of payload.
func SignBase64(secret, payload string) string {
	return base64.StdEncoding.EncodeToString(mac(secret, payload))
}
