package messenger

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"strings"
)

const (
	headerSignature256 = "X-Hub-Signature-256"
	headerSignature    = "X-Hub-Signature"
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrBadSignature     = errors.New("signature mismatch")
)

// VerifySignature checks the request signature against body. An empty
// secret disables the check. The sha256 header is preferred; the legacy
// sha1 header is accepted when it is the only one sent.
func VerifySignature(secret string, h http.Header, body []byte) error {
	if secret == "" {
		return nil
	}

	if sig := h.Get(headerSignature256); sig != "" {
		return checkDigest(sha256.New, secret, "sha256=", sig, body)
	}
	if sig := h.Get(headerSignature); sig != "" {
		return checkDigest(sha1.New, secret, "sha1=", sig, body)
	}
	return ErrMissingSignature
}

func checkDigest(fn func() hash.Hash, secret, prefix, header string, body []byte) error {
	hexSig, ok := strings.CutPrefix(header, prefix)
	if !ok {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(fn, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
