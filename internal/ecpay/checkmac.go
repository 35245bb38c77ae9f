// Package ecpay implements the outbound form and signature protocol for the
// ECPay all-in-one payment gateway.
package ecpay

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// checkMacField is the signature field, excluded from its own digest.
const checkMacField = "CheckMacValue"

// CheckMacValue computes the gateway signature over params: all fields except
// the signature itself, sorted by name bytewise, joined as key=value pairs
// with '&', wrapped with the shared secret prefix/suffix, URL-encoded in the
// gateway's variant, lowercased, MD5-hashed, and returned as uppercase hex.
func CheckMacValue(params map[string]string, hashKey, hashIV string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == checkMacField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("HashKey=")
	b.WriteString(hashKey)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString("&HashIV=")
	b.WriteString(hashIV)

	encoded := strings.ToLower(urlEncode(b.String()))
	sum := md5.Sum([]byte(encoded))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyCheckMac recomputes the signature over params and compares it with
// the provided CheckMacValue field. Any mismatch, including a missing
// signature, is a rejection.
func VerifyCheckMac(params map[string]string, hashKey, hashIV string) bool {
	provided, ok := params[checkMacField]
	if !ok || provided == "" {
		return false
	}
	expected := CheckMacValue(params, hashKey, hashIV)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// urlEncode percent-encodes with the gateway's .NET-style rules: space
// becomes '+' and the characters !()*-._~' stay literal. This deviates from
// RFC 3986 on purpose; the gateway computes its digest over exactly this
// encoding, so any other variant breaks signature verification.
func urlEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			b.WriteByte('+')
		case c >= 'A' && c <= 'Z',
			c >= 'a' && c <= 'z',
			c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '!' || c == '(' || c == ')' || c == '*' ||
			c == '-' || c == '.' || c == '_' || c == '~' || c == '\'':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		}
	}
	return b.String()
}
