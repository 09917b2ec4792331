package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Param is a single request parameter that takes part in an OAuth1.0a
// signature. Duplicate keys are allowed.
type Param struct {
	Key   string
	Value string
}

// Timestamp formats t as seconds since the epoch
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

const upperhex = "0123456789ABCDEF"

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

// PercentEncode encodes s as RFC 3986 requires for OAuth1.0a: every byte
// outside ALPHA / DIGIT / "-" / "." / "_" / "~" becomes %XX. Unlike
// url.QueryEscape, space is %20 and ! * ' ( ) are escaped.
func PercentEncode(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !isUnreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// NormalizeParams percent-encodes every key and value, sorts by encoded key
// then encoded value, and joins them as k=v pairs separated by &
func NormalizeParams(params []Param) string {
	encoded := make([]Param, len(params))
	for i, p := range params {
		encoded[i] = Param{Key: PercentEncode(p.Key), Value: PercentEncode(p.Value)}
	}
	sort.SliceStable(encoded, func(i, j int) bool {
		if encoded[i].Key != encoded[j].Key {
			return encoded[i].Key < encoded[j].Key
		}
		return encoded[i].Value < encoded[j].Value
	})

	pairs := make([]string, len(encoded))
	for i, p := range encoded {
		pairs[i] = p.Key + "=" + p.Value
	}
	return strings.Join(pairs, "&")
}

// SignatureBaseString builds METHOD&enc(baseURL)&enc(normalized params).
// baseURL must not contain a query string or fragment.
func SignatureBaseString(method, baseURL string, params []Param) string {
	return strings.ToUpper(method) + "&" + PercentEncode(baseURL) + "&" + PercentEncode(NormalizeParams(params))
}

// HMACSHA1Signature signs the base string with the key
// enc(consumerSecret)&enc(tokenSecret) and returns the digest in standard
// base64. tokenSecret is empty when requesting a temporary token.
func HMACSHA1Signature(method, baseURL string, params []Param, consumerSecret, tokenSecret string) string {
	key := PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(SignatureBaseString(method, baseURL, params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// PKCEChallenge returns the S256 code challenge for verifier:
// base64url(sha256(verifier)) without padding
func PKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
