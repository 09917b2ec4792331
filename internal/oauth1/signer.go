// Package oauth1 signs HTTP requests with OAuth1.0a HMAC-SHA1.
package oauth1

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dgellow/xpost/internal/crypto"
)

// Signer holds the consumer credentials and, once known, the token pair.
// Token and TokenSecret are empty when requesting a temporary token.
type Signer struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string

	// Now and Nonce default to the wall clock and crypto.Nonce
	Now   func() time.Time
	Nonce func() (string, error)
}

// WithToken returns a copy of s that signs with the given token pair
func (s Signer) WithToken(token, secret string) Signer {
	s.Token = token
	s.TokenSecret = secret
	return s
}

// Authorize implements platform.Authorizer
func (s Signer) Authorize(req *http.Request) error {
	return s.Sign(req, nil)
}

// Sign computes the signature over the oauth_* protocol parameters, the
// extra protocol parameters (oauth_callback, oauth_verifier) and the
// request's query parameters, then sets the Authorization header. Request
// bodies are never signed: form bodies are not used with this signer.
func (s Signer) Sign(req *http.Request, extra map[string]string) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	nonceFn := crypto.Nonce
	if s.Nonce != nil {
		nonceFn = s.Nonce
	}

	nonce, err := nonceFn()
	if err != nil {
		return err
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        crypto.Timestamp(now()),
		"oauth_version":          "1.0",
	}
	if s.Token != "" {
		oauthParams["oauth_token"] = s.Token
	}
	for k, v := range extra {
		if !strings.HasPrefix(k, "oauth_") {
			return fmt.Errorf("extra parameter %q is not an oauth protocol parameter", k)
		}
		oauthParams[k] = v
	}

	params := make([]crypto.Param, 0, len(oauthParams)+len(req.URL.Query()))
	for k, v := range oauthParams {
		params = append(params, crypto.Param{Key: k, Value: v})
	}
	for k, vs := range req.URL.Query() {
		for _, v := range vs {
			params = append(params, crypto.Param{Key: k, Value: v})
		}
	}

	oauthParams["oauth_signature"] = crypto.HMACSHA1Signature(req.Method, baseURL(req.URL), params, s.ConsumerSecret, s.TokenSecret)
	req.Header.Set("Authorization", authorizationHeader(oauthParams))
	return nil
}

// baseURL is scheme://host/path with the scheme and host lowercased and
// default ports dropped
func baseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) || (scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func authorizationHeader(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf(`%s="%s"`, crypto.PercentEncode(k), crypto.PercentEncode(params[k]))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// ParseAuthorizationHeader decodes an OAuth Authorization header into its
// parameters
func ParseAuthorizationHeader(h string) (map[string]string, error) {
	rest, ok := strings.CutPrefix(h, "OAuth ")
	if !ok {
		return nil, fmt.Errorf("not an OAuth authorization header")
	}
	out := make(map[string]string)
	for part := range strings.SplitSeq(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed parameter %q", part)
		}
		key, err := url.PathUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("decoding key %q: %w", k, err)
		}
		val, err := url.PathUnescape(strings.Trim(v, `"`))
		if err != nil {
			return nil, fmt.Errorf("decoding value for %q: %w", key, err)
		}
		out[key] = val
	}
	return out, nil
}
