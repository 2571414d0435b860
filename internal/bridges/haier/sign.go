package haier

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// bodyWhitespace is removed from request bodies before signing.
var bodyWhitespace = strings.NewReplacer(" ", "", "\t", "", "\r", "", "\n", "")

// Sign computes the request signature: hex SHA-256 over the URL path
// (query dropped), the body with spaces, tabs, CR and LF removed, the app
// id, the app key and the millisecond timestamp, concatenated with no
// separators.
func Sign(appID, appKey string, timestampMillis int64, body, rawURL string) string {
	var b strings.Builder
	b.WriteString(urlPath(rawURL))
	b.WriteString(bodyWhitespace.Replace(body))
	b.WriteString(appID)
	b.WriteString(appKey)
	b.WriteString(strconv.FormatInt(timestampMillis, 10))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// urlPath returns the path of rawURL as written, percent-escapes kept.
func urlPath(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.EscapedPath()
	}
	path, _, _ := strings.Cut(rawURL, "?")
	return path
}

// Credentials identify the application and account on signed calls.
type Credentials struct {
	AppID    string
	AppKey   string
	ClientID string
	Timezone string
	Language string
}

// sequenceID returns a yyyyMMddHHmmss local timestamp followed by six
// random digits. The server only uses it as an advisory dedup key.
func sequenceID(now time.Time) string {
	return now.Format("20060102150405") + strconv.Itoa(100000+rand.IntN(900000))
}

// signedHeaders builds the header set required by every signed REST call.
// Keys are assigned directly to keep the vendor's casing on the wire.
func signedHeaders(creds Credentials, accessToken, rawURL, body string, now time.Time) http.Header {
	ts := now.UnixMilli()
	h := http.Header{}
	h["accessToken"] = []string{accessToken}
	h["appId"] = []string{creds.AppID}
	h["appKey"] = []string{creds.AppKey}
	h["clientId"] = []string{creds.ClientID}
	h["sequenceId"] = []string{sequenceID(now)}
	h["sign"] = []string{Sign(creds.AppID, creds.AppKey, ts, body, rawURL)}
	h["timestamp"] = []string{strconv.FormatInt(ts, 10)}
	h["timezone"] = []string{creds.Timezone}
	h["language"] = []string{creds.Language}
	return h
}
