package pwstudio

import "net/url"

// redactDSN hides the password of URL-shaped DSNs for error messages.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
