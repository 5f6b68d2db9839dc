package nest

import "time"

// Credentials is the session material obtained from a successful login.
// It is owned by the session; everything else treats it as read-only.
type Credentials struct {
	// TransportURL is the per-account service endpoint all relative
	// requests are resolved against.
	TransportURL string `json:"transport_url"`
	// AccessToken is the opaque bearer material sent on every
	// authenticated request.
	AccessToken string `json:"access_token"`
	// UserID is the numeric account id.
	UserID string `json:"userid"`
	// User is the account handle in "user.<id>" form.
	User string `json:"user"`
	// ExpiresAt is when the session stops being usable.
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the credentials are complete and unexpired.
func (c *Credentials) Valid() bool {
	if c == nil {
		return false
	}
	if c.TransportURL == "" || c.AccessToken == "" || c.UserID == "" || c.User == "" {
		return false
	}
	return time.Now().Before(c.ExpiresAt)
}

// expiryLayouts are the datetime formats the session endpoint has been seen
// using for its expires_in field.
var expiryLayouts = []string{
	"Mon, 02-Jan-2006 15:04:05 MST",
	time.RFC1123,
	time.RFC3339,
}

// parseExpiry parses the vendor's expiry datetime string.
func parseExpiry(s string) (time.Time, error) {
	var err error
	for _, layout := range expiryLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
