package intent

import (
	"fmt"
	"net/url"
)

// Templates renders follow-up message bodies.
type Templates struct {
	HoursURL string
	FAQURL   string
	Address  string
}

// Body returns the message for key, or "" when key is unknown or the
// template has nothing to say.
func (t Templates) Body(key string) string {
	switch key {
	case FollowUpHours:
		if t.HoursURL == "" {
			return ""
		}
		return "営業時間のご案内です： " + t.HoursURL
	case FollowUpAccess:
		if t.Address == "" {
			return ""
		}
		return fmt.Sprintf("店舗所在地：%s\n地図：%s", t.Address, MapsURL(t.Address))
	case FollowUpFAQ:
		if t.FAQURL == "" {
			return ""
		}
		return "よくあるご質問と料金一覧： " + t.FAQURL
	}
	return ""
}

// MapsURL returns a map search link for address.
func MapsURL(address string) string {
	return "https://maps.google.com/?q=" + url.QueryEscape(address)
}
