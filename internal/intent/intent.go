// Package intent maps a caller's first utterance to a spoken reply and an
// optional follow-up message.
package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// Follow-up template keys.
const (
	FollowUpHours  = "hours"
	FollowUpAccess = "access"
	FollowUpFAQ    = "faq"
)

// Intent is the coarse category of an utterance.
type Intent string

const (
	Reserve Intent = "reserve"
	Hours   Intent = "hours"
	Access  Intent = "access"
	Agent   Intent = "agent"
	FAQ     Intent = "faq"
	Other   Intent = "other"
)

// Reply is what the call should say next. FollowUp, when non-empty, names
// the template to send as a text message.
type Reply struct {
	Intent   Intent
	Text     string
	FollowUp string
}

// Policy chooses a reply for an utterance. Implementations must be pure.
type Policy interface {
	Classify(utterance string) Reply
}

type rule struct {
	intent  Intent
	pattern *regexp.Regexp
	reply   Reply
}

// echoRunes is how much of an unrecognised utterance is read back.
const echoRunes = 30

// KeywordPolicy matches ordered keyword rules; the first match wins.
type KeywordPolicy struct {
	rules []rule
}

// NewKeywordPolicy returns the default reservation/hours/access/agent/FAQ rules.
func NewKeywordPolicy() *KeywordPolicy {
	return &KeywordPolicy{rules: []rule{
		{
			intent:  Reserve,
			pattern: regexp.MustCompile(`予約|よやく|book|reserve`),
			reply:   Reply{Text: "ご予約の件ですね。ご希望の日時と内容をお話しください。"},
		},
		{
			intent:  Hours,
			pattern: regexp.MustCompile(`営業時間|何時|open|close|いつまで`),
			reply:   Reply{Text: "営業時間をご案内します。SMSのリンクをご確認ください。", FollowUp: FollowUpHours},
		},
		{
			intent:  Access,
			pattern: regexp.MustCompile(`住所|場所|アクセス|行き方|どこ|最寄り|駐車|parking|map|地図`),
			reply:   Reply{Text: "所在地をSMSでお送りします。ご確認ください。", FollowUp: FollowUpAccess},
		},
		{
			intent:  Agent,
			pattern: regexp.MustCompile(`担当|折り返し|オペレーター|人と話|転送|代表`),
			reply:   Reply{Text: "担当者への取次ですね。折り返し希望ならお名前と番号をどうぞ。"},
		},
		{
			intent:  FAQ,
			pattern: regexp.MustCompile(`料金|値段|価格|支払|決済|方法|メール`),
			reply:   Reply{Text: "料金やお支払い方法はSMSのリンクをご案内します。", FollowUp: FollowUpFAQ},
		},
	}}
}

// Classify implements Policy.
func (p *KeywordPolicy) Classify(utterance string) Reply {
	t := strings.ToLower(utterance)
	for _, r := range p.rules {
		if r.pattern.MatchString(t) {
			reply := r.reply
			reply.Intent = r.intent
			return reply
		}
	}
	return Reply{
		Intent: Other,
		Text:   fmt.Sprintf("承知しました。今『%s』と伺いました。詳しいご要件を続けてどうぞ。", truncateRunes(utterance, echoRunes)),
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
