package intent

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// StoreInfo is the fixed information the store-info policy answers with.
type StoreInfo struct {
	Name    string
	Hours   string
	Closed  string
	Address string
	Phone   string
}

var (
	symbolRe = regexp.MustCompile(`[^\p{L}\p{N}_ぁ-んァ-ン一-龥 ]`)
	spaceRe  = regexp.MustCompile(`\s+`)

	storeHoursRe  = regexp.MustCompile(`営業時間|何時|いつ.*(開|やっ)|open|時間|何時まで|何時から`)
	storeAccessRe = regexp.MustCompile(`どこ|住所|場所|所在地|アクセス|行き方|地図|最寄り`)
	storeClosedRe = regexp.MustCompile(`定休日|休み|休業日|休店日`)
	storePriceRe  = regexp.MustCompile(`料金|値段|費用|いくら|価格`)
	storeGreetRe  = regexp.MustCompile(`はじめまして|こんにちは|もしもし|おはよう|こんばんは`)
)

// StoreInfoPolicy answers common store questions directly and defers
// everything else to a fallback policy.
type StoreInfoPolicy struct {
	info     StoreInfo
	fallback Policy
}

// NewStoreInfoPolicy creates a store-info policy. A nil fallback uses the
// keyword policy.
func NewStoreInfoPolicy(info StoreInfo, fallback Policy) *StoreInfoPolicy {
	if fallback == nil {
		fallback = NewKeywordPolicy()
	}
	return &StoreInfoPolicy{info: info, fallback: fallback}
}

// Classify implements Policy.
func (p *StoreInfoPolicy) Classify(utterance string) Reply {
	t := normalize(utterance)
	info := p.info

	switch {
	case storeHoursRe.MatchString(t):
		return Reply{
			Intent:   Hours,
			Text:     fmt.Sprintf("営業時間は%s、定休日は%sです。", info.Hours, info.Closed),
			FollowUp: FollowUpHours,
		}
	case storeAccessRe.MatchString(t):
		text := fmt.Sprintf("所在地は%sです。", info.Address)
		if info.Phone != "" && strings.Contains(t, "電話") {
			text += fmt.Sprintf(" お電話は%sへお願いします。", info.Phone)
		}
		return Reply{Intent: Access, Text: text, FollowUp: FollowUpAccess}
	case storeClosedRe.MatchString(t):
		return Reply{Intent: Hours, Text: fmt.Sprintf("定休日は%sです。", info.Closed)}
	case storePriceRe.MatchString(t):
		return Reply{
			Intent:   FAQ,
			Text:     "ガラスの種類やサイズで費用が変わります。概算は一万円台からです。詳しくは内容をお聞かせください。",
			FollowUp: FollowUpFAQ,
		}
	case storeGreetRe.MatchString(t), utf8.RuneCountInString(t) <= 2:
		return Reply{Intent: Other, Text: p.greeting()}
	}

	return p.fallback.Classify(utterance)
}

func (p *StoreInfoPolicy) greeting() string {
	return fmt.Sprintf("お電話ありがとうございます。%sです。ご用件をお聞かせください。", p.info.Name)
}

// normalize lowercases s and folds symbols and runs of whitespace (including
// the ideographic space) into single spaces.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "　", " ")
	s = symbolRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
