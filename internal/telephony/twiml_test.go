package telephony

import (
	"strings"
	"testing"
)

func TestStreamTwiML(t *testing.T) {
	doc, err := StreamTwiML("こんにちは", "ja-JP", "wss://voice.example.com/stream",
		map[string]string{ParamFrom: "+819000000000", ParamTo: "", "Other": "x"})
	if err != nil {
		t.Fatalf("StreamTwiML: %v", err)
	}

	for _, want := range []string{
		`language="ja-JP"`,
		`>こんにちは</Say>`,
		`<Connect`,
		`url="wss://voice.example.com/stream"`,
		`name="From"`,
		`value="+819000000000"`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("twiml %q missing %q", doc, want)
		}
	}
	if strings.Contains(doc, `name="To"`) || strings.Contains(doc, `name="Other"`) {
		t.Errorf("twiml %q carries unexpected parameters", doc)
	}
	if strings.Index(doc, "<Say") > strings.Index(doc, "<Connect") {
		t.Error("greeting must precede the stream")
	}
}

func TestReplyTwiML(t *testing.T) {
	doc, err := ReplyTwiML("営業時間をご案内します。", "ja-JP", "wss://voice.example.com/stream",
		map[string]string{ParamFrom: "+819000000000", ParamTo: "+815000000000"})
	if err != nil {
		t.Fatalf("ReplyTwiML: %v", err)
	}

	for _, want := range []string{
		`>営業時間をご案内します。</Say>`,
		`url="wss://voice.example.com/stream"`,
		`name="From"`, `value="+819000000000"`,
		`name="To"`, `value="+815000000000"`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("twiml %q missing %q", doc, want)
		}
	}

	doc, err = ReplyTwiML("はい", "ja-JP", "wss://voice.example.com/stream", nil)
	if err != nil {
		t.Fatalf("ReplyTwiML without params: %v", err)
	}
	if strings.Contains(doc, "<Parameter") {
		t.Errorf("twiml %q carries parameters", doc)
	}
}

func TestSayTwiML(t *testing.T) {
	tests := []struct {
		name    string
		pause   int
		wantTag string
		noTag   string
	}{
		{"with pause", 10, `length="10"`, ""},
		{"no pause", 0, "<Hangup", "<Pause"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := SayTwiML("現在回線が混み合っています。", "ja-JP", tt.pause)
			if err != nil {
				t.Fatalf("SayTwiML: %v", err)
			}
			if !strings.Contains(doc, tt.wantTag) {
				t.Errorf("twiml %q missing %q", doc, tt.wantTag)
			}
			if tt.noTag != "" && strings.Contains(doc, tt.noTag) {
				t.Errorf("twiml %q should not contain %q", doc, tt.noTag)
			}
			if strings.Contains(doc, "<Stream") {
				t.Error("say-only twiml must not open a stream")
			}
		})
	}
}
