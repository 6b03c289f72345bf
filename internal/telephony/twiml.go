package telephony

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

// Stream parameter names carried to the media socket's start event.
const (
	ParamFrom = "From"
	ParamTo   = "To"
)

// StreamTwiML greets the caller and connects the call to streamURL. params
// become <Parameter> elements, delivered in the start event.
func StreamTwiML(greeting, language, streamURL string, params map[string]string) (string, error) {
	var elems []twiml.Element
	if greeting != "" {
		elems = append(elems, &twiml.VoiceSay{Message: greeting, Language: language})
	}
	elems = append(elems, connectStream(streamURL, params))
	return render(elems)
}

// ReplyTwiML speaks a reply and reconnects the call to streamURL with the
// same stream parameters as StreamTwiML.
func ReplyTwiML(reply, language, streamURL string, params map[string]string) (string, error) {
	return render([]twiml.Element{
		&twiml.VoiceSay{Message: reply, Language: language},
		connectStream(streamURL, params),
	})
}

// connectStream builds <Connect><Stream> with the known, non-empty params.
func connectStream(streamURL string, params map[string]string) *twiml.VoiceConnect {
	stream := &twiml.VoiceStream{Url: streamURL}
	for _, name := range []string{ParamFrom, ParamTo} {
		if v := params[name]; v != "" {
			stream.InnerElements = append(stream.InnerElements, &twiml.VoiceParameter{Name: name, Value: v})
		}
	}
	return &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
}

// SayTwiML speaks text, optionally pauses, then hangs up. It never opens a
// media stream.
func SayTwiML(text, language string, pauseSeconds int) (string, error) {
	elems := []twiml.Element{&twiml.VoiceSay{Message: text, Language: language}}
	if pauseSeconds > 0 {
		elems = append(elems, &twiml.VoicePause{Length: fmt.Sprint(pauseSeconds)})
	}
	elems = append(elems, &twiml.VoiceHangup{})
	return render(elems)
}

func render(elems []twiml.Element) (string, error) {
	doc, err := twiml.Voice(elems)
	if err != nil {
		return "", fmt.Errorf("rendering twiml: %w", err)
	}
	return doc, nil
}
