package telephony

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

const MediaStreamPath = "/media-stream"

// MediaStreamURL returns the websocket URL Twilio should stream call audio to.
func MediaStreamURL(host string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	return "wss://" + host + MediaStreamPath
}

// StreamResponse builds the TwiML answer for an incoming or outbound call:
// an optional spoken notice, then a bidirectional media stream.
func StreamResponse(notice, streamURL string) (string, error) {
	var elements []twiml.Element
	if strings.TrimSpace(notice) != "" {
		elements = append(elements, &twiml.VoiceSay{Message: notice})
	}
	elements = append(elements, &twiml.VoiceConnect{
		InnerElements: []twiml.Element{&twiml.VoiceStream{Url: streamURL}},
	})
	doc, err := twiml.Voice(elements)
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}
