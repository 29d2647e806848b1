package voice

import (
	"encoding/xml"
	"net/http"
)

// Minimal TwiML vocabulary for the voice flows. Verbs execute in document
// order, so field order here is load-bearing.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Say     []Say    `xml:"Say,omitempty"`
	Gather  *Gather  `xml:"Gather,omitempty"`
	Record  *Record  `xml:"Record,omitempty"`
	Dial    *Dial    `xml:"Dial,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

type Say struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

// Gather listens for speech and posts the result to Action.
type Gather struct {
	Input         string `xml:"input,attr"`
	Action        string `xml:"action,attr"`
	Method        string `xml:"method,attr"`
	SpeechTimeout string `xml:"speechTimeout,attr,omitempty"`
}

// Record captures a voicemail and posts the recording URL to Action.
type Record struct {
	Action    string `xml:"action,attr"`
	Method    string `xml:"method,attr"`
	MaxLength int    `xml:"maxLength,attr,omitempty"`
	PlayBeep  bool   `xml:"playBeep,attr"`
}

type Dial struct {
	Number string `xml:",chardata"`
}

type Hangup struct{}

// Render marshals the document with the XML declaration Twilio expects.
func Render(resp Response) []byte {
	body, err := xml.Marshal(resp)
	if err != nil {
		// The vocabulary above cannot fail to marshal; an empty response
		// still acknowledges the provider.
		body = []byte("<Response></Response>")
	}
	return append([]byte(xml.Header), body...)
}

// Write sends the document as an HTTP 200 with Twilio's content type.
func Write(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(Render(resp))
}

func say(text string) []Say {
	return []Say{{Text: text}}
}
