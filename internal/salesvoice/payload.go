package salesvoice

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the JSON body posted by the outbound-sales call provider after
// a call completes.
type Payload struct {
	CallID                 string        `json:"call_id"`
	From                   string        `json:"from"`
	To                     string        `json:"to"`
	Status                 string        `json:"status"`
	Transcript             string        `json:"transcript,omitempty"`
	ConcatenatedTranscript string        `json:"concatenated_transcript,omitempty"`
	Summary                string        `json:"summary,omitempty"`
	RecordingURL           string        `json:"recording_url,omitempty"`
	Analysis               analysisField `json:"analysis,omitempty"`
}

// TranscriptText prefers the concatenated transcript, which the provider
// fills more reliably than the plain field.
func (p *Payload) TranscriptText() string {
	if p.ConcatenatedTranscript != "" {
		return p.ConcatenatedTranscript
	}
	return p.Transcript
}

// Analysis holds the provider's structured qualification of the call.
type Analysis struct {
	CallerName       string `json:"caller_name,omitempty"`
	ServiceRequested string `json:"service_requested,omitempty"`
	Timeline         string `json:"timeline,omitempty"`
	Qualified        bool   `json:"qualified,omitempty"`
	NextStep         string `json:"next_step,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// analysisField decodes the analysis value, which arrives either as a JSON
// object or as a JSON string containing encoded JSON. A value that parses as
// neither is treated as "no analysis", not as an error.
type analysisField struct {
	*Analysis
}

func (a *analysisField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var obj Analysis
	if err := json.Unmarshal(data, &obj); err == nil {
		a.Analysis = &obj
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		var nested Analysis
		if err := json.Unmarshal([]byte(encoded), &nested); err == nil {
			a.Analysis = &nested
		}
	}
	return nil
}

func (a analysisField) MarshalJSON() ([]byte, error) {
	if a.Analysis == nil {
		return []byte("null"), nil
	}
	return json.Marshal(a.Analysis)
}

// ParsePayload decodes and validates the provider webhook body.
func ParsePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("salesvoice: decode payload: %w", err)
	}
	if p.CallID == "" {
		return nil, fmt.Errorf("salesvoice: payload missing call_id")
	}
	if p.To == "" {
		return nil, fmt.Errorf("salesvoice: payload missing to")
	}
	return &p, nil
}
