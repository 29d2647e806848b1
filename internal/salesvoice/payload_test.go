package salesvoice

import "testing"

func TestParsePayloadObjectAnalysis(t *testing.T) {
	body := `{
		"call_id": "bl-1",
		"from": "+15557772222",
		"to": "+15550001111",
		"status": "completed",
		"concatenated_transcript": "agent: hi\nuser: hello",
		"summary": "Homeowner interested in weekly mowing.",
		"analysis": {"caller_name": "Pat", "qualified": true, "next_step": "follow_up"}
	}`

	p, err := ParsePayload([]byte(body))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.Analysis.Analysis == nil {
		t.Fatal("analysis not decoded")
	}
	if p.Analysis.CallerName != "Pat" || !p.Analysis.Qualified {
		t.Errorf("analysis = %+v", p.Analysis.Analysis)
	}
	if p.TranscriptText() != "agent: hi\nuser: hello" {
		t.Errorf("transcript = %q", p.TranscriptText())
	}
}

func TestParsePayloadDoubleEncodedAnalysis(t *testing.T) {
	body := `{
		"call_id": "bl-2",
		"to": "+15550001111",
		"analysis": "{\"caller_name\": \"Sam\", \"next_step\": \"redirected\"}"
	}`

	p, err := ParsePayload([]byte(body))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.Analysis.Analysis == nil {
		t.Fatal("double-encoded analysis not decoded")
	}
	if p.Analysis.CallerName != "Sam" || p.Analysis.NextStep != "redirected" {
		t.Errorf("analysis = %+v", p.Analysis.Analysis)
	}
}

func TestParsePayloadUnparsableAnalysisIsNil(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"garbage string", `{"call_id": "bl-3", "to": "+15550001111", "analysis": "not json"}`},
		{"number", `{"call_id": "bl-4", "to": "+15550001111", "analysis": 42}`},
		{"null", `{"call_id": "bl-5", "to": "+15550001111", "analysis": null}`},
		{"absent", `{"call_id": "bl-6", "to": "+15550001111"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParsePayload: %v", err)
			}
			if p.Analysis.Analysis != nil {
				t.Errorf("analysis = %+v, want nil", p.Analysis.Analysis)
			}
		})
	}
}

func TestParsePayloadRequiresCallIDAndTo(t *testing.T) {
	if _, err := ParsePayload([]byte(`{"to": "+15550001111"}`)); err == nil {
		t.Error("payload without call_id accepted")
	}
	if _, err := ParsePayload([]byte(`{"call_id": "bl-7"}`)); err == nil {
		t.Error("payload without to accepted")
	}
	if _, err := ParsePayload([]byte(`not json`)); err == nil {
		t.Error("malformed body accepted")
	}
}

func TestTranscriptTextFallsBackToPlainField(t *testing.T) {
	p := &Payload{Transcript: "plain"}
	if p.TranscriptText() != "plain" {
		t.Errorf("transcript = %q", p.TranscriptText())
	}
}
