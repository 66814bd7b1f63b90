package types

import "testing"

func TestDecodeStartupInput(t *testing.T) {
	input, err := DecodeStartupInput([]byte(`{
		"text": "do the thing",
		"resume_session_id": "sess-1",
		"resume_anchor": "turn-4",
		"privilege": {"is_home_session": true, "is_top_privilege": false}
	}`))
	if err != nil {
		t.Fatalf("DecodeStartupInput: %v", err)
	}
	if input.Text != "do the thing" {
		t.Errorf("text = %q", input.Text)
	}
	if input.ResumeSessionID != "sess-1" || input.ResumeAnchor != "turn-4" {
		t.Errorf("resume = %q/%q", input.ResumeSessionID, input.ResumeAnchor)
	}
	if !input.Privilege.IsHomeSession || input.Privilege.IsTopPrivilege {
		t.Errorf("privilege = %+v", input.Privilege)
	}
}

func TestDecodeStartupInputResumeOnly(t *testing.T) {
	input, err := DecodeStartupInput([]byte(`{"resume_session_id": "sess-2"}`))
	if err != nil {
		t.Fatalf("resume-only startup should be valid: %v", err)
	}
	if input.Text != "" {
		t.Errorf("text = %q, want empty", input.Text)
	}
}

func TestDecodeStartupInputRejectsEmpty(t *testing.T) {
	if _, err := DecodeStartupInput([]byte(`{}`)); err == nil {
		t.Error("startup without text or resume target should fail")
	}
	if _, err := DecodeStartupInput([]byte(`not json`)); err == nil {
		t.Error("malformed startup input should fail")
	}
}
