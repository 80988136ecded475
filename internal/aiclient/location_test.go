package aiclient

import "testing"

func TestEndpointForLocation(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"global", "dialogflow.googleapis.com"},
		{"", "dialogflow.googleapis.com"},
		{"us-central1", "us-central1-dialogflow.googleapis.com"},
	}
	for _, tt := range tests {
		if got := EndpointForLocation(tt.location); got != tt.want {
			t.Errorf("EndpointForLocation(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestStripLocation(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"regional", "projects/p/locations/us-central1/conversations/c1", "projects/p/conversations/c1"},
		{"global", "projects/p/locations/global/conversations/c1", "projects/p/conversations/c1"},
		{"too short", "conversations/c1", "conversations/c1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripLocation(tt.in); got != tt.want {
				t.Errorf("StripLocation(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenesysConversationIDStripsAPrefix(t *testing.T) {
	name := "projects/p/conversations/aabc123"
	if got := GenesysConversationID(name); got != "abc123" {
		t.Errorf("got %q, want %q", got, "abc123")
	}
}

func TestCanonicalConversationIDAddsAPrefix(t *testing.T) {
	if got := CanonicalConversationID("abc123"); got != "aabc123" {
		t.Errorf("got %q, want %q", got, "aabc123")
	}
}

func TestRecognizerPathDefaultsToGlobal(t *testing.T) {
	got := RecognizerPath("proj1", "")
	want := "projects/proj1/locations/global/recognizers/_"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
