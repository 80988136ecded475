package aiclient

import (
	"fmt"
	"strings"
)

// EndpointForLocation returns the region-scoped provider endpoint: the
// global endpoint for "global", otherwise a location-prefixed host
// (spec.md §4.9, "Endpoints are region-scoped").
func EndpointForLocation(location string) string {
	if location == "" || location == "global" {
		return "dialogflow.googleapis.com"
	}
	return fmt.Sprintf("%s-dialogflow.googleapis.com", location)
}

// SpeechEndpointForLocation mirrors EndpointForLocation for the
// streaming-recognition transport, which speaks to the speech API rather
// than the conversation API (see DESIGN.md for why C9 is grounded on
// cloud.google.com/go/speech/apiv2 rather than a Dialogflow SDK).
func SpeechEndpointForLocation(location string) string {
	if location == "" || location == "global" {
		return ""
	}
	return fmt.Sprintf("%s-speech.googleapis.com:443", location)
}

// RecognizerPath builds the region-scoped recognizer resource name used
// by the streaming recognition config's Recognizer field.
func RecognizerPath(projectID, location string) string {
	if location == "" {
		location = "global"
	}
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", projectID, location)
}

// StripLocation removes the `/locations/{id}` segment from a full
// conversation resource name, producing the canonical form the broker
// routing key and summary envelopes use throughout spec.md §3's
// RoutingEntry and BrokerMessage (original_source's
// determine_conversation_name_without_location).
//
// "projects/p/locations/l/conversations/c" -> "projects/p/conversations/c"
func StripLocation(conversationName string) string {
	parts := strings.Split(conversationName, "/")
	if len(parts) < 4 || parts[2] != "locations" {
		return conversationName
	}
	out := make([]string, 0, len(parts)-2)
	for i := 0; i < len(parts); i++ {
		if i == 2 || i == 3 {
			// "locations", "{id}"
			continue
		}
		out = append(out, parts[i])
	}
	return strings.Join(out, "/")
}

// GenesysConversationID recovers the Genesys-originated conversation id
// from a provider conversation name by stripping the leading "a" prefix
// that CanonicalConversationID below adds when constructing the name
// (original_source's periodic_conversation_summary).
func GenesysConversationID(conversationName string) string {
	parts := strings.Split(conversationName, "/")
	if len(parts) == 0 {
		return ""
	}
	last := parts[len(parts)-1]
	return strings.TrimPrefix(last, "a")
}

// CanonicalConversationID prefixes a raw Genesys conversation id with
// "a" so provider resource names never collide with a bare numeric id
// (spec.md scenario 2, "prefix `a` is normative").
func CanonicalConversationID(genesysConversationID string) string {
	return "a" + genesysConversationID
}

// ConversationName builds the full provider resource name for a
// conversation.
func ConversationName(projectID, location, conversationID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/conversations/%s", projectID, location, conversationID)
}
