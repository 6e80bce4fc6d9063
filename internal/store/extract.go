package store

import "github.com/tenexhq/orchestrator/pkg/models"

// ExtractConversationID derives the conversation id for an inbound event:
// the first present of its "e" tag value, its "root" tag value, or its own
// event id.
func ExtractConversationID(event *models.Event) string {
	if v := event.Tags.First("e").Value(); v != "" {
		return v
	}
	if v := event.Tags.First("root").Value(); v != "" {
		return v
	}
	return event.ID
}
