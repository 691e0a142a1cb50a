// Package conversation derives inbox summaries from the message log.
package conversation

import (
	"context"
	"time"

	"classifieds-messaging/backend/internal/models"
	"classifieds-messaging/backend/internal/repository"
)

// PreviewLength caps the preview in code points.
const PreviewLength = 80

// Summary is one row of a user's inbox. It is computed on every call and
// never stored.
type Summary struct {
	CounterpartyID string     `json:"counterparty_id"`
	DisplayName    string     `json:"display_name"`
	Online         bool       `json:"online"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
	Preview        string     `json:"preview"`
	LastMessageID  uint64     `json:"last_message_id"`
	LastAt         time.Time  `json:"last_at"`
	LastFromViewer bool       `json:"last_from_viewer"`
	UnreadCount    int64      `json:"unread_count"`
}

type Index struct {
	messages  repository.MessageRepository
	directory repository.UserDirectory
}

func NewIndex(messages repository.MessageRepository, directory repository.UserDirectory) *Index {
	return &Index{messages: messages, directory: directory}
}

// ListForUser returns userID's conversations, most recent activity first.
func (i *Index) ListForUser(ctx context.Context, userID string, limit int) ([]Summary, error) {
	latest, err := i.messages.LatestPerCounterparty(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return []Summary{}, nil
	}

	unread, err := i.messages.UnreadBySender(ctx, userID)
	if err != nil {
		return nil, err
	}

	counterparties := make([]string, len(latest))
	for n := range latest {
		counterparties[n] = latest[n].Counterparty(userID)
	}

	profiles, err := i.directory.Profiles(ctx, counterparties)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, len(latest))
	for n, msg := range latest {
		other := counterparties[n]
		p := profiles[other]
		summaries[n] = Summary{
			CounterpartyID: other,
			DisplayName:    p.DisplayName,
			Online:         p.Online,
			LastSeenAt:     p.LastSeenAt,
			Preview:        Preview(msg),
			LastMessageID:  msg.ID,
			LastAt:         msg.CreatedAt,
			LastFromViewer: msg.SenderID == userID,
			UnreadCount:    unread[other],
		}
	}
	return summaries, nil
}

// Preview shortens a message body for the inbox.
func Preview(msg models.Message) string {
	runes := []rune(msg.Body)
	if len(runes) <= PreviewLength {
		return msg.Body
	}
	return string(runes[:PreviewLength-1]) + "…"
}
