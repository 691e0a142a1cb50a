package service

import (
	"context"
	"errors"

	"classifieds-messaging/backend/internal/conversation"
	"classifieds-messaging/backend/internal/models"
	"classifieds-messaging/backend/internal/quota"
	"classifieds-messaging/backend/internal/repository"
)

// Page is an ascending run of messages plus the high-water mark a client
// should send as since_id on its next poll.
type Page struct {
	Messages      []models.Message `json:"messages"`
	HighWaterMark uint64           `json:"high_water_mark"`
}

func newPage(messages []models.Message, sinceID uint64) *Page {
	if messages == nil {
		messages = []models.Message{}
	}
	hwm := sinceID
	if n := len(messages); n > 0 && messages[n-1].ID > hwm {
		hwm = messages[n-1].ID
	}
	return &Page{Messages: messages, HighWaterMark: hwm}
}

// QuotaStatus is the caller's allowance for the current day.
type QuotaStatus struct {
	Premium   bool
	Limit     int
	Used      int
	Remaining int
}

func (s *MessagingService) pageSize(limit int) int {
	if limit <= 0 {
		return s.opts.DefaultPageSize
	}
	if limit > s.opts.MaxPageSize {
		return s.opts.MaxPageSize
	}
	return limit
}

// GetConversation returns the latest page when sinceID is 0 and the messages
// strictly newer than sinceID otherwise. Both transports use it.
func (s *MessagingService) GetConversation(ctx context.Context, viewerID, counterpartyID string, sinceID uint64, limit int) (*Page, error) {
	if err := validatePair(viewerID, counterpartyID); err != nil {
		return nil, err
	}

	var messages []models.Message
	err := s.withTimeout(ctx, "fetch conversation", func(ctx context.Context) error {
		var err error
		messages, err = s.messages.FetchConversation(ctx, viewerID, counterpartyID, sinceID, s.pageSize(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return newPage(messages, sinceID), nil
}

// GetHistory pages backwards from beforeID.
func (s *MessagingService) GetHistory(ctx context.Context, viewerID, counterpartyID string, beforeID uint64, limit int) (*Page, error) {
	if err := validatePair(viewerID, counterpartyID); err != nil {
		return nil, err
	}
	if beforeID == 0 {
		return nil, invalidInput("before_id must be positive")
	}

	var messages []models.Message
	err := s.withTimeout(ctx, "fetch history", func(ctx context.Context) error {
		var err error
		messages, err = s.messages.FetchBefore(ctx, viewerID, counterpartyID, beforeID, s.pageSize(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return newPage(messages, 0), nil
}

// ListConversations returns the viewer's inbox, most recent activity first.
func (s *MessagingService) ListConversations(ctx context.Context, userID string, limit int) ([]conversation.Summary, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	var list []conversation.Summary
	err := s.withTimeout(ctx, "list conversations", func(ctx context.Context) error {
		var err error
		list, err = s.index.ListForUser(ctx, userID, s.pageSize(limit))
		return err
	})
	return list, err
}

// Sync returns every message to or from userID newer than sinceID.
func (s *MessagingService) Sync(ctx context.Context, userID string, sinceID uint64, limit int) (*Page, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	var messages []models.Message
	err := s.withTimeout(ctx, "sync", func(ctx context.Context) error {
		var err error
		messages, err = s.messages.Sync(ctx, userID, sinceID, s.pageSize(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	return newPage(messages, sinceID), nil
}

// HighWaterMark is the newest message id visible to userID.
func (s *MessagingService) HighWaterMark(ctx context.Context, userID string) (uint64, error) {
	var hwm uint64
	err := s.withTimeout(ctx, "high water mark", func(ctx context.Context) error {
		var err error
		hwm, err = s.messages.HighWaterMark(ctx, userID)
		return err
	})
	return hwm, err
}

// UnreadCount is the total number of unread messages addressed to userID.
func (s *MessagingService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrUnauthenticated
	}

	var n int64
	err := s.withTimeout(ctx, "count unread", func(ctx context.Context) error {
		var err error
		n, err = s.messages.CountUnread(ctx, userID)
		return err
	})
	return n, err
}

// QuotaUsage reports the allowance without consuming any of it.
func (s *MessagingService) QuotaUsage(ctx context.Context, userID string) (*QuotaStatus, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	var (
		premium bool
		d       quota.Decision
	)
	err := s.withTimeout(ctx, "quota usage", func(ctx context.Context) error {
		var err error
		premium, err = s.directory.IsPremium(ctx, userID)
		if errors.Is(err, repository.ErrUserNotFound) {
			premium = false
		} else if err != nil {
			return err
		}
		d, err = s.quota.Usage(ctx, userID, premium, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &QuotaStatus{Premium: premium, Limit: d.Limit, Used: d.Used, Remaining: d.Remaining}, nil
}
