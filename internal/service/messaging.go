// Package service orchestrates the direct-messaging operations.
package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"classifieds-messaging/backend/internal/contactfilter"
	"classifieds-messaging/backend/internal/conversation"
	"classifieds-messaging/backend/internal/models"
	"classifieds-messaging/backend/internal/quota"
	"classifieds-messaging/backend/internal/repository"
	"classifieds-messaging/backend/pkg/logger"
	"classifieds-messaging/backend/pkg/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "classifieds-messaging/backend/internal/service"

// RedactionWarning is attached to a send whose body was altered by the contact filter.
const RedactionWarning = "contact info removed"

// MaxAttachmentURLLength bounds the optional attachment reference.
const MaxAttachmentURLLength = 2048

// SendState is a stage of the SendMessage pipeline.
type SendState string

const (
	StateReceived     SendState = "received"
	StateAuthorized   SendState = "authorized"
	StateQuotaChecked SendState = "quota_checked"
	StateFiltered     SendState = "filtered"
	StatePersisted    SendState = "persisted"
	StateDelivered    SendState = "delivered"
)

// Publisher fans stored events out to live connections. Implementations
// must not block on slow or absent recipients.
type Publisher interface {
	PublishMessage(ctx context.Context, msg models.Message)
	PublishRead(ctx context.Context, receipt models.ReadReceipt)
	Typing(ctx context.Context, fromID, toID string, active bool)
}

type nopPublisher struct{}

func (nopPublisher) PublishMessage(context.Context, models.Message)  {}
func (nopPublisher) PublishRead(context.Context, models.ReadReceipt) {}
func (nopPublisher) Typing(context.Context, string, string, bool)    {}

// Options tune validation and paging.
type Options struct {
	MaxBodyLength   int
	DefaultPageSize int
	MaxPageSize     int
	StoreTimeout    time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxBodyLength:   2000,
		DefaultPageSize: 50,
		MaxPageSize:     200,
		StoreTimeout:    2 * time.Second,
	}
}

// Deps are the collaborators of MessagingService.
type Deps struct {
	Messages  repository.MessageRepository
	Blocks    repository.BlockList
	Directory repository.UserDirectory
	Quota     quota.Ledger
	Filter    *contactfilter.Filter
	Publisher Publisher
}

// SendRequest is a message as submitted by its sender.
type SendRequest struct {
	ReceiverID    string `json:"receiver_id"`
	Body          string `json:"body"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// SendResult describes an accepted message.
type SendResult struct {
	Message        models.Message
	RemainingQuota int
	Unlimited      bool
	Warning        string
}

type MessagingService struct {
	messages  repository.MessageRepository
	blocks    repository.BlockList
	directory repository.UserDirectory
	quota     quota.Ledger
	filter    *contactfilter.Filter
	index     *conversation.Index
	publisher Publisher
	// deliverMu spans insert and publish so push frames leave in id order
	deliverMu sync.Mutex
	opts      Options
	now       func() time.Time
	log       *logger.Logger

	tracer       trace.Tracer
	sendDuration metric.Float64Histogram
}

func NewMessagingService(deps Deps, opts Options, log *logger.Logger) *MessagingService {
	if deps.Filter == nil {
		deps.Filter = contactfilter.New()
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	def := DefaultOptions()
	if opts.MaxBodyLength <= 0 {
		opts.MaxBodyLength = def.MaxBodyLength
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = def.DefaultPageSize
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = max(def.MaxPageSize, opts.DefaultPageSize)
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}

	s := &MessagingService{
		messages:  deps.Messages,
		blocks:    deps.Blocks,
		directory: deps.Directory,
		quota:     deps.Quota,
		filter:    deps.Filter,
		index:     conversation.NewIndex(deps.Messages, deps.Directory),
		publisher: deps.Publisher,
		opts:      opts,
		now:       time.Now,
		log:       log,
		tracer:    otel.Tracer(instrumentationName),
	}

	hist, err := otel.Meter(instrumentationName).Float64Histogram("dm.send.duration",
		metric.WithDescription("SendMessage latency by outcome"),
		metric.WithUnit("s"))
	if err != nil {
		log.LogError(err, "Failed to create send duration histogram")
	} else {
		s.sendDuration = hist
	}

	return s
}

// SendMessage runs a message through
// received → authorized → quota checked → filtered → persisted → delivered.
// Rejections before persisted leave no message behind.
func (s *MessagingService) SendMessage(ctx context.Context, senderID string, req SendRequest) (res *SendResult, err error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "MessagingService.SendMessage",
		trace.WithAttributes(attribute.String("dm.sender_id", senderID), attribute.String("dm.receiver_id", req.ReceiverID)))
	state := StateReceived
	defer func() {
		code := Code(err)
		metrics.MessagesSent.WithLabelValues(code).Inc()
		if s.sendDuration != nil {
			s.sendDuration.Record(ctx, s.now().Sub(start).Seconds(), metric.WithAttributes(attribute.String("result", code)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			s.log.Info("Message rejected", "sender_id", senderID, "receiver_id", req.ReceiverID, "state", state, "code", code)
			if code == "store_unavailable" || code == "internal_error" {
				s.log.LogError(err, "Send failed", "sender_id", senderID, "state", state)
			}
		}
		span.End()
	}()

	body, err := s.validateSend(ctx, senderID, &req)
	if err != nil {
		return nil, err
	}

	blocked, err := s.isBlocked(ctx, senderID, req.ReceiverID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}
	state = StateAuthorized
	span.AddEvent(string(state))

	decision, err := s.consumeQuota(ctx, senderID)
	if err != nil {
		return nil, err
	}
	state = StateQuotaChecked
	span.AddEvent(string(state))

	cleaned, redacted := s.filter.Scan(body)
	if redacted {
		metrics.MessagesRedacted.Inc()
	}
	state = StateFiltered
	span.AddEvent(string(state), trace.WithAttributes(attribute.Bool("dm.redacted", redacted)))

	msg := models.Message{
		SenderID:      senderID,
		ReceiverID:    req.ReceiverID,
		Body:          cleaned,
		AttachmentURL: req.AttachmentURL,
		WasRedacted:   redacted,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.persistAndPublish(ctx, &msg); err != nil {
		return nil, err
	}
	span.AddEvent(string(StatePersisted), trace.WithAttributes(attribute.Int64("dm.message_id", int64(msg.ID))))
	state = StateDelivered
	span.AddEvent(string(state))

	res = &SendResult{
		Message:        msg,
		RemainingQuota: decision.Remaining,
		Unlimited:      decision.Unlimited(),
	}
	if redacted {
		res.Warning = RedactionWarning
	}
	s.log.Debug("Message sent", "message_id", msg.ID, "sender_id", senderID, "receiver_id", req.ReceiverID,
		"body_length", utf8.RuneCountInString(cleaned), "redacted", redacted)
	return res, nil
}

// persistAndPublish stores msg and hands it to the publisher before any
// later insert can, so ids reach the hub in ascending order.
func (s *MessagingService) persistAndPublish(ctx context.Context, msg *models.Message) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if err := s.withTimeout(ctx, "insert", func(ctx context.Context) error {
		return s.messages.Insert(ctx, msg)
	}); err != nil {
		return err
	}
	s.publisher.PublishMessage(ctx, *msg)
	return nil
}

func (s *MessagingService) validateSend(ctx context.Context, senderID string, req *SendRequest) (string, error) {
	if senderID == "" {
		return "", ErrUnauthenticated
	}
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.ReceiverID == "" {
		return "", invalidInput("receiver_id is required")
	}
	if req.ReceiverID == senderID {
		return "", invalidInput("cannot send a message to yourself")
	}
	if !utf8.ValidString(req.Body) {
		return "", invalidInput("body must be valid UTF-8")
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return "", invalidInput("body is empty")
	}
	if n := utf8.RuneCountInString(body); n > s.opts.MaxBodyLength {
		return "", invalidInput("body is too long")
	}
	if req.AttachmentURL != "" {
		if err := validateAttachment(req.AttachmentURL); err != nil {
			return "", err
		}
	}

	err := s.withTimeout(ctx, "lookup receiver", func(ctx context.Context) error {
		_, err := s.directory.Lookup(ctx, req.ReceiverID)
		return err
	})
	if errors.Is(err, repository.ErrUserNotFound) {
		return "", invalidInput("unknown receiver")
	}
	if err != nil {
		return "", err
	}
	return body, nil
}

func validateAttachment(raw string) error {
	if len(raw) > MaxAttachmentURLLength {
		return invalidInput("attachment_url is too long")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidInput("attachment_url must be an absolute http(s) URL")
	}
	return nil
}

func (s *MessagingService) isBlocked(ctx context.Context, userA, userB string) (bool, error) {
	var blocked bool
	err := s.withTimeout(ctx, "block lookup", func(ctx context.Context) error {
		var err error
		blocked, err = s.blocks.IsBlocked(ctx, userA, userB)
		return err
	})
	return blocked, err
}

// consumeQuota reads the premium flag fresh on every call and fails closed
// when either the directory or the ledger is unavailable.
func (s *MessagingService) consumeQuota(ctx context.Context, senderID string) (quota.Decision, error) {
	var decision quota.Decision
	err := s.withTimeout(ctx, "quota", func(ctx context.Context) error {
		premium, err := s.directory.IsPremium(ctx, senderID)
		if errors.Is(err, repository.ErrUserNotFound) {
			premium = false
		} else if err != nil {
			return err
		}
		decision, err = s.quota.TryConsume(ctx, senderID, premium, s.now())
		return err
	})
	if err != nil {
		return quota.Decision{}, err
	}
	if !decision.Allowed {
		return decision, &QuotaExceededError{Limit: decision.Limit, Remaining: 0}
	}
	return decision, nil
}

// withTimeout bounds a store call and maps every failure to ErrStoreUnavailable.
func (s *MessagingService) withTimeout(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err == nil || errors.Is(err, repository.ErrUserNotFound) {
		return err
	}
	return unavailable(op, err)
}

// MarkRead marks everything senderID sent to readerID as read. Repeated
// calls return 0 and publish nothing.
func (s *MessagingService) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	if readerID == "" {
		return 0, ErrUnauthenticated
	}
	if senderID == "" || senderID == readerID {
		return 0, invalidInput("sender_id must name another user")
	}

	at := s.now().UTC()
	var n int64
	err := s.withTimeout(ctx, "mark read", func(ctx context.Context) error {
		var err error
		n, err = s.messages.MarkRead(ctx, readerID, senderID, at)
		return err
	})
	if err != nil {
		s.log.LogError(err, "Mark read failed", "reader_id", readerID, "sender_id", senderID)
		return 0, err
	}

	if n > 0 {
		metrics.MessagesMarkedRead.Add(float64(n))
		s.publisher.PublishRead(ctx, models.ReadReceipt{ReaderID: readerID, SenderID: senderID, Count: n, ReadAt: at})
	}
	return n, nil
}

// Typing relays an ephemeral typing indicator. Nothing is stored.
func (s *MessagingService) Typing(ctx context.Context, fromID, toID string, active bool) error {
	if fromID == "" {
		return ErrUnauthenticated
	}
	if toID == "" || toID == fromID {
		return invalidInput("receiver_id must name another user")
	}

	blocked, err := s.isBlocked(ctx, fromID, toID)
	if err != nil {
		return err
	}
	if blocked {
		return ErrBlocked
	}

	s.publisher.Typing(ctx, fromID, toID, active)
	return nil
}

// Block stops all messaging between blockerID and blockedID.
func (s *MessagingService) Block(ctx context.Context, blockerID, blockedID string) error {
	if err := validatePair(blockerID, blockedID); err != nil {
		return err
	}
	return s.withTimeout(ctx, "block", func(ctx context.Context) error {
		return s.blocks.Block(ctx, blockerID, blockedID)
	})
}

func (s *MessagingService) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if err := validatePair(blockerID, blockedID); err != nil {
		return err
	}
	return s.withTimeout(ctx, "unblock", func(ctx context.Context) error {
		return s.blocks.Unblock(ctx, blockerID, blockedID)
	})
}

func validatePair(userID, otherID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if otherID == "" || otherID == userID {
		return invalidInput("user id must name another user")
	}
	return nil
}

// QuotaValue renders the remaining allowance for clients: a number, or
// "unlimited" for premium senders.
func (r *SendResult) QuotaValue() any {
	if r.Unlimited {
		return "unlimited"
	}
	return r.RemainingQuota
}
