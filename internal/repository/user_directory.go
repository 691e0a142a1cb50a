package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"classifieds-messaging/backend/internal/models"
	"classifieds-messaging/backend/pkg/cache"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

// UserDirectory resolves user ids to display data and entitlements.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (*models.User, error)
	// IsPremium always reads the directory; entitlements are never cached.
	IsPremium(ctx context.Context, userID string) (bool, error)
	// Profiles returns a profile for every id. Unknown ids get a bare profile.
	Profiles(ctx context.Context, userIDs []string) (map[string]models.Profile, error)
	Touch(ctx context.Context, userID string, at time.Time) error
}

type GormUserDirectory struct {
	db           *gorm.DB
	cache        *cache.Cache[models.User]
	onlineWindow time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	presence func(userID string) bool
}

func NewGormUserDirectory(db *gorm.DB, profileTTL, onlineWindow time.Duration) *GormUserDirectory {
	return &GormUserDirectory{
		db:           db,
		cache:        cache.New[models.User](cache.Options{TTL: profileTTL, CleanupInterval: profileTTL, MaxItems: 10000}),
		onlineWindow: onlineWindow,
		now:          time.Now,
	}
}

// SetPresence installs a live-connection check consulted before last_seen_at.
func (d *GormUserDirectory) SetPresence(fn func(userID string) bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presence = fn
}

func (d *GormUserDirectory) Close() {
	d.cache.Close()
}

func (d *GormUserDirectory) Lookup(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	d.cache.Set(user.ID, user)
	return &user, nil
}

func (d *GormUserDirectory) IsPremium(ctx context.Context, userID string) (bool, error) {
	user, err := d.Lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsPremium, nil
}

func (d *GormUserDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]models.Profile, error) {
	users := make(map[string]models.User, len(userIDs))
	var missing []string
	for _, id := range userIDs {
		if u, ok := d.cache.Get(id); ok {
			users[id] = u
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		var found []models.User
		if err := d.db.WithContext(ctx).Where("id IN ?", missing).Find(&found).Error; err != nil {
			return nil, err
		}
		for _, u := range found {
			d.cache.Set(u.ID, u)
			users[u.ID] = u
		}
	}

	profiles := make(map[string]models.Profile, len(userIDs))
	for _, id := range userIDs {
		u, ok := users[id]
		if !ok {
			profiles[id] = models.Profile{UserID: id, Online: d.isConnected(id)}
			continue
		}
		profiles[id] = models.Profile{
			UserID:      id,
			DisplayName: u.DisplayName,
			Online:      d.isOnline(u),
			LastSeenAt:  u.LastSeenAt,
		}
	}
	return profiles, nil
}

func (d *GormUserDirectory) Touch(ctx context.Context, userID string, at time.Time) error {
	d.cache.Delete(userID)
	return d.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_seen_at", at).Error
}

func (d *GormUserDirectory) isConnected(userID string) bool {
	d.mu.RLock()
	fn := d.presence
	d.mu.RUnlock()
	return fn != nil && fn(userID)
}

func (d *GormUserDirectory) isOnline(u models.User) bool {
	if d.isConnected(u.ID) {
		return true
	}
	return u.LastSeenAt != nil && d.now().Sub(*u.LastSeenAt) <= d.onlineWindow
}
