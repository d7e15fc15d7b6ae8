package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AdminUser struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;uniqueIndex" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type LoginInfo struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is what Redis holds under Token:{session id}.
type Session struct {
	SessionId string `json:"session_id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
}

var ErrInvalidCredentials = errors.New("invalid username or password")

func sessionKey(sessionId string) string {
	return "Token:" + sessionId
}

func userSessionsKey(username string) string {
	return "Tokens:" + username
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	db := config.GetDB()
	if config.GetRedisDB() == nil {
		return nil, utils.WrapStorageFault("login", errors.New("session store not ready"))
	}

	var user AdminUser
	err := db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, utils.WrapStorageFault("login", err)
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, errors.New("user is disabled")
	}

	now := time.Now()
	token, sessionId, err := utils.JwtGenerate(user.Username, user.Name, now)
	if err != nil {
		return nil, err
	}
	lifespan := utils.TokenLifespan()
	if err := config.SetRedisObject(sessionKey(sessionId), &Session{
		SessionId: sessionId,
		Username:  user.Username,
		Name:      user.Name,
	}, lifespan); err != nil {
		return nil, utils.WrapStorageFault("store session", err)
	}
	if err := config.AddRedisSet(userSessionsKey(user.Username), sessionId); err != nil {
		return nil, utils.WrapStorageFault("store session", err)
	}

	logCtx := utils.SetAdminNameInContext(ctx, user.Name)
	if err := db.WithContext(logCtx).Transaction(func(tx *gorm.DB) error {
		return createAdminActionLog(tx, ActionKindLogin, map[string]interface{}{"username": user.Username})
	}); err != nil {
		config.LogError(config.GetLogger(), "models", "Login", "createAdminActionLog", user.Username, err)
	}

	return &LoginInfo{
		Token:     token,
		Name:      user.Name,
		Username:  user.Username,
		ExpiresAt: now.Add(lifespan),
	}, nil
}

// ValidateSession accepts a token only while its session is still registered in Redis.
func ValidateSession(ctx context.Context, token string) (*Session, error) {
	claim, err := utils.JwtValidate(token)
	if err != nil {
		return nil, err
	}
	if config.GetRedisDB() == nil {
		return nil, utils.ErrUnauthorized
	}
	var session Session
	exists, err := config.GetRedisObject(sessionKey(claim.Id), &session)
	if err != nil {
		return nil, utils.WrapStorageFault("read session", err)
	}
	if !exists || session.Username != claim.Username {
		return nil, utils.ErrUnauthorized
	}
	return &session, nil
}

func Logout(ctx context.Context) (bool, error) {
	sessionId, ok := utils.GetSessionIdFromContext(ctx)
	if !ok || sessionId == "" {
		return false, utils.ErrUnauthorized
	}
	if err := config.RemoveRedisKey(sessionKey(sessionId)); err != nil {
		return false, utils.WrapStorageFault("logout", err)
	}
	username, ok := utils.GetUsernameFromContext(ctx)
	if ok && username != "" {
		if err := config.RemoveRedisSetMember(userSessionsKey(username), sessionId); err != nil {
			return false, utils.WrapStorageFault("logout", err)
		}
	}
	return true, nil
}

// DestroyAllSessions revokes every session of username (password reset, disable).
func DestroyAllSessions(ctx context.Context, username string) error {
	ids, err := config.GetRedisSetMembers(userSessionsKey(username))
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userSessionsKey(username))
	return config.RemoveRedisKey(keys...)
}

// UpsertAdminUser creates the admin or resets its name and password.
func UpsertAdminUser(ctx context.Context, username string, name string, password string) (*AdminUser, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, utils.NewSelectionError(-1, "username is required")
	}
	if !utils.IsStrongEnoughPassword(password) {
		return nil, utils.NewSelectionError(-1, "password must be at least 8 characters")
	}
	if strings.TrimSpace(name) == "" {
		name = username
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := AdminUser{Username: username, Name: strings.TrimSpace(name), Password: string(hashed), IsActive: true}
	err = config.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "password", "is_active", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, utils.WrapStorageFault("upsert admin user", err)
	}
	if err := DestroyAllSessions(ctx, username); err != nil {
		config.LogError(config.GetLogger(), "models", "UpsertAdminUser", "DestroyAllSessions", username, err)
	}
	return &user, nil
}
