package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const sessionKeyPrefix = "opsdesk:session:"

type claims struct {
	ActorID   string      `json:"actor_id"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	SessionID string      `json:"session_id"`
	jwt.RegisteredClaims
}

// issue records a session for user and signs its credential.
func (g *Gateway) issue(ctx context.Context, user *models.WebappUser, meta ClientMeta) (*Session, error) {
	now := g.now()
	row := &models.UserSession{
		ID:        uuid.New(),
		UserID:    user.ID,
		Role:      user.UserType,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		ExpiresAt: now.Add(g.cfg.SessionTTL),
		CreatedAt: now,
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return tx.Model(user).Update("last_login_at", now).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ActorID:   user.ID.String(),
		Email:     user.Email,
		Role:      user.UserType,
		SessionID: row.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(row.ExpiresAt),
		},
	})
	signed, err := token.SignedString([]byte(g.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}

	g.cacheSession(ctx, row.ID, row.ExpiresAt.Sub(now))
	log.Info("session issued", "user_id", user.ID, "role", user.UserType, "session_id", row.ID)

	return &Session{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresAt: row.ExpiresAt,
		Actor:     &Actor{ID: user.ID, Email: user.Email, Role: user.UserType, SessionID: row.ID},
	}, nil
}

// ResolveActor validates a bearer credential and returns its actor. Any
// malformed, expired or revoked credential is ErrUnauthenticated.
func (g *Gateway) ResolveActor(ctx context.Context, credential string) (*Actor, error) {
	credential = strings.TrimSpace(credential)
	if len(credential) > 7 && strings.EqualFold(credential[:7], "bearer ") {
		credential = strings.TrimSpace(credential[7:])
	}
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	var c claims
	_, err := jwt.ParseWithClaims(credential, &c, func(*jwt.Token) (any, error) {
		return []byte(g.cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(g.now))
	if err != nil {
		log.Debug("credential rejected", "error", err)
		return nil, ErrUnauthenticated
	}

	actorID, err := uuid.Parse(c.ActorID)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	sessionID, err := uuid.Parse(c.SessionID)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if !c.Role.Valid() {
		return nil, ErrUnauthenticated
	}

	live, err := g.sessionLive(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrUnauthenticated
	}
	return &Actor{ID: actorID, Email: c.Email, Role: c.Role, SessionID: sessionID}, nil
}

// sessionLive checks the cache first and falls back to the sessions table,
// refreshing the cache on a hit.
func (g *Gateway) sessionLive(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	if g.cache != nil {
		n, err := g.cache.Exists(ctx, sessionKeyPrefix+sessionID.String()).Result()
		if err == nil && n > 0 {
			return true, nil
		}
		if err != nil {
			log.Warn("session cache unavailable", "error", err)
		}
	}

	var row models.UserSession
	err := g.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL AND expires_at > ?", sessionID, userID, g.now()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}

	g.cacheSession(ctx, row.ID, row.ExpiresAt.Sub(g.now()))
	return true, nil
}

func (g *Gateway) cacheSession(ctx context.Context, id uuid.UUID, ttl time.Duration) {
	if g.cache == nil || ttl <= 0 {
		return
	}
	if err := g.cache.Set(ctx, sessionKeyPrefix+id.String(), "1", ttl).Err(); err != nil {
		log.Warn("cache session failed", "session_id", id, "error", err)
	}
}

// Logout revokes the actor's session.
func (g *Gateway) Logout(ctx context.Context, actor *Actor) error {
	if actor == nil {
		return ErrUnauthenticated
	}

	err := g.db.WithContext(ctx).Model(&models.UserSession{}).
		Where("id = ? AND revoked_at IS NULL", actor.SessionID).
		Update("revoked_at", g.now()).Error
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	if g.cache != nil {
		if err := g.cache.Del(ctx, sessionKeyPrefix+actor.SessionID.String()).Err(); err != nil && !errors.Is(err, redis.Nil) {
			log.Warn("evict session failed", "session_id", actor.SessionID, "error", err)
		}
	}
	log.Info("session revoked", "user_id", actor.ID, "session_id", actor.SessionID)
	return nil
}
