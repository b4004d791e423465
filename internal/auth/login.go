package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Login authenticates an employee by password.
func (g *Gateway) Login(ctx context.Context, email, password string, meta ClientMeta) (*Session, error) {
	email = normalizeEmail(email)
	if !g.isCompanyEmail(email) {
		return nil, ErrInvalidCredentials
	}

	var emp models.Employee
	err := g.db.WithContext(ctx).
		Where("employee_email = ? AND employment_status = ?", email, models.EmploymentStatusActive).
		Take(&emp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	user, err := g.webappUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive || user.UserType != models.RoleEmployee || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.Info("login rejected", "email", email)
		return nil, ErrInvalidCredentials
	}
	return g.issue(ctx, user, meta)
}

func (g *Gateway) isCompanyEmail(email string) bool {
	return g.cfg.CompanyDomain != "" && strings.HasSuffix(email, "@"+g.cfg.CompanyDomain)
}

func (g *Gateway) webappUser(ctx context.Context, email string) (*models.WebappUser, error) {
	user := &models.WebappUser{}
	err := g.db.WithContext(ctx).Where("email = ?", email).Take(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SetPassword creates or updates the employee login of email.
func (g *Gateway) SetPassword(ctx context.Context, email, password string) (*models.WebappUser, error) {
	email = normalizeEmail(email)
	if len(password) < 8 {
		return nil, errors.New("auth: password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := g.webappUser(ctx, email)
	if err != nil {
		return nil, err
	}
	now := g.now()
	if user == nil {
		user = &models.WebappUser{
			ID:        uuid.New(),
			Email:     email,
			UserType:  models.RoleEmployee,
			IsActive:  true,
			CreatedAt: now,
		}
	}
	user.PasswordHash = string(hash)
	user.UpdatedAt = now
	if err := g.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, fmt.Errorf("save user %s: %w", email, err)
	}
	return user, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
