package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// preapproved returns the active, unexpired pre-approved account of email.
func (g *Gateway) preapproved(ctx context.Context, email string) (*models.PreapprovedAccount, error) {
	acct := &models.PreapprovedAccount{}
	err := g.db.WithContext(ctx).
		Where("email = ? AND is_active = ? AND (expires_at IS NULL OR expires_at > ?)", email, true, g.now()).
		Take(acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotPreapproved
	}
	if err != nil {
		return nil, err
	}
	if acct.AccountType != models.RoleCustomer && acct.AccountType != models.RolePartner {
		return nil, ErrNotPreapproved
	}
	return acct, nil
}

// SendOTP issues a one-time code to the phone of a pre-approved account.
// Earlier unused codes stop being valid.
func (g *Gateway) SendOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	acct, err := g.preapproved(ctx, email)
	if err != nil {
		return err
	}

	phone, err := NormalizePhone(acct.PhoneNumber)
	if err != nil {
		return err
	}

	code, err := g.code()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	now := g.now()
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.OTPCode{}).
			Where("email = ? AND used_at IS NULL", email).
			Update("used_at", now).Error; err != nil {
			return err
		}
		return tx.Create(&models.OTPCode{
			ID:        uuid.New(),
			Email:     email,
			CodeHash:  string(hash),
			ExpiresAt: now.Add(g.cfg.OTPExpiry),
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	body := fmt.Sprintf("Your verification code is: %s. Valid for %d minutes.", code, int(g.cfg.OTPExpiry.Minutes()))
	if err := g.sms.Send(ctx, phone, body); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	log.Info("verification code sent", "email", email, "account_type", acct.AccountType)
	return nil
}

// VerifyOTP checks a one-time code and issues a session for the account.
func (g *Gateway) VerifyOTP(ctx context.Context, email, code string, meta ClientMeta) (*Session, error) {
	email = normalizeEmail(email)
	acct, err := g.preapproved(ctx, email)
	if err != nil {
		return nil, err
	}

	var otp models.OTPCode
	err = g.db.WithContext(ctx).
		Where("email = ? AND used_at IS NULL", email).
		Order("created_at DESC").
		Take(&otp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeInvalid
	}
	if err != nil {
		return nil, err
	}

	now := g.now()
	if !now.Before(otp.ExpiresAt) {
		return nil, ErrCodeExpired
	}
	if otp.Attempts >= g.cfg.OTPMaxAttempts {
		return nil, ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)) != nil {
		if err := g.db.WithContext(ctx).Model(&otp).
			Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
			return nil, err
		}
		if otp.Attempts+1 >= g.cfg.OTPMaxAttempts {
			return nil, ErrTooManyAttempts
		}
		return nil, ErrCodeInvalid
	}

	res := g.db.WithContext(ctx).Model(&models.OTPCode{}).
		Where("id = ? AND used_at IS NULL", otp.ID).
		Update("used_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrCodeInvalid
	}

	user, err := g.webappUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &models.WebappUser{
			ID:        uuid.New(),
			Email:     email,
			UserType:  acct.AccountType,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := g.db.WithContext(ctx).Create(user).Error; err != nil {
			return nil, fmt.Errorf("create user %s: %w", email, err)
		}
	}
	if !user.IsActive || user.UserType != acct.AccountType {
		return nil, ErrForbidden
	}
	return g.issue(ctx, user, meta)
}
