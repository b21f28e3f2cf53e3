package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/reelay/reelay/internal/auth/domain"
	"github.com/reelay/reelay/internal/auth/password"
	"gorm.io/gorm"
)

const (
	devUserEmail    = "dev@reelay.local"
	devUserPassword = "reelay-dev"
	devUserDisplay  = "Reelay Dev"
)

// EnsureDevUser seeds a local account so a fresh install is usable
// without going through signup first.
func EnsureDevUser(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user authdomain.User
		err := tx.WithContext(ctx).
			Where("email = ?", devUserEmail).
			First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := password.Hash(devUserPassword)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		user = authdomain.User{
			ID:           node.Generate(),
			Email:        devUserEmail,
			PasswordHash: hashed,
			DisplayName:  devUserDisplay,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.WithContext(ctx).Create(&user).Error
	})
}
