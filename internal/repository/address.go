package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Maskeit/api-cisnatura/internal/model"
)

type AddressRepository interface {
	FindForUser(ctx context.Context, addressID uint, userID string) (*model.Address, error)
}

type addressRepoImpl struct {
	db *gorm.DB
}

func NewAddressRepository(db *gorm.DB) AddressRepository {
	return &addressRepoImpl{
		db: db,
	}
}

func (r *addressRepoImpl) FindForUser(ctx context.Context, addressID uint, userID string) (*model.Address, error) {
	var address model.Address
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		First(&address).Error

	if err != nil {
		return nil, err
	}

	return &address, nil
}
