package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Maskeit/api-cisnatura/internal/model"
)

// OrderFilter narrows admin order listings.
type OrderFilter struct {
	Status model.OrderStatus
	UserID string
	Offset int
	Limit  int
}

type OrderRepository interface {
	// Create inserts the order with its items. A duplicate
	// (provider, payment_ref) pair surfaces as gorm.ErrDuplicatedKey.
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	FindByPaymentRef(ctx context.Context, provider, paymentRef string) (*model.Order, error)
	FindByID(ctx context.Context, orderID uint) (*model.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]*model.Order, int64, error)
	GetItems(ctx context.Context, tx *gorm.DB, orderID uint) ([]*model.OrderItem, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, orderID uint, from []model.OrderStatus, to model.OrderStatus) error
	MarkShipped(ctx context.Context, tx *gorm.DB, orderID uint, carrier, trackingNumber, trackingURL, adminNotes string) error
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Create(order).Error
}

func (r *orderRepoImpl) FindByPaymentRef(ctx context.Context, provider, paymentRef string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("provider = ? AND payment_ref = ?", provider, paymentRef).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByID(ctx context.Context, orderID uint) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) List(ctx context.Context, filter OrderFilter) ([]*model.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Order{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var orders []*model.Order
	err := query.Preload("Items").
		Order("created_at DESC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *orderRepoImpl) GetItems(ctx context.Context, tx *gorm.DB, orderID uint) ([]*model.OrderItem, error) {
	var items []*model.OrderItem
	err := tx.WithContext(ctx).Where("order_id = ?", orderID).
		Find(&items).Error

	if err != nil {
		return nil, err
	}

	return items, nil
}

// UpdateStatus transitions the order only when its current status is one of
// from; RowsAffected == 0 means the transition was already applied or the
// order is in another state, and surfaces as gorm.ErrRecordNotFound.
func (r *orderRepoImpl) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID uint, from []model.OrderStatus, to model.OrderStatus) error {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status IN ?", orderID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *orderRepoImpl) MarkShipped(ctx context.Context, tx *gorm.DB, orderID uint, carrier, trackingNumber, trackingURL, adminNotes string) error {
	now := time.Now()
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderPaid).
		Updates(map[string]interface{}{
			"status":          model.OrderShipped,
			"carrier":         carrier,
			"tracking_number": trackingNumber,
			"tracking_url":    trackingURL,
			"admin_notes":     adminNotes,
			"shipped_at":      &now,
			"updated_at":      now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
