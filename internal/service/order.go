package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maskeit/api-cisnatura/internal/model"
	"github.com/Maskeit/api-cisnatura/internal/repository"
)

// ShipmentRequest is the administrative action that moves a paid order to
// shipped and notifies the customer.
type ShipmentRequest struct {
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	Note           string
	Attachment     *Attachment
}

type OrderService struct {
	db     *gorm.DB
	orders repository.OrderRepository
	mailer Mailer
	log    *zap.SugaredLogger
}

func NewOrderService(db *gorm.DB, orders repository.OrderRepository, mailer Mailer, log *zap.SugaredLogger) *OrderService {
	return &OrderService{
		db:     db,
		orders: orders,
		mailer: mailer,
		log:    log,
	}
}

func (s *OrderService) List(ctx context.Context, filter repository.OrderFilter) ([]*model.Order, int64, error) {
	return s.orders.List(ctx, filter)
}

func (s *OrderService) Get(ctx context.Context, orderID uint) (*model.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return order, nil
}

// Ship attaches tracking data, transitions paid → shipped and sends the
// customer notification. The email is a side effect: a delivery failure is
// logged and reported, the transition stands.
func (s *OrderService) Ship(ctx context.Context, orderID uint, req *ShipmentRequest) (emailSent bool, err error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.Status != model.OrderPaid {
		return false, ErrOrderNotPaid
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.orders.MarkShipped(ctx, tx, orderID, req.Carrier, req.TrackingNumber, req.TrackingURL, req.Note)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrOrderNotPaid
	}
	if err != nil {
		return false, fmt.Errorf("mark shipped: %w", err)
	}

	s.log.Infow("order shipped",
		"order_id", order.ID, "order_number", order.OrderNumber,
		"carrier", req.Carrier, "tracking_number", req.TrackingNumber)

	if order.CustomerEmail == "" {
		s.log.Warnw("order has no customer email, notification skipped", "order_id", order.ID)
		return false, nil
	}

	notifyErr := s.mailer.SendShippingNotification(&ShippingNotification{
		To:             order.CustomerEmail,
		OrderNumber:    order.OrderNumber,
		Carrier:        req.Carrier,
		TrackingNumber: req.TrackingNumber,
		TrackingURL:    req.TrackingURL,
		Note:           req.Note,
		Attachment:     req.Attachment,
	})
	if notifyErr != nil {
		s.log.Errorw("shipping notification failed",
			"order_id", order.ID, "recipient", order.CustomerEmail, "error", notifyErr)
		return false, nil
	}

	return true, nil
}
