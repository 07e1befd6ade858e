// Package payment реализует оформление заказа и контроль мобильного платежа.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/farmart-client/internal/model"
	"github.com/mmeshcher/farmart-client/internal/validation"
)

// ErrInvalidPhoneFormat возвращается, если номер не соответствует префиксу региона.
var (
	ErrInvalidPhoneFormat = errors.New("invalid phone number format")
	// ErrPaymentInitiationFailed возвращается при отказе бэкенда запустить платёж.
	// Автоматических повторов нет: заказ остаётся в состоянии, которое сообщил бэкенд.
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	// ErrPaymentAlreadyInProgress возвращается при повторном запуске платежа по
	// заказу с незавершённой попыткой. Отклоняется до сетевого вызова.
	ErrPaymentAlreadyInProgress = errors.New("payment already in progress")
	// ErrOrderAlreadyPaid возвращается при запуске платежа по уже оплаченному заказу.
	ErrOrderAlreadyPaid = errors.New("order already paid")
)

// Backend описывает операции бэкенда, используемые оркестратором.
type Backend interface {
	GetOrder(ctx context.Context, orderID int64) (*model.Order, error)
	InitiatePayment(ctx context.Context, orderID int64, phoneNumber string) error
}

// Checkouter описывает оформление корзины в заказ.
type Checkouter interface {
	Checkout(ctx context.Context) (*model.Order, error)
}

// Redirector описывает переход, выполняемый после успешной оплаты.
type Redirector interface {
	Navigate(location string) // пункт назначения задаёт оркестратор
}

// Outcome описывает конечное отображение статуса платежа на экране статуса.
type Outcome int

const (
	// OutcomePending — статус не конечный, экран показывает ожидание.
	OutcomePending Outcome = iota
	// OutcomeSuccess — оплата прошла, экран успеха с отложенным переходом к заказам.
	OutcomeSuccess
	// OutcomeFailure — конечный неуспех, экран с ручным возвратом.
	OutcomeFailure
)

// OutcomeForStatus — единое правило конечного отображения: и опрос заказа,
// и разбор параметров навигации сходятся к нему.
func OutcomeForStatus(status model.OrderStatus) Outcome {
	switch status {
	case model.OrderStatusPaid:
		return OutcomeSuccess
	case model.OrderStatusFailed:
		return OutcomeFailure
	default:
		return OutcomePending
	}
}

// OutcomeForQuery разбирает статус из параметров навигации экрана статуса.
func OutcomeForQuery(status string) Outcome {
	switch status {
	case "success", string(model.OrderStatusPaid):
		return OutcomeSuccess
	case "", "info", "pending":
		return OutcomePending
	default:
		return OutcomeFailure
	}
}

// Config содержит параметры оркестратора платежей.
type Config struct {
	PhonePrefix   string
	PollInterval  time.Duration
	RedirectDelay time.Duration
}

// Orchestrator ведёт платёж по строгому протоколу: заказ из корзины,
// запуск мобильного платежа, опрос статуса до конечного состояния.
type Orchestrator struct {
	backend  Backend
	cart     Checkouter
	redirect Redirector
	logger   *zap.Logger
	cfg      Config

	mu            sync.Mutex
	attempt       *model.PaymentAttempt
	initiating    bool
	paidOrders    map[int64]struct{}
	watchToken    uint64
	redirectFired bool
	redirectTimer *time.Timer
}

// NewOrchestrator создаёт оркестратор платежей.
func NewOrchestrator(backend Backend, cart Checkouter, redirect Redirector, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = 6 * time.Second
	}
	return &Orchestrator{
		backend:    backend,
		cart:       cart,
		redirect:   redirect,
		logger:     logger,
		cfg:        cfg,
		paidOrders: make(map[int64]struct{}),
	}
}

// SubmitOrder оформляет корзину в заказ. При неудаче попытка платежа не создаётся.
func (o *Orchestrator) SubmitOrder(ctx context.Context) (*model.Order, error) {
	order, err := o.cart.Checkout(ctx)
	if err != nil {
		return nil, err
	}

	o.logger.Info("order created", zap.Int64("orderID", order.ID), zap.Int64("totalCents", order.TotalCents))
	return order, nil
}

// DefaultPhone возвращает заготовку номера для формы оплаты.
func (o *Orchestrator) DefaultPhone() string {
	return o.cfg.PhonePrefix
}

// Attempt возвращает копию текущей попытки платежа, если она есть.
func (o *Orchestrator) Attempt() (model.PaymentAttempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt == nil {
		return model.PaymentAttempt{}, false
	}
	return *o.attempt, true
}

// InitiatePayment запускает мобильный платёж по заказу. Повторный запуск по
// заказу с активной попыткой и запуск по оплаченному заказу отклоняются
// до обращения к сети, чтобы не выставить пользователю второй запрос оплаты.
func (o *Orchestrator) InitiatePayment(ctx context.Context, orderID int64, phoneNumber string) (model.PaymentAttempt, error) {
	if !validation.IsValidPhoneNumber(phoneNumber, o.cfg.PhonePrefix) {
		return model.PaymentAttempt{}, ErrInvalidPhoneFormat
	}

	o.mu.Lock()
	if _, paid := o.paidOrders[orderID]; paid {
		o.mu.Unlock()
		return model.PaymentAttempt{}, ErrOrderAlreadyPaid
	}
	if o.initiating {
		o.mu.Unlock()
		return model.PaymentAttempt{}, ErrPaymentAlreadyInProgress
	}
	if o.attempt != nil && o.attempt.OrderID == orderID && o.attempt.Status == model.PaymentStatusInitiated {
		o.mu.Unlock()
		return model.PaymentAttempt{}, ErrPaymentAlreadyInProgress
	}

	attempt := &model.PaymentAttempt{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		PhoneNumber: phoneNumber,
	}
	o.initiating = true
	o.attempt = attempt
	o.redirectFired = false
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.initiating = false
		o.mu.Unlock()
	}()

	if err := o.backend.InitiatePayment(ctx, orderID, phoneNumber); err != nil {
		o.mu.Lock()
		attempt.Status = model.PaymentStatusFailed
		attempt.LastError = err.Error()
		snapshot := *attempt
		o.mu.Unlock()

		o.logger.Error("payment initiation failed", zap.Int64("orderID", orderID), zap.Error(err))
		return snapshot, fmt.Errorf("%w: %w", ErrPaymentInitiationFailed, err)
	}

	o.mu.Lock()
	attempt.Status = model.PaymentStatusInitiated
	snapshot := *attempt
	o.mu.Unlock()

	o.logger.Info("payment initiated", zap.Int64("orderID", orderID), zap.String("attemptID", attempt.ID))
	return snapshot, nil
}

// WatchOrder запускает опрос статуса заказа до конечного состояния.
// Возвращённая функция отменяет наблюдение; её вызывают при уходе с экрана
// статуса, после чего запоздавший ответ опроса уже не меняет состояние.
func (o *Orchestrator) WatchOrder(ctx context.Context, orderID int64) (cancel func()) {
	o.mu.Lock()
	o.watchToken++
	token := o.watchToken
	o.mu.Unlock()

	watchCtx, stop := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(o.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				if done := o.pollOnce(watchCtx, orderID, token); done {
					return
				}
			}
		}
	}()

	return func() {
		stop()
		o.cancelWatch(token)
	}
}

// CheckOrder выполняет однократный запрос статуса по требованию экрана.
func (o *Orchestrator) CheckOrder(ctx context.Context, orderID int64) (Outcome, error) {
	order, err := o.backend.GetOrder(ctx, orderID)
	if err != nil {
		return OutcomePending, err
	}

	o.mu.Lock()
	token := o.watchToken
	o.mu.Unlock()

	o.applyStatus(orderID, order.Status, token)
	return OutcomeForStatus(order.Status), nil
}

func (o *Orchestrator) pollOnce(ctx context.Context, orderID int64, token uint64) bool {
	order, err := o.backend.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return true
		}
		o.logger.Error("order status poll failed", zap.Int64("orderID", orderID), zap.Error(err))
		return false
	}

	if !order.Status.Terminal() {
		return false
	}

	o.applyStatus(orderID, order.Status, token)
	return true
}

// applyStatus применяет конечный статус заказа к попытке платежа.
// Токен наблюдения сверяется до применения: ответ, пришедший после отмены
// наблюдения, отбрасывается.
func (o *Orchestrator) applyStatus(orderID int64, status model.OrderStatus, token uint64) {
	if !status.Terminal() {
		return
	}

	o.mu.Lock()
	if token != o.watchToken {
		o.mu.Unlock()
		return
	}

	if status == model.OrderStatusPaid {
		o.paidOrders[orderID] = struct{}{}
	}

	if o.attempt != nil && o.attempt.OrderID == orderID {
		if status == model.OrderStatusPaid {
			o.attempt.Status = model.PaymentStatusSucceeded
		} else {
			o.attempt.Status = model.PaymentStatusFailed
			o.attempt.LastError = fmt.Sprintf("order finished with status %s", status)
		}
	}

	scheduleRedirect := status == model.OrderStatusPaid && !o.redirectFired
	if scheduleRedirect {
		// Отложенный переход срабатывает не более одного раза на попытку.
		o.redirectFired = true
		o.redirectTimer = time.AfterFunc(o.cfg.RedirectDelay, func() {
			o.redirect.Navigate("/my-orders")
		})
	}
	o.mu.Unlock()

	if status == model.OrderStatusPaid {
		o.logger.Info("order paid", zap.Int64("orderID", orderID))
	} else {
		o.logger.Info("order failed", zap.Int64("orderID", orderID), zap.String("status", string(status)))
	}
}

// cancelWatch инвалидирует текущее наблюдение и взводимый переход.
func (o *Orchestrator) cancelWatch(token uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if token != o.watchToken {
		return
	}

	o.watchToken++
	if o.redirectTimer != nil {
		o.redirectTimer.Stop()
		o.redirectTimer = nil
	}
}
