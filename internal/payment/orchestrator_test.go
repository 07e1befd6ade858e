package payment

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/farmart-client/internal/api"
	"github.com/mmeshcher/farmart-client/internal/backendtest"
	"github.com/mmeshcher/farmart-client/internal/cart"
	"github.com/mmeshcher/farmart-client/internal/model"
	"github.com/mmeshcher/farmart-client/internal/session"
	"github.com/mmeshcher/farmart-client/internal/storage"
)

type stubBackend struct {
	mu sync.Mutex

	order  *model.Order
	getErr error

	payErr  error
	payGate chan struct{} // если не nil, InitiatePayment ждёт закрытия
	getGate chan struct{} // если не nil, GetOrder ждёт закрытия

	payCalls int
	getCalls int
}

func (s *stubBackend) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	s.mu.Lock()
	s.getCalls++
	gate := s.getGate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	o := *s.order
	return &o, nil
}

func (s *stubBackend) InitiatePayment(ctx context.Context, orderID int64, phoneNumber string) error {
	s.mu.Lock()
	s.payCalls++
	gate := s.payGate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payErr
}

func (s *stubBackend) payCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payCalls
}

func (s *stubBackend) getCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func (s *stubBackend) setOrder(o model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = &o
}

type stubCart struct {
	order *model.Order
	err   error
}

func (s *stubCart) Checkout(ctx context.Context) (*model.Order, error) {
	return s.order, s.err
}

type recordingRedirector struct {
	mu        sync.Mutex
	locations []string
}

func (r *recordingRedirector) Navigate(location string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations = append(r.locations, location)
}

func (r *recordingRedirector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locations)
}

func newOrchestrator(backend Backend, basket Checkouter, redirect Redirector) *Orchestrator {
	return NewOrchestrator(backend, basket, redirect, Config{
		PhonePrefix:   "254",
		PollInterval:  5 * time.Millisecond,
		RedirectDelay: 10 * time.Millisecond,
	}, zap.NewNop())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msg)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestInitiatePayment_InvalidPhone(t *testing.T) {
	backend := &stubBackend{}
	orch := newOrchestrator(backend, &stubCart{}, &recordingRedirector{})

	for _, phone := range []string{"", "0712345678", "255712345678", "25471234567a"} {
		_, err := orch.InitiatePayment(context.Background(), 1, phone)
		if !errors.Is(err, ErrInvalidPhoneFormat) {
			t.Fatalf("phone %q: expected ErrInvalidPhoneFormat, got %v", phone, err)
		}
	}

	if backend.payCallCount() != 0 {
		t.Fatalf("invalid phone must be rejected before any network call")
	}
}

func TestInitiatePayment_Success(t *testing.T) {
	backend := &stubBackend{}
	orch := newOrchestrator(backend, &stubCart{}, &recordingRedirector{})

	attempt, err := orch.InitiatePayment(context.Background(), 42, "254712345678")
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}
	if attempt.Status != model.PaymentStatusInitiated {
		t.Fatalf("attempt status = %s, want INITIATED", attempt.Status)
	}
	if attempt.OrderID != 42 || attempt.ID == "" {
		t.Fatalf("unexpected attempt: %+v", attempt)
	}
	if backend.payCallCount() != 1 {
		t.Fatalf("expected one payment call, got %d", backend.payCallCount())
	}
}

func TestInitiatePayment_ConcurrentSecondRejected(t *testing.T) {
	gate := make(chan struct{})
	backend := &stubBackend{payGate: gate}
	orch := newOrchestrator(backend, &stubCart{}, &recordingRedirector{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := orch.InitiatePayment(context.Background(), 42, "254712345678")
		firstDone <- err
	}()

	waitFor(t, func() bool { return backend.payCallCount() == 1 }, "first payment call")

	_, err := orch.InitiatePayment(context.Background(), 42, "254712345678")
	if !errors.Is(err, ErrPaymentAlreadyInProgress) {
		t.Fatalf("expected ErrPaymentAlreadyInProgress, got %v", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first payment error: %v", err)
	}
	if backend.payCallCount() != 1 {
		t.Fatalf("concurrent initiate produced %d network calls, want 1", backend.payCallCount())
	}
}

func TestInitiatePayment_RepeatWhileAttemptActive(t *testing.T) {
	backend := &stubBackend{}
	orch := newOrchestrator(backend, &stubCart{}, &recordingRedirector{})

	if _, err := orch.InitiatePayment(context.Background(), 42, "254712345678"); err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}

	_, err := orch.InitiatePayment(context.Background(), 42, "254712345678")
	if !errors.Is(err, ErrPaymentAlreadyInProgress) {
		t.Fatalf("expected ErrPaymentAlreadyInProgress, got %v", err)
	}
	if backend.payCallCount() != 1 {
		t.Fatalf("repeat initiate must not reach the network")
	}
}

func TestInitiatePayment_OrderAlreadyPaid(t *testing.T) {
	backend := &stubBackend{}
	backend.setOrder(model.Order{ID: 42, Status: model.OrderStatusPaid})
	orch := newOrchestrator(backend, &stubCart{}, &recordingRedirector{})

	if _, err := orch.CheckOrder(context.Background(), 42); err != nil {
		t.Fatalf("CheckOrder error: %v", err)
	}

	_, err := orch.InitiatePayment(context.Background(), 42, "254712345678")
	if !errors.Is(err, ErrOrderAlreadyPaid) {
		t.Fatalf("expected ErrOrderAlreadyPaid, got %v", err)
	}
	if backend.payCallCount() != 0 {
		t.Fatalf("paid order initiate must not reach the network")
	}
}

func TestInitiatePayment_BackendFailure(t *testing.T) {
	backend := &stubBackend{payErr: errors.New("gateway timeout")}
	orch := newOrchestrator(backend, &stubCart{}, &recordingRedirector{})

	attempt, err := orch.InitiatePayment(context.Background(), 42, "254712345678")
	if !errors.Is(err, ErrPaymentInitiationFailed) {
		t.Fatalf("expected ErrPaymentInitiationFailed, got %v", err)
	}
	if attempt.Status != model.PaymentStatusFailed || attempt.LastError == "" {
		t.Fatalf("unexpected attempt after failure: %+v", attempt)
	}

	// Отказ не блокирует новую попытку: автоматических повторов нет,
	// но пользователь может запустить платёж снова.
	backend.mu.Lock()
	backend.payErr = nil
	backend.mu.Unlock()

	again, err := orch.InitiatePayment(context.Background(), 42, "254712345678")
	if err != nil {
		t.Fatalf("retry after failure error: %v", err)
	}
	if again.Status != model.PaymentStatusInitiated {
		t.Fatalf("retry status = %s, want INITIATED", again.Status)
	}
}

func TestWatchOrder_PaidSchedulesSingleRedirect(t *testing.T) {
	backend := &stubBackend{}
	backend.setOrder(model.Order{ID: 42, Status: model.OrderStatusConfirmed})
	redirect := &recordingRedirector{}
	orch := newOrchestrator(backend, &stubCart{}, redirect)

	if _, err := orch.InitiatePayment(context.Background(), 42, "254712345678"); err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}

	cancel := orch.WatchOrder(context.Background(), 42)
	defer cancel()

	waitFor(t, func() bool { return backend.getCallCount() >= 2 }, "status polling")

	backend.setOrder(model.Order{ID: 42, Status: model.OrderStatusPaid})

	waitFor(t, func() bool {
		attempt, ok := orch.Attempt()
		return ok && attempt.Status == model.PaymentStatusSucceeded
	}, "attempt resolution")

	waitFor(t, func() bool { return redirect.count() == 1 }, "success redirect")

	// Повторная сверка статуса не взводит второй переход.
	if _, err := orch.CheckOrder(context.Background(), 42); err != nil {
		t.Fatalf("CheckOrder error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := redirect.count(); got != 1 {
		t.Fatalf("redirect fired %d times, want exactly 1", got)
	}
	redirect.mu.Lock()
	target := redirect.locations[0]
	redirect.mu.Unlock()
	if target != "/my-orders" {
		t.Fatalf("redirect target = %s, want /my-orders", target)
	}
}

func TestWatchOrder_FailedOrderNoRedirect(t *testing.T) {
	backend := &stubBackend{}
	backend.setOrder(model.Order{ID: 42, Status: model.OrderStatusFailed})
	redirect := &recordingRedirector{}
	orch := newOrchestrator(backend, &stubCart{}, redirect)

	if _, err := orch.InitiatePayment(context.Background(), 42, "254712345678"); err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}

	cancel := orch.WatchOrder(context.Background(), 42)
	defer cancel()

	waitFor(t, func() bool {
		attempt, ok := orch.Attempt()
		return ok && attempt.Status == model.PaymentStatusFailed
	}, "attempt failure")

	time.Sleep(50 * time.Millisecond)
	if redirect.count() != 0 {
		t.Fatalf("failed order must not schedule a redirect")
	}
}

func TestWatchOrder_CancelDropsLateResponse(t *testing.T) {
	gate := make(chan struct{})
	backend := &stubBackend{getGate: gate}
	backend.setOrder(model.Order{ID: 42, Status: model.OrderStatusPaid})
	redirect := &recordingRedirector{}
	orch := newOrchestrator(backend, &stubCart{}, redirect)

	if _, err := orch.InitiatePayment(context.Background(), 42, "254712345678"); err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}

	cancel := orch.WatchOrder(context.Background(), 42)

	waitFor(t, func() bool { return backend.getCallCount() >= 1 }, "first poll request")

	// Уход с экрана статуса: запоздавший ответ опроса не должен ничего менять.
	cancel()
	close(gate)

	time.Sleep(50 * time.Millisecond)

	attempt, ok := orch.Attempt()
	if !ok || attempt.Status != model.PaymentStatusInitiated {
		t.Fatalf("late poll response mutated attempt: %+v", attempt)
	}
	if redirect.count() != 0 {
		t.Fatalf("late poll response scheduled a redirect")
	}
}

func TestOutcomeConvergence(t *testing.T) {
	if OutcomeForStatus(model.OrderStatusPaid) != OutcomeSuccess {
		t.Fatalf("PAID must render success")
	}
	if OutcomeForStatus(model.OrderStatusFailed) != OutcomeFailure {
		t.Fatalf("FAILED must render failure")
	}
	if OutcomeForStatus(model.OrderStatusConfirmed) != OutcomePending {
		t.Fatalf("CONFIRMED is not terminal")
	}

	// Путь через параметры навигации сходится к тому же правилу.
	if OutcomeForQuery("success") != OutcomeSuccess {
		t.Fatalf("query success must render success")
	}
	if OutcomeForQuery("PAID") != OutcomeSuccess {
		t.Fatalf("query PAID must render success")
	}
	if OutcomeForQuery("error") != OutcomeFailure {
		t.Fatalf("query error must render failure")
	}
	if OutcomeForQuery("") != OutcomePending {
		t.Fatalf("empty query status must render pending")
	}
}

// TestCheckoutPaymentFlow проводит полный сценарий покупателя через тестовый
// бэкенд: корзина, заказ, мобильный платёж, опрос статуса, переход к заказам.
func TestCheckoutPaymentFlow(t *testing.T) {
	srv := backendtest.NewServer()
	srv.AddUser("wanjiku", "secret", model.RoleBuyer)
	srv.AddAnimal(model.Animal{ID: 1, Name: "Bessie", Type: "cow", PriceCents: 100000, Available: true})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	logger := zap.NewNop()
	client := api.NewClient(ts.URL, logger)

	sess := session.NewStore(client, storage.NewMemStore(), logger)
	client.SetTokenProvider(sess)
	client.SetUnauthorizedHandler(sess.HandleUnauthorized)

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	sess.Bootstrap(ctx)
	if err := sess.Login(ctx, "wanjiku", "secret"); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	basket := cart.NewStore(client)
	redirect := &recordingRedirector{}
	orch := NewOrchestrator(client, basket, redirect, Config{
		PhonePrefix:   "254",
		PollInterval:  5 * time.Millisecond,
		RedirectDelay: 10 * time.Millisecond,
	}, logger)

	animals, err := client.ListAnimals(ctx, api.AnimalFilter{})
	if err != nil {
		t.Fatalf("ListAnimals error: %v", err)
	}
	basket.Add(animals[0], 2)

	order, err := orch.SubmitOrder(ctx)
	if err != nil {
		t.Fatalf("SubmitOrder error: %v", err)
	}
	if basket.ItemCount() != 0 {
		t.Fatalf("cart must be empty after checkout")
	}
	if order.TotalCents != 200000 {
		t.Fatalf("order total = %d, want 200000", order.TotalCents)
	}
	if orderCalls, _ := srv.Counters(); orderCalls != 1 {
		t.Fatalf("expected one order creation call, got %d", orderCalls)
	}

	attempt, err := orch.InitiatePayment(ctx, order.ID, "254712345678")
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}
	if attempt.Status != model.PaymentStatusInitiated {
		t.Fatalf("attempt status = %s, want INITIATED", attempt.Status)
	}

	cancel := orch.WatchOrder(ctx, order.ID)
	defer cancel()

	srv.SetOrderStatus(order.ID, model.OrderStatusPaid)

	waitFor(t, func() bool { return redirect.count() == 1 }, "redirect to order history")

	redirect.mu.Lock()
	target := redirect.locations[0]
	redirect.mu.Unlock()
	if target != "/my-orders" {
		t.Fatalf("redirect target = %s, want /my-orders", target)
	}
}
