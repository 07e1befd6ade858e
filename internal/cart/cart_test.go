package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmeshcher/farmart-client/internal/api"
	"github.com/mmeshcher/farmart-client/internal/model"
)

type stubOrders struct {
	mu sync.Mutex

	order *model.Order
	err   error
	gate  chan struct{} // если не nil, CreateOrder ждёт закрытия

	calls int
	lines []api.OrderLine
}

func (s *stubOrders) CreateOrder(ctx context.Context, lines []api.OrderLine) (*model.Order, error) {
	s.mu.Lock()
	s.calls++
	s.lines = lines
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order, s.err
}

func (s *stubOrders) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func bessie() model.Animal {
	return model.Animal{ID: 1, Name: "Bessie", Type: "cow", PriceCents: 100000, Available: true}
}

func billy() model.Animal {
	return model.Animal{ID: 2, Name: "Billy", Type: "goat", PriceCents: 30000, Available: true}
}

func TestAdd_MergesSameAnimal(t *testing.T) {
	s := NewStore(&stubOrders{})

	s.Add(bessie(), 1)
	s.Add(bessie(), 1)

	items := s.Items()
	if len(items) != 1 {
		t.Fatalf("expected single cart item, got %d", len(items))
	}
	if items[0].Quantity != 2 {
		t.Fatalf("Quantity = %d, want 2", items[0].Quantity)
	}
}

func TestTotalsDerivedFromItems(t *testing.T) {
	s := NewStore(&stubOrders{})

	s.Add(bessie(), 2)
	s.Add(billy(), 3)

	if got := s.TotalPriceCents(); got != 2*100000+3*30000 {
		t.Fatalf("TotalPriceCents = %d, want %d", got, 2*100000+3*30000)
	}
	if got := s.ItemCount(); got != 5 {
		t.Fatalf("ItemCount = %d, want 5", got)
	}

	s.SetQuantity(billy().ID, 1)
	if got := s.TotalPriceCents(); got != 2*100000+30000 {
		t.Fatalf("TotalPriceCents after SetQuantity = %d, want %d", got, 2*100000+30000)
	}
}

func TestSetQuantity_ZeroRemoves(t *testing.T) {
	s := NewStore(&stubOrders{})

	s.Add(bessie(), 2)
	s.SetQuantity(bessie().ID, 0)

	if len(s.Items()) != 0 {
		t.Fatalf("expected empty cart after SetQuantity 0")
	}

	s.Add(billy(), 1)
	s.SetQuantity(billy().ID, -3)
	if len(s.Items()) != 0 {
		t.Fatalf("expected empty cart after negative SetQuantity")
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	orders := &stubOrders{}
	s := NewStore(orders)

	_, err := s.Checkout(context.Background())
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if orders.callCount() != 0 {
		t.Fatalf("empty checkout must not call backend")
	}
}

func TestCheckout_SuccessClearsCart(t *testing.T) {
	orders := &stubOrders{
		order: &model.Order{ID: 42, Status: model.OrderStatusConfirmed, TotalCents: 200000},
	}
	s := NewStore(orders)
	s.Add(bessie(), 2)

	order, err := s.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if order.ID != 42 {
		t.Fatalf("order ID = %d, want 42", order.ID)
	}
	if len(s.Items()) != 0 {
		t.Fatalf("cart must be empty after successful checkout")
	}
	if orders.callCount() != 1 {
		t.Fatalf("expected exactly one order creation call, got %d", orders.callCount())
	}
	if len(orders.lines) != 1 || orders.lines[0].AnimalID != 1 || orders.lines[0].Quantity != 2 {
		t.Fatalf("unexpected order lines: %+v", orders.lines)
	}
}

func TestCheckout_RejectionLeavesCartUntouched(t *testing.T) {
	orders := &stubOrders{
		err: &api.BackendError{StatusCode: 409, Message: "animal 1 is no longer available"},
	}
	s := NewStore(orders)
	s.Add(bessie(), 1)

	_, err := s.Checkout(context.Background())
	if !errors.Is(err, ErrCheckoutRejected) {
		t.Fatalf("expected ErrCheckoutRejected, got %v", err)
	}
	if len(s.Items()) != 1 {
		t.Fatalf("cart must be untouched after rejection")
	}

	// Пользователь может поправить состав и повторить.
	s.Remove(bessie().ID)
	s.Add(billy(), 1)
	if got := s.ItemCount(); got != 1 {
		t.Fatalf("ItemCount = %d, want 1", got)
	}
}

func TestCheckout_SecondCallRejectedWhilePending(t *testing.T) {
	gate := make(chan struct{})
	orders := &stubOrders{
		order: &model.Order{ID: 7, Status: model.OrderStatusConfirmed},
		gate:  gate,
	}
	s := NewStore(orders)
	s.Add(bessie(), 1)

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Checkout(context.Background())
		firstDone <- err
	}()

	deadline := time.After(time.Second)
	for orders.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("first checkout never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := s.Checkout(context.Background()); !errors.Is(err, ErrCheckoutInProgress) {
		t.Fatalf("expected ErrCheckoutInProgress, got %v", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first checkout error: %v", err)
	}
	if orders.callCount() != 1 {
		t.Fatalf("double click produced %d order calls, want 1", orders.callCount())
	}
}
