// Package cart реализует корзину покупателя и её оформление в заказ.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mmeshcher/farmart-client/internal/api"
	"github.com/mmeshcher/farmart-client/internal/model"
)

// ErrEmptyCart возвращается при оформлении пустой корзины.
var (
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCheckoutInProgress возвращается при повторном оформлении, пока первое не завершено.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	// ErrCheckoutRejected возвращается, если бэкенд отклонил заказ. Корзина при этом не меняется.
	ErrCheckoutRejected = errors.New("checkout rejected")
)

// OrderCreator описывает операцию создания заказа на бэкенде.
type OrderCreator interface {
	CreateOrder(ctx context.Context, lines []api.OrderLine) (*model.Order, error)
}

// Store держит позиции корзины по идентификатору товара. Единственная
// операция с побочным эффектом — Checkout.
type Store struct {
	orders OrderCreator

	mu             sync.Mutex
	items          map[int64]model.CartItem
	checkoutActive bool
}

// NewStore создаёт пустую корзину поверх операции создания заказа.
func NewStore(orders OrderCreator) *Store {
	return &Store{
		orders: orders,
		items:  make(map[int64]model.CartItem),
	}
}

// Add добавляет товар в корзину. Повторное добавление того же товара
// увеличивает количество существующей позиции, дубликат не создаётся.
func (s *Store) Add(animal model.Animal, quantity int) {
	if quantity < 1 {
		quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[animal.ID]
	if ok {
		item.Quantity += quantity
		s.items[animal.ID] = item
		return
	}

	s.items[animal.ID] = model.CartItem{
		AnimalID:       animal.ID,
		Name:           animal.Name,
		UnitPriceCents: animal.PriceCents,
		Quantity:       quantity,
	}
}

// Remove удаляет позицию из корзины.
func (s *Store) Remove(animalID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, animalID)
}

// SetQuantity задаёт количество позиции. Значение меньше единицы удаляет позицию.
func (s *Store) SetQuantity(animalID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		delete(s.items, animalID)
		return
	}

	item, ok := s.items[animalID]
	if !ok {
		return
	}
	item.Quantity = n
	s.items[animalID] = item
}

// Items возвращает позиции корзины, упорядоченные по идентификатору товара.
func (s *Store) Items() []model.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]model.CartItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].AnimalID < items[j].AnimalID })
	return items
}

// TotalPriceCents возвращает сумму корзины. Значение всегда вычисляется
// по текущим позициям и нигде не кэшируется.
func (s *Store) TotalPriceCents() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, item := range s.items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}
	return total
}

// ItemCount возвращает суммарное количество единиц товара в корзине.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, item := range s.items {
		count += item.Quantity
	}
	return count
}

// Checkout оформляет корзину в заказ. Корзина очищается только после
// успешного создания заказа; при отказе бэкенда она остаётся нетронутой,
// чтобы пользователь мог поправить состав и повторить. Повторный вызов
// во время незавершённого оформления отклоняется.
func (s *Store) Checkout(ctx context.Context) (*model.Order, error) {
	s.mu.Lock()
	if s.checkoutActive {
		s.mu.Unlock()
		return nil, ErrCheckoutInProgress
	}
	if len(s.items) == 0 {
		s.mu.Unlock()
		return nil, ErrEmptyCart
	}

	lines := make([]api.OrderLine, 0, len(s.items))
	for _, item := range s.items {
		lines = append(lines, api.OrderLine{AnimalID: item.AnimalID, Quantity: item.Quantity})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].AnimalID < lines[j].AnimalID })

	s.checkoutActive = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.checkoutActive = false
		s.mu.Unlock()
	}()

	order, err := s.orders.CreateOrder(ctx, lines)
	if err != nil {
		var be *api.BackendError
		if errors.As(err, &be) {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutRejected, be.Message)
		}
		return nil, err
	}

	s.mu.Lock()
	s.items = make(map[int64]model.CartItem)
	s.mu.Unlock()

	return order, nil
}
