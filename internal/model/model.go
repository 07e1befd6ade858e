// Package model содержит доменные сущности клиента Farmart.
package model

// Role описывает роль пользователя на площадке.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleFarmer Role = "FARMER"
	RoleAdmin  Role = "ADMIN"
)

// IsValid сообщает, известна ли роль клиенту.
func (r Role) IsValid() bool {
	switch r {
	case RoleBuyer, RoleFarmer, RoleAdmin:
		return true
	}
	return false
}

// Session представляет снимок состояния аутентификации на момент чтения.
// Инвариант: Role заполнена тогда и только тогда, когда заполнен AccessToken.
type Session struct {
	AccessToken  string
	RefreshToken string
	Username     string
	Role         Role
}

// Authenticated сообщает, аутентифицирован ли пользователь.
func (s Session) Authenticated() bool {
	return s.AccessToken != "" && s.Role.IsValid()
}

// Animal описывает товар площадки (животное в каталоге).
type Animal struct {
	ID         int64
	Name       string
	Type       string
	Breed      string
	PriceCents int64
	Available  bool
}

// CartItem описывает позицию корзины. На один товар приходится не более одной позиции.
type CartItem struct {
	AnimalID       int64
	Name           string
	UnitPriceCents int64
	Quantity       int
}

// OrderStatus описывает статус заказа на стороне бэкенда.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Terminal сообщает, является ли статус заказа конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

// OrderItem описывает позицию заказа с ценой на момент оформления.
type OrderItem struct {
	AnimalID       int64
	Quantity       int
	UnitPriceCents int64
}

// Order описывает заказ. Клиент хранит только проекцию, владелец данных — бэкенд.
type Order struct {
	ID         int64
	Status     OrderStatus
	TotalCents int64
	Items      []OrderItem
}

// PaymentStatus описывает состояние попытки мобильного платежа.
type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "INITIATED"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// PaymentAttempt описывает одну попытку оплаты заказа. Живёт в рамках одной
// сессии оформления и отбрасывается после конечного статуса.
type PaymentAttempt struct {
	ID          string
	OrderID     int64
	PhoneNumber string
	Status      PaymentStatus
	LastError   string
}
