// Package backendtest содержит тестовый in-memory бэкенд площадки Farmart.
// Он обслуживает тот же REST-контракт, что и боевой бэкенд, и используется
// в тестах клиентских пакетов через httptest.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/farmart-client/internal/model"
)

var signingKey = []byte("backendtest-secret")

type user struct {
	Username string
	Password string
	Role     model.Role
}

type storedOrder struct {
	ID         int64
	Owner      string
	Status     model.OrderStatus
	TotalCents int64
	Items      []model.OrderItem
}

// Server реализует тестовый бэкенд с управляемым состоянием.
type Server struct {
	mu      sync.Mutex
	users   map[string]user
	animals map[int64]model.Animal
	orders  map[int64]*storedOrder
	nextID  int64

	// Счётчики и перехватчики для проверок в тестах.
	OrderCalls   int
	PaymentCalls int
	RejectOrders string // непустое значение — отклонять создание заказов с этим текстом
	TokenTTL     time.Duration
}

// NewServer создаёт тестовый бэкенд без пользователей и товаров.
func NewServer() *Server {
	return &Server{
		users:    make(map[string]user),
		animals:  make(map[int64]model.Animal),
		orders:   make(map[int64]*storedOrder),
		nextID:   1,
		TokenTTL: time.Hour,
	}
}

// AddUser регистрирует пользователя напрямую, минуя HTTP.
func (s *Server) AddUser(username, password string, role model.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = user{Username: username, Password: password, Role: role}
}

// AddAnimal добавляет товар в каталог напрямую.
func (s *Server) AddAnimal(a model.Animal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.animals[a.ID] = a
}

// Counters возвращает количество обращений к созданию заказа и запуску платежа.
func (s *Server) Counters() (orderCalls, paymentCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OrderCalls, s.PaymentCalls
}

// SetOrderStatus выставляет статус заказа, имитируя работу платёжного шлюза.
func (s *Server) SetOrderStatus(orderID int64, status model.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.Status = status
	}
}

// IssueToken выпускает токен для пользователя с указанным сроком жизни.
func (s *Server) IssueToken(username string, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sub": username,
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("backendtest: sign token: %v", err))
	}
	return signed
}

// Router собирает маршруты тестового бэкенда.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Post("/auth/token", s.handleToken)
	r.Post("/auth/users", s.handleRegister)
	r.Get("/users/me", s.handleMe)
	r.Get("/animals", s.handleAnimals)
	r.Post("/orders", s.handleCreateOrder)
	r.Get("/orders", s.handleListOrders)
	r.Get("/orders/{id}", s.handleGetOrder)
	r.Post("/make-payment", s.handlePayment)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	return r
}

func (s *Server) authorize(r *http.Request) (user, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return user{}, false
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(t *jwt.Token) (any, error) {
		return signingKey, nil
	})
	if err != nil || !token.Valid {
		return user{}, false
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return user{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[sub]
	return u, ok
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Username]
	ttl := s.TokenTTL
	s.mu.Unlock()

	if !ok || u.Password != req.Password {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access":  s.IssueToken(req.Username, ttl),
		"refresh": s.IssueToken(req.Username, 24*ttl),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		RePassword string `json:"re_password"`
		UserType   string `json:"user_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	fieldErrors := map[string][]string{}
	if req.Username == "" {
		fieldErrors["username"] = []string{"This field is required."}
	}
	if req.Password == "" {
		fieldErrors["password"] = []string{"This field is required."}
	}
	if req.Password != req.RePassword {
		fieldErrors["re_password"] = []string{"Passwords do not match."}
	}
	if !model.Role(req.UserType).IsValid() {
		fieldErrors["user_type"] = []string{"Unknown user type."}
	}

	s.mu.Lock()
	if _, exists := s.users[req.Username]; exists && req.Username != "" {
		fieldErrors["username"] = []string{"A user with that username already exists."}
	}
	if len(fieldErrors) > 0 {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, fieldErrors)
		return
	}
	s.users[req.Username] = user{Username: req.Username, Password: req.Password, Role: model.Role(req.UserType)}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authorize(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"username": u.Username,
		"role":     string(u.Role),
	})
}

func (s *Server) handleAnimals(w http.ResponseWriter, r *http.Request) {
	typeFilter := r.URL.Query().Get("type")
	breedFilter := r.URL.Query().Get("breed")

	s.mu.Lock()
	list := make([]map[string]any, 0, len(s.animals))
	for _, a := range s.animals {
		if typeFilter != "" && a.Type != typeFilter {
			continue
		}
		if breedFilter != "" && a.Breed != breedFilter {
			continue
		}
		list = append(list, map[string]any{
			"id":           a.ID,
			"name":         a.Name,
			"type":         a.Type,
			"breed":        a.Breed,
			"price":        centsToDecimal(a.PriceCents),
			"is_available": a.Available,
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authorize(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req struct {
		Items []struct {
			AnimalID int64 `json:"animal_id"`
			Quantity int   `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.OrderCalls++

	if s.RejectOrders != "" {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": s.RejectOrders})
		return
	}

	order := &storedOrder{
		ID:     s.nextID,
		Owner:  u.Username,
		Status: model.OrderStatusConfirmed,
	}
	s.nextID++

	for _, it := range req.Items {
		a, ok := s.animals[it.AnimalID]
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]string{"detail": fmt.Sprintf("animal %d is no longer available", it.AnimalID)})
			return
		}
		order.Items = append(order.Items, model.OrderItem{
			AnimalID:       a.ID,
			Quantity:       it.Quantity,
			UnitPriceCents: a.PriceCents,
		})
		order.TotalCents += a.PriceCents * int64(it.Quantity)
	}

	s.orders[order.ID] = order
	writeJSON(w, http.StatusCreated, orderPayload(order))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authorize(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	list := make([]map[string]any, 0, len(s.orders))
	for _, o := range s.orders {
		if o.Owner == u.Username {
			list = append(list, orderPayload(o))
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(r); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	o, ok := s.orders[id]
	s.mu.Unlock()

	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, orderPayload(o))
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(r); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req struct {
		OrderID     int64  `json:"order_id"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.PaymentCalls++

	o, ok := s.orders[req.OrderID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "order not found"})
		return
	}
	if o.Status == model.OrderStatusPaid {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "order already paid"})
		return
	}

	o.Status = model.OrderStatusPending
	writeJSON(w, http.StatusOK, map[string]string{"detail": "payment initiated"})
}

func orderPayload(o *storedOrder) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"animal_id":  it.AnimalID,
			"quantity":   it.Quantity,
			"unit_price": centsToDecimal(it.UnitPriceCents),
		})
	}
	return map[string]any{
		"id":          o.ID,
		"status":      string(o.Status),
		"total_price": centsToDecimal(o.TotalCents),
		"items":       items,
	}
}

func centsToDecimal(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
