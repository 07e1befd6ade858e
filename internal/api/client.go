// Package api предоставляет клиент REST API бэкенда площадки Farmart.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/farmart-client/internal/model"
)

// TokenProvider отдаёт текущий access-токен сессии.
type TokenProvider interface {
	AccessToken() (string, bool)
}

// Client инкапсулирует HTTP-взаимодействие с бэкендом площадки.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *zap.Logger
	tokens         TokenProvider
	onUnauthorized func()
}

// NewClient создаёт HTTP-клиент бэкенда по указанному базовому адресу.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// SetTokenProvider подключает источник access-токена для защищённых запросов.
func (c *Client) SetTokenProvider(p TokenProvider) {
	c.tokens = p
}

// SetUnauthorizedHandler подключает обработчик, вызываемый при истёкшем
// или отклонённом токене. Сессионный store сбрасывает по нему сессию.
func (c *Client) SetUnauthorizedHandler(fn func()) {
	c.onUnauthorized = fn
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// TokenPair содержит пару токенов, выданную бэкендом при аутентификации.
type TokenPair struct {
	Access  string
	Refresh string
}

// Authenticate обменивает логин и пароль на пару токенов.
func (c *Client) Authenticate(ctx context.Context, username, password string) (TokenPair, error) {
	body := map[string]string{"username": username, "password": password}

	resp, err := c.doJSON(ctx, http.MethodPost, "/auth/token", body, "")
	if err != nil {
		return TokenPair{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return TokenPair{}, ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, backendReject(resp)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return TokenPair{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.Access == "" {
		return TokenPair{}, &BackendError{StatusCode: resp.StatusCode, Message: "empty access token"}
	}

	return TokenPair{Access: tr.Access, Refresh: tr.Refresh}, nil
}

// RegisterRequest описывает данные регистрации нового пользователя.
type RegisterRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	RePassword string `json:"re_password"`
	UserType   string `json:"user_type"`
}

// Register создаёт учётную запись. Аутентификацию не выполняет.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/auth/users", req, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return decodeFieldErrors(resp.Body)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return backendReject(resp)
	}

	return nil
}

type meResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// FetchProfile запрашивает профиль владельца токена, прежде всего его роль.
// Токен передаётся явно: вызов нужен и до того, как сессия заполнена.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (model.Role, string, error) {
	if err := checkTokenExpiry(accessToken); err != nil {
		return "", "", err
	}

	resp, err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, accessToken)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", "", ErrTokenExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", backendReject(resp)
	}

	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", "", fmt.Errorf("decode profile response: %w", err)
	}

	role := model.Role(me.Role)
	if !role.IsValid() {
		return "", "", fmt.Errorf("unknown role %q", me.Role)
	}

	return role, me.Username, nil
}

// AnimalFilter содержит параметры фильтрации каталога.
type AnimalFilter struct {
	Type  string
	Breed string
}

type animalResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Breed     string `json:"breed"`
	Price     string `json:"price"`
	Available bool   `json:"is_available"`
}

// ListAnimals возвращает каталог животных, опционально с фильтром. Запрос публичный.
func (c *Client) ListAnimals(ctx context.Context, filter AnimalFilter) ([]model.Animal, error) {
	path := "/animals"
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", filter.Type)
	}
	if filter.Breed != "" {
		q.Set("breed", filter.Breed)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.doJSON(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backendReject(resp)
	}

	var list []animalResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode animals response: %w", err)
	}

	animals := make([]model.Animal, 0, len(list))
	for _, a := range list {
		cents, err := parseDecimalCents(a.Price)
		if err != nil {
			return nil, fmt.Errorf("animal %d: %w", a.ID, err)
		}
		animals = append(animals, model.Animal{
			ID:         a.ID,
			Name:       a.Name,
			Type:       a.Type,
			Breed:      a.Breed,
			PriceCents: cents,
			Available:  a.Available,
		})
	}

	return animals, nil
}

type orderItemRequest struct {
	AnimalID int64 `json:"animal_id"`
	Quantity int   `json:"quantity"`
}

type orderItemResponse struct {
	AnimalID  int64  `json:"animal_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type orderResponse struct {
	ID         int64               `json:"id"`
	Status     string              `json:"status"`
	TotalPrice string              `json:"total_price"`
	Items      []orderItemResponse `json:"items"`
}

// OrderLine описывает позицию создаваемого заказа.
type OrderLine struct {
	AnimalID int64
	Quantity int
}

// CreateOrder создаёт заказ из указанных позиций.
func (c *Client) CreateOrder(ctx context.Context, lines []OrderLine) (*model.Order, error) {
	items := make([]orderItemRequest, 0, len(lines))
	for _, l := range lines {
		items = append(items, orderItemRequest{AnimalID: l.AnimalID, Quantity: l.Quantity})
	}

	resp, err := c.doAuthedJSON(ctx, http.MethodPost, "/orders", map[string]any{"items": items})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, backendReject(resp)
	}

	return decodeOrder(resp.Body)
}

// GetOrder возвращает проекцию заказа по идентификатору.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	resp, err := c.doAuthedJSON(ctx, http.MethodGet, "/orders/"+strconv.FormatInt(orderID, 10), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backendReject(resp)
	}

	return decodeOrder(resp.Body)
}

// ListOrders возвращает заказы текущего пользователя.
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	resp, err := c.doAuthedJSON(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backendReject(resp)
	}

	var list []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode orders response: %w", err)
	}

	orders := make([]model.Order, 0, len(list))
	for _, raw := range list {
		o, err := decodeOrder(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	return orders, nil
}

// InitiatePayment запускает мобильный платёж по заказу.
func (c *Client) InitiatePayment(ctx context.Context, orderID int64, phoneNumber string) error {
	body := map[string]any{"order_id": orderID, "phone_number": phoneNumber}

	resp, err := c.doAuthedJSON(ctx, http.MethodPost, "/make-payment", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return backendReject(resp)
	}

	return nil
}

func (c *Client) doAuthedJSON(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.tokens == nil {
		return nil, ErrUnauthenticated
	}

	token, ok := c.tokens.AccessToken()
	if !ok {
		return nil, ErrUnauthenticated
	}

	// Истёкший по exp токен отбрасываем без сетевого запроса.
	if err := checkTokenExpiry(token); err != nil {
		c.notifyUnauthorized()
		return nil, err
	}

	resp, err := c.doJSON(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.notifyUnauthorized()
		return nil, ErrTokenExpired
	}

	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("backend request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, &TransportError{Err: err}
	}

	return resp, nil
}

func (c *Client) notifyUnauthorized() {
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

// checkTokenExpiry проверяет exp токена локально, без проверки подписи:
// подпись проверяет бэкенд, клиенту важно лишь не слать заведомо мёртвый токен.
func checkTokenExpiry(token string) error {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Непрозрачный токен не считаем истёкшим, решение останется за бэкендом.
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}

	if exp.Before(time.Now()) {
		return ErrTokenExpired
	}

	return nil
}

func decodeOrder(r io.Reader) (*model.Order, error) {
	var or orderResponse
	if err := json.NewDecoder(r).Decode(&or); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	total, err := parseDecimalCents(or.TotalPrice)
	if err != nil {
		return nil, fmt.Errorf("order %d total: %w", or.ID, err)
	}

	items := make([]model.OrderItem, 0, len(or.Items))
	for _, it := range or.Items {
		unit, err := parseDecimalCents(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("order %d item %d: %w", or.ID, it.AnimalID, err)
		}
		items = append(items, model.OrderItem{
			AnimalID:       it.AnimalID,
			Quantity:       it.Quantity,
			UnitPriceCents: unit,
		})
	}

	return &model.Order{
		ID:         or.ID,
		Status:     model.OrderStatus(or.Status),
		TotalCents: total,
		Items:      items,
	}, nil
}

// parseDecimalCents переводит денежную строку бэкенда ("12000.00") в центы.
func parseDecimalCents(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return int64(math.Round(v * 100)), nil
}

func backendReject(resp *http.Response) error {
	msg := ""
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		if body.Detail != "" {
			msg = body.Detail
		} else if body.Error != "" {
			msg = body.Error
		}
	}
	return &BackendError{StatusCode: resp.StatusCode, Message: msg}
}

func decodeFieldErrors(r io.Reader) error {
	raw := map[string]json.RawMessage{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return &ValidationError{FieldErrors: map[string]string{}}
	}

	fields := make(map[string]string, len(raw))
	for field, val := range raw {
		var list []string
		if err := json.Unmarshal(val, &list); err == nil && len(list) > 0 {
			fields[field] = list[0]
			continue
		}
		var single string
		if err := json.Unmarshal(val, &single); err == nil {
			fields[field] = single
		}
	}

	return &ValidationError{FieldErrors: fields}
}
