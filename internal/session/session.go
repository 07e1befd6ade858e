// Package session реализует единственный на процесс store состояния аутентификации.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/farmart-client/internal/api"
	"github.com/mmeshcher/farmart-client/internal/model"
	"github.com/mmeshcher/farmart-client/internal/storage"
)

// ErrLoginInProgress возвращается при попытке входа, пока другой вход не завершён.
var (
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrRoleResolutionFailed возвращается, если токены выданы, но роль получить не удалось.
	// Токены в этом случае отбрасываются: полуаутентифицированное состояние недопустимо.
	ErrRoleResolutionFailed = errors.New("role resolution failed")
)

// Backend описывает операции бэкенда, используемые сессионным store.
type Backend interface {
	Authenticate(ctx context.Context, username, password string) (api.TokenPair, error)
	Register(ctx context.Context, req api.RegisterRequest) error
	FetchProfile(ctx context.Context, accessToken string) (model.Role, string, error)
}

// Store владеет состоянием сессии и учётными данными в долговременном
// хранилище. Только он пишет в хранилище.
type Store struct {
	backend Backend
	creds   storage.Store
	logger  *zap.Logger

	mu          sync.Mutex
	sess        model.Session
	ready       bool
	loginActive bool
	listeners   []func()
}

// NewStore создаёт сессионный store поверх бэкенда и хранилища учётных данных.
func NewStore(backend Backend, creds storage.Store, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		creds:   creds,
		logger:  logger,
	}
}

// Subscribe регистрирует обработчик, вызываемый при каждом изменении сессии.
// Заменяет полную перезагрузку UI: зависимые компоненты сбрасываются сами.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Ready сообщает, завершён ли начальный bootstrap. Пока он не завершён,
// навигатор не отображает ни одной страницы.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Snapshot возвращает копию текущей сессии. Частично записанное
// состояние наблюдать невозможно: все поля меняются под одной блокировкой.
func (s *Store) Snapshot() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// AccessToken реализует api.TokenProvider.
func (s *Store) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.AccessToken == "" {
		return "", false
	}
	return s.sess.AccessToken, true
}

// Bootstrap восстанавливает сессию из сохранённых учётных данных при старте.
// Любая неудача (сеть, истёкший токен) очищает хранилище и оставляет
// сессию пустой. По завершении store переходит в готовое состояние.
func (s *Store) Bootstrap(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.ready = true
		s.mu.Unlock()
	}()

	saved, err := s.creds.Load()
	if err != nil {
		if !errors.Is(err, storage.ErrNoCredentials) {
			s.logger.Error("load credentials failed", zap.Error(err))
		}
		return
	}

	role, username, err := s.backend.FetchProfile(ctx, saved.AccessToken)
	if err != nil {
		s.logger.Info("stored token rejected, clearing credentials", zap.Error(err))
		if clearErr := s.creds.Clear(); clearErr != nil {
			s.logger.Error("clear credentials failed", zap.Error(clearErr))
		}
		return
	}

	if username == "" {
		username = saved.Username
	}

	s.mu.Lock()
	s.sess = model.Session{
		AccessToken:  saved.AccessToken,
		RefreshToken: saved.RefreshToken,
		Username:     username,
		Role:         role,
	}
	s.mu.Unlock()
}

// Login обменивает учётные данные на токены и заполняет сессию.
// Одновременно допускается не более одного входа.
func (s *Store) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	if s.loginActive {
		s.mu.Unlock()
		return ErrLoginInProgress
	}
	s.loginActive = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loginActive = false
		s.mu.Unlock()
	}()

	pair, err := s.backend.Authenticate(ctx, username, password)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	role, resolvedName, err := s.backend.FetchProfile(ctx, pair.Access)
	if err != nil {
		// Токены уже выданы, но роль не получена: отбрасываем их целиком.
		s.logger.Error("role resolution failed after token issue", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrRoleResolutionFailed, err)
	}

	if resolvedName == "" {
		resolvedName = username
	}

	sess := model.Session{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		Username:     resolvedName,
		Role:         role,
	}

	if err := s.creds.Save(storage.Credentials{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		Username:     sess.Username,
		Role:         string(sess.Role),
	}); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}

	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()

	s.notify()
	return nil
}

// Register создаёт учётную запись. Автоматический вход не выполняется.
func (s *Store) Register(ctx context.Context, req api.RegisterRequest) error {
	return s.backend.Register(ctx, req)
}

// Logout синхронно очищает сессию и хранилище и уведомляет подписчиков.
// Повторный вызов даёт тот же результат, что и одиночный.
func (s *Store) Logout() {
	if err := s.creds.Clear(); err != nil {
		s.logger.Error("clear credentials failed", zap.Error(err))
	}

	s.mu.Lock()
	wasEmpty := s.sess == model.Session{}
	s.sess = model.Session{}
	s.mu.Unlock()

	if !wasEmpty {
		s.notify()
	}
}

// HandleUnauthorized сбрасывает сессию при отклонённом токене.
// Подключается как обработчик 401 к api-клиенту.
func (s *Store) HandleUnauthorized() {
	s.logger.Info("access token rejected by backend, logging out")
	s.Logout()
}

func (s *Store) notify() {
	s.mu.Lock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
