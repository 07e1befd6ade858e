// Package storage содержит реализацию долговременного хранилища учётных данных.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoCredentials возвращается, если сохранённых учётных данных нет.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials описывает сохраняемое состояние сессии. Поля пишутся и
// читаются только вместе: частично записанное состояние не наблюдаемо.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
	Role         string `json:"role"`
}

// Store описывает контракт хранилища учётных данных.
// Писать в хранилище разрешено только сессионному store.
type Store interface {
	Load() (Credentials, error)
	Save(creds Credentials) error
	Clear() error
}

// FileStore хранит учётные данные в JSON-файле. Запись атомарна:
// данные пишутся во временный файл и подменяются через rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore создаёт файловое хранилище по указанному пути.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("credentials path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credentials dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load читает сохранённые учётные данные.
func (f *FileStore) Load() (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}

	if creds.AccessToken == "" {
		// Отсутствие access-токена — единственный признак разлогиненного состояния.
		return Credentials{}, ErrNoCredentials
	}

	return creds, nil
}

// Save атомарно записывает учётные данные одним блоком.
func (f *FileStore) Save(creds Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}

	return nil
}

// Clear удаляет сохранённые учётные данные. Повторный вызов не ошибка.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// MemStore хранит учётные данные в памяти. Используется в тестах.
type MemStore struct {
	mu    sync.Mutex
	creds Credentials
	set   bool
}

// NewMemStore создаёт хранилище в памяти.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Load читает учётные данные из памяти.
func (m *MemStore) Load() (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.set || m.creds.AccessToken == "" {
		return Credentials{}, ErrNoCredentials
	}
	return m.creds, nil
}

// Save сохраняет учётные данные в память.
func (m *MemStore) Save(creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds = creds
	m.set = true
	return nil
}

// Clear очищает хранилище.
func (m *MemStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds = Credentials{}
	m.set = false
	return nil
}
