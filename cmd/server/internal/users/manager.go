package users

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("user exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// DefaultTokenTTL token 默认有效期
const DefaultTokenTTL = 24 * time.Hour

// User 数据模型
// Password 存储 bcrypt 哈希
type User struct {
	Username  string    `json:"username"`
	Password  string    `json:"password_hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claims 自定义 JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Manager 管理用户及 JWT
// 简易文件存储 users/users.json
type Manager struct {
	mu        sync.RWMutex
	users     map[string]*User
	secretKey []byte
	storePath string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewManager 创建管理器，secret 用于 JWT 签名；tokenTTL<=0 时使用默认值
func NewManager(storeDir string, secret []byte, tokenTTL time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret key required")
	}
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	m := &Manager{
		users:     map[string]*User{},
		secretKey: secret,
		storePath: filepath.Join(storeDir, "users.json"),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func hashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// load 从文件读取
func (m *Manager) load() error {
	b, err := os.ReadFile(m.storePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil // first run
	}
	if err != nil {
		return err
	}
	var arr []*User
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	for _, u := range arr {
		m.users[u.Username] = u
	}
	return nil
}

// save 写入文件（全量）
func (m *Manager) save() error {
	arr := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		arr = append(arr, u)
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].Username < arr[j].Username })
	b, err := json.MarshalIndent(arr, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.storePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(m.storePath, b, 0600)
}

// EnsureDefaultAdmin 如果没有用户则创建 admin 默认用户
func (m *Manager) EnsureDefaultAdmin(defaultPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.users) > 0 {
		return nil
	}
	hash, err := hashPassword(defaultPassword)
	if err != nil {
		return err
	}
	now := m.now()
	m.users["admin"] = &User{Username: "admin", Password: hash, CreatedAt: now, UpdatedAt: now}
	return m.save()
}

// CreateUser 创建用户（用户名唯一）
func (m *Manager) CreateUser(username, password string) (*User, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[username]; exists {
		return nil, ErrUserExists
	}
	now := m.now()
	u := &User{Username: username, Password: hash, CreatedAt: now, UpdatedAt: now}
	m.users[username] = u
	if err := m.save(); err != nil {
		return nil, err
	}
	cpy := *u
	cpy.Password = ""
	return &cpy, nil
}

// GetUser 获取单个（隐藏密码）
func (m *Manager) GetUser(username string) (*User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, false
	}
	cpy := *u
	cpy.Password = ""
	return &cpy, true
}

// Authenticate 验证用户名密码
func (m *Manager) Authenticate(username, password string) (*User, error) {
	m.mu.RLock()
	u, ok := m.users[username]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	cpy := *u
	cpy.Password = ""
	return &cpy, nil
}

// GenerateToken 生成带过期时间的 token，返回 token 与过期时间
func (m *Manager) GenerateToken(username string) (string, time.Time, error) {
	m.mu.RLock()
	_, ok := m.users[username]
	m.mu.RUnlock()
	if !ok {
		return "", time.Time{}, ErrUserNotFound
	}
	now := m.now()
	expiresAt := now.Add(m.tokenTTL)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.secretKey)
	return signed, expiresAt, err
}

// ParseToken 验证并返回 claims
func (m *Manager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
