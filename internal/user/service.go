package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/common/auth"
	"github.com/FleetRentDesk/FleetRentDesk/internal/common/config"
	"gorm.io/gorm"
)

var (
	// ErrUsernameTaken 用户名已被占用。
	ErrUsernameTaken = errors.New("user: username already exists")
	// ErrInvalidCredentials 用户名或密码不正确（不区分具体哪个错）。
	ErrInvalidCredentials = errors.New("user: invalid credentials")
)

// Service 客户账户用例层：注册 / 登录（签发 JWT）/ 查询。
type Service struct {
	repo    *Repo
	authCfg config.AuthConfig
}

func NewService(db *gorm.DB, authCfg config.AuthConfig) *Service {
	return &Service{repo: NewRepo(db), authCfg: authCfg}
}

// RegisterInput 注册入参。
type RegisterInput struct {
	Username      string
	Password      string
	FullName      string
	Phone         string
	Email         string
	DriverLicense string
	Roles         []string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, fmt.Errorf("username/password required")
	}

	if _, err := s.repo.FindByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	salt, err := GenerateSaltHex()
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password, salt)
	if err != nil {
		return nil, err
	}

	roles := in.Roles
	if len(roles) == 0 {
		roles = []string{"renter"}
	}
	u := &User{
		Username:      username,
		PasswordHash:  hash,
		PasswordSalt:  salt,
		FullName:      strings.TrimSpace(in.FullName),
		Phone:         strings.TrimSpace(in.Phone),
		Email:         strings.TrimSpace(in.Email),
		DriverLicense: strings.TrimSpace(in.DriverLicense),
		Roles:         RolesJoin(roles),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login 校验口令并签发 access token。
func (s *Service) Login(ctx context.Context, username, password string) (token string, expiresAt time.Time, u *User, err error) {
	if s == nil || s.repo == nil {
		return "", time.Time{}, nil, fmt.Errorf("service not initialized")
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	u, err = s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", time.Time{}, nil, ErrInvalidCredentials
		}
		return "", time.Time{}, nil, err
	}
	if !VerifyPassword(password, u.PasswordSalt, u.PasswordHash) {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	token, expiresAt, err = auth.GenerateAccessToken(s.authCfg, fmt.Sprintf("%d", u.ID), u.RolesSlice(), 24*time.Hour)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return token, expiresAt, u, nil
}

// List 后台账户列表（分页）。
func (s *Service) List(ctx context.Context, offset, limit int) ([]User, int64, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("service not initialized")
	}
	return s.repo.List(ctx, offset, limit)
}

func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d not found", id)
		}
		return nil, err
	}
	return u, nil
}
