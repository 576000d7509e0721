package user

import (
	"strings"
	"time"
)

// User 租车客户账户表 GORM 模型。租约通过 user_id 引用本表。
type User struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	Username      string    `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash  string    `gorm:"size:128;not null"`
	PasswordSalt  string    `gorm:"size:64;not null"`
	FullName      string    `gorm:"size:64"`
	Phone         string    `gorm:"size:32"`
	Email         string    `gorm:"size:128"`
	DriverLicense string    `gorm:"size:32"`           // 驾照号，取车时人工核验
	Roles         string    `gorm:"size:256;not null"` // 逗号分隔，例如 "renter,staff"
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (u User) RolesSlice() []string {
	if strings.TrimSpace(u.Roles) == "" {
		return nil
	}
	parts := strings.Split(u.Roles, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func RolesJoin(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return strings.Join(out, ",")
}
