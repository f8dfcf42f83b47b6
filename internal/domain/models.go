package domain

import (
	"time"
)

// DocType тип документа в хранилище
type DocType string

const (
	// DocTypeUser документ пользователя
	DocTypeUser DocType = "user"
	// DocTypeTenant документ тенанта
	DocTypeTenant DocType = "tenant"
)

// Имена логических баз, в которых живут коллекции
const (
	UsersDB   = "users"
	TenantsDB = "tenants"
)

// User представляет пользователя системы
// ID детерминированно выводится из subject (user_<sha256>) и никогда не переназначается
// Поля id, subject и type неизменяемы после создания
type User struct {
	ID             string    `json:"_id"`
	Rev            string    `json:"_rev,omitempty"`
	Type           DocType   `json:"type"`
	Subject        string    `json:"subject"`
	DisplayName    string    `json:"displayName,omitempty"`
	Email          string    `json:"email,omitempty"`
	ActiveTenantID string    `json:"activeTenantId,omitempty"`
	Deleted        bool      `json:"deleted,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Tenant представляет тенант (организацию или персональное пространство)
// Инвариант: OwnerID всегда входит в MemberIDs, владелец ровно один
// Поля id, type, ownerId и memberIds неизменяемы через общий update,
// состав участников меняется только выделенными операциями add/remove
type Tenant struct {
	ID        string                 `json:"_id"`
	Rev       string                 `json:"_rev,omitempty"`
	Type      DocType                `json:"type"`
	OwnerID   string                 `json:"ownerId"`
	MemberIDs []string               `json:"memberIds"`
	Name      string                 `json:"name,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Deleted   bool                   `json:"deleted,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// HasMember проверяет, входит ли пользователь в состав тенанта
func (t *Tenant) HasMember(userID string) bool {
	for _, id := range t.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Claims представляет проверенные утверждения аутентификатора
// Subject — внешняя идентичность, TenantHint — подсказка тенанта из токена (может отсутствовать)
type Claims struct {
	Subject    string `json:"subject"`
	TenantHint string `json:"tenant_hint,omitempty"`
}

// ChangeRecord представляет запись ленты изменений
// Seq строго монотонно растет в рамках логической базы и никогда не переиспользуется
type ChangeRecord struct {
	Seq     int64  `json:"seq"`
	DocID   string `json:"doc_id"`
	Deleted bool   `json:"deleted"`
	Rev     string `json:"rev,omitempty"`
}
