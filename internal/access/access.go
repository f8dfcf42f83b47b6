package access

import (
	"sort"

	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/pkg/errors"
)

// Неизменяемые и изменяемые поля документов.
// Ключи соответствуют JSON-представлению документа в хранилище.
var (
	userMutableFields = map[string]bool{
		"displayName":    true,
		"email":          true,
		"activeTenantId": true,
	}

	tenantMutableFields = map[string]bool{
		"name":     true,
		"metadata": true,
	}
)

// CanReadUser решает, может ли запрашивающий читать документ пользователя
// Пользователь видит только собственный документ: requesterID выводится из subject
// тем же хэшем, что и ID документа, поэтому сравнение идентификаторов эквивалентно
// сравнению subject
func CanReadUser(requesterID string, user *domain.User) bool {
	return user != nil && user.ID == requesterID
}

// CanUpdateUser решает, может ли запрашивающий обновлять документ пользователя
func CanUpdateUser(requesterID string, user *domain.User) bool {
	return user != nil && user.ID == requesterID
}

// CanDeleteUser решает, может ли запрашивающий удалить документ пользователя
// Самоудаление запрещено всегда; удаление чужого документа требует административной
// возможности, которая не входит в это ядро, поэтому тоже запрещено
func CanDeleteUser(requesterID string, user *domain.User) bool {
	return false
}

// CanReadTenant решает, может ли запрашивающий читать документ тенанта
// Читать могут только участники
func CanReadTenant(requesterID string, tenant *domain.Tenant) bool {
	return tenant != nil && tenant.HasMember(requesterID)
}

// CanUpdateTenant решает, может ли запрашивающий обновлять документ тенанта
// Обновлять может только владелец
func CanUpdateTenant(requesterID string, tenant *domain.Tenant) bool {
	return tenant != nil && tenant.OwnerID == requesterID
}

// CanDeleteTenant решает, может ли запрашивающий удалить тенант
// Удалять может только владелец, и только если тенант не является его активным
// Проверка активных тенантов остальных участников выполняется вызывающим слоем,
// потому что требует чтения их документов
func CanDeleteTenant(requesterID string, tenant *domain.Tenant, requesterActiveTenantID string) bool {
	if tenant == nil || tenant.OwnerID != requesterID {
		return false
	}
	return tenant.ID != requesterActiveTenantID
}

// ValidateUserPatch проверяет, что патч пользователя затрагивает только изменяемые поля
// При нарушении возвращает ImmutableFieldError со списком проблемных полей,
// запись отклоняется целиком
func ValidateUserPatch(patch map[string]interface{}) error {
	return validatePatch(patch, userMutableFields)
}

// ValidateTenantPatch проверяет, что патч тенанта затрагивает только изменяемые поля
func ValidateTenantPatch(patch map[string]interface{}) error {
	return validatePatch(patch, tenantMutableFields)
}

func validatePatch(patch map[string]interface{}, mutable map[string]bool) error {
	var offending []string
	for field := range patch {
		if !mutable[field] {
			offending = append(offending, field)
		}
	}
	if len(offending) == 0 {
		return nil
	}
	sort.Strings(offending)
	return errors.New(errors.ErrImmutableField, "patch touches immutable fields").
		WithFields(offending...)
}
