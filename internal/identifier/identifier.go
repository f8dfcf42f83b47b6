package identifier

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/pkg/errors"
)

// Префиксы внутренних идентификаторов
const (
	UserPrefix   = "user_"
	TenantPrefix = "tenant_"
)

// userPayloadLen длина sha256 в hex-представлении
const userPayloadLen = 64

// UserInternalID возвращает внутренний идентификатор пользователя для subject
// Идентификатор детерминирован: user_<sha256(subject)>
func UserInternalID(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return UserPrefix + hex.EncodeToString(sum[:])
}

// ExternalToInternal преобразует внешний идентификатор во внутренний
// Для пользователей внешний id хэшируется, для тенантов внешний id и есть внутренний
func ExternalToInternal(kind domain.DocType, externalID string) (string, error) {
	switch kind {
	case domain.DocTypeUser:
		if externalID == "" {
			return "", errors.New(errors.ErrMalformedID, "empty external user id")
		}
		return UserInternalID(externalID), nil
	case domain.DocTypeTenant:
		if _, _, err := ParseInternalID(externalID); err != nil {
			return "", err
		}
		if !strings.HasPrefix(externalID, TenantPrefix) {
			return "", errors.New(errors.ErrMalformedID, "tenant id must carry tenant_ prefix").
				WithDetails(externalID)
		}
		return externalID, nil
	default:
		return "", errors.New(errors.ErrMalformedID, "unknown document kind").WithDetails(string(kind))
	}
}

// InternalToExternal преобразует внутренний идентификатор во внешний
// Для пользователей срезается префикс user_, для тенантов преобразование тождественно
func InternalToExternal(internalID string) (string, error) {
	kind, payload, err := ParseInternalID(internalID)
	if err != nil {
		return "", err
	}
	if kind == domain.DocTypeUser {
		return payload, nil
	}
	return internalID, nil
}

// ParseInternalID разбирает внутренний идентификатор на тип документа и полезную часть
// Возвращает MalformedIdentifier, если id не соответствует форме <prefix>_<payload>
func ParseInternalID(internalID string) (domain.DocType, string, error) {
	switch {
	case strings.HasPrefix(internalID, UserPrefix):
		payload := internalID[len(UserPrefix):]
		if len(payload) != userPayloadLen || !isHex(payload) {
			return "", "", errors.New(errors.ErrMalformedID, "user id payload must be 64 hex characters").
				WithDetails(internalID)
		}
		return domain.DocTypeUser, payload, nil
	case strings.HasPrefix(internalID, TenantPrefix):
		payload := internalID[len(TenantPrefix):]
		if payload == "" {
			return "", "", errors.New(errors.ErrMalformedID, "tenant id payload is empty").
				WithDetails(internalID)
		}
		return domain.DocTypeTenant, payload, nil
	default:
		return "", "", errors.New(errors.ErrMalformedID, "internal id must start with user_ or tenant_").
			WithDetails(internalID)
	}
}

// isHex проверяет, что строка состоит только из hex-символов
func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
