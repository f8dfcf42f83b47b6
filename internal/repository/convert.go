package repository

import (
	"encoding/json"

	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/pkg/errors"
)

// Преобразования между JSON-представлением документов в хранилище и
// закрытыми доменными типами. Закрытые типы не дают общим update-ам
// незаметно протащить изменение защищенных полей.

// UserFromDoc декодирует документ пользователя
func UserFromDoc(doc map[string]interface{}) (*domain.User, error) {
	var user domain.User
	if err := decode(doc, &user); err != nil {
		return nil, err
	}
	if user.Type != domain.DocTypeUser {
		return nil, errors.New(errors.ErrValidation, "document is not a user").WithDetails(user.ID)
	}
	return &user, nil
}

// TenantFromDoc декодирует документ тенанта
func TenantFromDoc(doc map[string]interface{}) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := decode(doc, &tenant); err != nil {
		return nil, err
	}
	if tenant.Type != domain.DocTypeTenant {
		return nil, errors.New(errors.ErrValidation, "document is not a tenant").WithDetails(tenant.ID)
	}
	return &tenant, nil
}

// DocFromUser кодирует пользователя в документ хранилища
func DocFromUser(user *domain.User) (map[string]interface{}, error) {
	return encode(user)
}

// DocFromTenant кодирует тенант в документ хранилища
func DocFromTenant(tenant *domain.Tenant) (map[string]interface{}, error) {
	return encode(tenant)
}

func decode(doc map[string]interface{}, v interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to marshal document")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to decode document")
	}
	return nil
}

func encode(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to marshal document")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to decode document")
	}
	return doc, nil
}
