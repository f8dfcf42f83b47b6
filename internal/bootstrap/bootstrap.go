package bootstrap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/internal/identifier"
	"VirtualDocGateway/internal/repository"
	"VirtualDocGateway/pkg/errors"
	"VirtualDocGateway/pkg/logger"
)

// maxAttempts предел повторов CAS-цикла при конкурентном bootstrap
const maxAttempts = 3

// Manager материализует пользователя и его персональный тенант при первом контакте
// Переход NeedsBootstrap -> Ready идемпотентен: создание документа пользователя
// выполняется как условный create-if-absent, конфликт означает, что параллельный
// bootstrap уже отработал, и мы продолжаем с существующего документа
type Manager struct {
	store  repository.DocumentStore
	logger logger.Logger
	// newTenantID подменяется в тестах
	newTenantID func() string
}

// NewManager создает новый экземпляр Manager
func NewManager(store repository.DocumentStore, log logger.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: log.Named("bootstrap"),
		newTenantID: func() string {
			return identifier.TenantPrefix + uuid.NewString()
		},
	}
}

// Resolve возвращает пользователя для subject с заполненным activeTenantId,
// создавая документы пользователя и персонального тенанта при необходимости
// Второе возвращаемое значение сообщает, потребовался ли bootstrap
// Инвариант: два одновременных первых контакта одного subject создают ровно
// один документ пользователя и ровно один персональный тенант — тенант создает
// только тот, кто выиграл запись документа пользователя
func (m *Manager) Resolve(ctx context.Context, subject string) (*domain.User, bool, error) {
	if subject == "" {
		return nil, false, errors.New(errors.ErrValidation, "subject is required")
	}

	userID := identifier.UserInternalID(subject)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		doc, err := m.store.GetDocument(ctx, domain.UsersDB, userID)
		switch {
		case err == nil:
			user, err := repository.UserFromDoc(doc)
			if err != nil {
				return nil, false, err
			}
			return m.ensureTenant(ctx, user)
		case errors.IsCode(err, errors.ErrNotFound):
			user, err := m.createUser(ctx, subject, userID)
			if err == nil {
				return user, true, nil
			}
			if !errors.IsCode(err, errors.ErrConflict) {
				return nil, false, err
			}
			// Параллельный bootstrap успел первым: перечитываем и продолжаем
			m.logger.Debug("concurrent bootstrap detected, re-fetching user",
				logger.String("user_id", userID))
		default:
			return nil, false, err
		}
	}

	return nil, false, errors.New(errors.ErrConflict, "bootstrap did not converge").
		WithDetails(userID)
}

// createUser создает документ пользователя вместе с персональным тенантом
// Документ пользователя пишется без ревизии, то есть строго create-if-absent;
// тенант создается только после успешной записи пользователя
func (m *Manager) createUser(ctx context.Context, subject, userID string) (*domain.User, error) {
	now := time.Now().UTC()
	tenantID := m.newTenantID()

	user := &domain.User{
		ID:             userID,
		Type:           domain.DocTypeUser,
		Subject:        subject,
		ActiveTenantID: tenantID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	doc, err := repository.DocFromUser(user)
	if err != nil {
		return nil, err
	}

	rev, err := m.store.PutDocument(ctx, domain.UsersDB, userID, doc)
	if err != nil {
		return nil, err
	}
	user.Rev = rev

	if err := m.createPersonalTenant(ctx, user, tenantID); err != nil {
		return nil, err
	}

	m.logger.Info("bootstrapped new user",
		logger.String("user_id", userID),
		logger.String("tenant_id", tenantID))

	return user, nil
}

// ensureTenant доводит существующего пользователя до состояния Ready
// Установка activeTenantId защищена ревизией: проигравший гонку перечитывает
// документ и использует тенант победителя вместо создания собственного
func (m *Manager) ensureTenant(ctx context.Context, user *domain.User) (*domain.User, bool, error) {
	if user.Deleted {
		return nil, false, errors.New(errors.ErrForbidden, "user is deactivated").WithDetails(user.ID)
	}
	if user.ActiveTenantID != "" {
		repaired, err := m.repairTenant(ctx, user)
		if err != nil {
			return nil, false, err
		}
		return user, repaired, nil
	}

	tenantID := m.newTenantID()

	updated := *user
	updated.ActiveTenantID = tenantID
	updated.UpdatedAt = time.Now().UTC()

	doc, err := repository.DocFromUser(&updated)
	if err != nil {
		return nil, false, err
	}

	rev, err := m.store.PutDocument(ctx, domain.UsersDB, user.ID, doc)
	if err != nil {
		if errors.IsCode(err, errors.ErrConflict) {
			refetched, gerr := m.store.GetDocument(ctx, domain.UsersDB, user.ID)
			if gerr != nil {
				return nil, false, gerr
			}
			current, perr := repository.UserFromDoc(refetched)
			if perr != nil {
				return nil, false, perr
			}
			return m.ensureTenant(ctx, current)
		}
		return nil, false, err
	}
	updated.Rev = rev

	if err := m.createPersonalTenant(ctx, &updated, tenantID); err != nil {
		return nil, false, err
	}

	m.logger.Info("assigned personal tenant to existing user",
		logger.String("user_id", user.ID),
		logger.String("tenant_id", tenantID))

	return &updated, true, nil
}

// repairTenant проверяет, что activeTenantId разрешается в существующий тенант
// Запись пользователя могла состояться, а создание тенанта оборваться отказом
// бэкенда; пользователь не считается Ready, пока тенант не досоздан с тем же
// идентификатором
func (m *Manager) repairTenant(ctx context.Context, user *domain.User) (bool, error) {
	_, err := m.store.GetDocument(ctx, domain.TenantsDB, user.ActiveTenantID)
	if err == nil {
		return false, nil
	}
	if !errors.IsCode(err, errors.ErrNotFound) {
		return false, err
	}

	if err := m.createPersonalTenant(ctx, user, user.ActiveTenantID); err != nil {
		return false, err
	}

	m.logger.Info("repaired missing personal tenant",
		logger.String("user_id", user.ID),
		logger.String("tenant_id", user.ActiveTenantID))

	return true, nil
}

// createPersonalTenant создает персональный тенант с единственным участником-владельцем
// Конфликт записи означает, что тенант уже создан конкурентным bootstrap
func (m *Manager) createPersonalTenant(ctx context.Context, user *domain.User, tenantID string) error {
	now := time.Now().UTC()
	tenant := &domain.Tenant{
		ID:        tenantID,
		Type:      domain.DocTypeTenant,
		OwnerID:   user.ID,
		MemberIDs: []string{user.ID},
		Name:      "Personal",
		CreatedAt: now,
		UpdatedAt: now,
	}

	doc, err := repository.DocFromTenant(tenant)
	if err != nil {
		return err
	}

	if _, err := m.store.PutDocument(ctx, domain.TenantsDB, tenantID, doc); err != nil {
		if errors.IsCode(err, errors.ErrConflict) {
			return nil
		}
		return err
	}
	return nil
}
