package service

import (
	"context"
	"time"

	"VirtualDocGateway/internal/access"
	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/internal/identifier"
	"VirtualDocGateway/internal/repository"
	"VirtualDocGateway/pkg/errors"
	"VirtualDocGateway/pkg/logger"
)

// GetUser возвращает документ пользователя по внешнему идентификатору
// NotFound и Forbidden различимы: несуществующий или удаленный документ дает
// NotFound, существующий чужой — Forbidden
func (g *Gateway) GetUser(ctx context.Context, claims domain.Claims, externalID string) (*domain.User, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.UsersDB, "get")
	defer span.End()

	user, err := g.getUser(ctx, claims, externalID)
	g.observe(domain.UsersDB, "get", started, err)
	return user, err
}

func (g *Gateway) getUser(ctx context.Context, claims domain.Claims, externalID string) (*domain.User, error) {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeUser, externalID)
	if err != nil {
		return nil, err
	}

	user, err := g.fetchUser(ctx, internalID)
	if err != nil {
		return nil, err
	}

	requesterID := identifier.UserInternalID(claims.Subject)
	if !access.CanReadUser(requesterID, user) {
		return nil, errors.New(errors.ErrForbidden, "user document belongs to another subject")
	}
	return user, nil
}

// UpdateUser применяет патч к документу пользователя
// Патч с неизменяемым полем отклоняется целиком; конфликт ревизий ретраится
// один раз через повторное чтение и повторную валидацию
func (g *Gateway) UpdateUser(ctx context.Context, claims domain.Claims, externalID string, patch map[string]interface{}) (*domain.User, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.UsersDB, "update")
	defer span.End()

	user, err := g.updateUser(ctx, claims, externalID, patch, true)
	g.observe(domain.UsersDB, "update", started, err)
	return user, err
}

func (g *Gateway) updateUser(ctx context.Context, claims domain.Claims, externalID string, patch map[string]interface{}, retry bool) (*domain.User, error) {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeUser, externalID)
	if err != nil {
		return nil, err
	}

	user, err := g.fetchUser(ctx, internalID)
	if err != nil {
		return nil, err
	}

	requesterID := identifier.UserInternalID(claims.Subject)
	if !access.CanUpdateUser(requesterID, user) {
		return nil, errors.New(errors.ErrForbidden, "user document belongs to another subject")
	}
	if err := access.ValidateUserPatch(patch); err != nil {
		return nil, err
	}

	updated := *user
	if err := applyUserPatch(&updated, patch); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()

	doc, err := repository.DocFromUser(&updated)
	if err != nil {
		return nil, err
	}

	rev, err := g.store.PutDocument(ctx, domain.UsersDB, internalID, doc)
	if err != nil {
		if retry && errors.IsCode(err, errors.ErrConflict) {
			g.logger.Debug("retrying user update after revision conflict",
				logger.String("user_id", internalID))
			return g.updateUser(ctx, claims, externalID, patch, false)
		}
		return nil, err
	}
	updated.Rev = rev

	// Смена активного тенанта делает закэшированный контекст недействительным
	if _, changed := patch["activeTenantId"]; changed {
		g.cache.Invalidate(ctx, claims.Subject)
	}

	g.publish(ctx, domain.UsersDB, internalID, rev, false)
	return &updated, nil
}

// DeleteUser удаляет документ пользователя
// Самоудаление запрещено всегда; удаление чужого документа требует
// административной возможности вне этого ядра, поэтому операция всегда
// завершается Forbidden для существующих документов
func (g *Gateway) DeleteUser(ctx context.Context, claims domain.Claims, externalID string) error {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.UsersDB, "delete")
	defer span.End()

	err := g.deleteUser(ctx, claims, externalID)
	g.observe(domain.UsersDB, "delete", started, err)
	return err
}

func (g *Gateway) deleteUser(ctx context.Context, claims domain.Claims, externalID string) error {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeUser, externalID)
	if err != nil {
		return err
	}

	user, err := g.fetchUser(ctx, internalID)
	if err != nil {
		return err
	}

	requesterID := identifier.UserInternalID(claims.Subject)
	if !access.CanDeleteUser(requesterID, user) {
		if user.ID == requesterID {
			return errors.New(errors.ErrForbidden, "subject cannot delete itself")
		}
		return errors.New(errors.ErrForbidden, "user deletion requires administrative capability")
	}
	return nil
}

// fetchUser возвращает неудаленный документ пользователя
func (g *Gateway) fetchUser(ctx context.Context, internalID string) (*domain.User, error) {
	doc, err := g.store.GetDocument(ctx, domain.UsersDB, internalID)
	if err != nil {
		return nil, err
	}
	user, err := repository.UserFromDoc(doc)
	if err != nil {
		return nil, err
	}
	if user.Deleted {
		return nil, errors.New(errors.ErrNotFound, "user document is deleted").WithDetails(internalID)
	}
	return user, nil
}

// applyUserPatch переносит изменяемые поля патча в документ
// Состав полей уже проверен ValidateUserPatch
func applyUserPatch(user *domain.User, patch map[string]interface{}) error {
	for field, value := range patch {
		str, ok := value.(string)
		if !ok {
			return errors.New(errors.ErrValidation, "field value must be a string").WithFields(field)
		}
		switch field {
		case "displayName":
			user.DisplayName = str
		case "email":
			user.Email = str
		case "activeTenantId":
			if kind, _, err := identifier.ParseInternalID(str); err != nil || kind != domain.DocTypeTenant {
				return errors.New(errors.ErrMalformedID, "activeTenantId is not a tenant id").WithDetails(str)
			}
			user.ActiveTenantID = str
		}
	}
	return nil
}
