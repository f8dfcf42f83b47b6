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

// BulkOp представляет одну операцию пакетной записи
type BulkOp struct {
	// ID внешний идентификатор документа
	ID string
	// Patch изменяемые поля; игнорируется при Delete
	Patch map[string]interface{}
	// Delete пометить документ удаленным вместо обновления
	Delete bool
}

// BulkOpResult представляет результат одной операции пакетной записи
type BulkOpResult struct {
	ID  string
	OK  bool
	Rev string
	Err *errors.Error
}

// BulkWrite применяет пакет операций записи к коллекции
// Семантика best-effort: каждая операция проверяется теми же правилами, что и
// одиночная запись, отказ одной операции не откатывает остальные, результаты
// возвращаются в порядке входного массива
func (g *Gateway) BulkWrite(ctx context.Context, claims domain.Claims, collection string, ops []BulkOp) ([]BulkOpResult, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, collection, "bulk_write")
	defer span.End()

	results, err := g.bulkWrite(ctx, claims, collection, ops)
	g.observe(collection, "bulk_write", started, err)
	return results, err
}

func (g *Gateway) bulkWrite(ctx context.Context, claims domain.Claims, collection string, ops []BulkOp) ([]BulkOpResult, error) {
	db, err := databaseFor(collection)
	if err != nil {
		return nil, err
	}

	results := make([]BulkOpResult, len(ops))
	docs := []map[string]interface{}{}
	// docIndex сопоставляет позицию документа в пакете позиции операции
	docIndex := []int{}

	for i, op := range ops {
		results[i].ID = op.ID
		doc, opErr := g.prepareBulkOp(ctx, claims, db, op)
		if opErr != nil {
			results[i].Err = opErr
			continue
		}
		docs = append(docs, doc)
		docIndex = append(docIndex, i)
	}

	if len(docs) == 0 {
		return results, nil
	}

	backendResults, err := g.store.BulkDocs(ctx, db, docs)
	if err != nil {
		return nil, err
	}

	for j, br := range backendResults {
		if j >= len(docIndex) {
			break
		}
		i := docIndex[j]
		if br.Error != "" {
			code := errors.ErrInternal
			if br.Error == "conflict" {
				code = errors.ErrConflict
			}
			results[i].Err = errors.New(code, br.Reason).WithDetails(results[i].ID)
			continue
		}
		results[i].OK = true
		results[i].Rev = br.Rev
		docID, _ := docs[j]["_id"].(string)
		deleted, _ := docs[j]["deleted"].(bool)
		g.publish(ctx, db, docID, br.Rev, deleted)
	}

	g.logger.Debug("applied bulk write",
		logger.String("db", db),
		logger.Int("total", len(ops)),
		logger.Int("submitted", len(docs)))

	return results, nil
}

// prepareBulkOp проверяет одну операцию пакета правилами одиночной записи
// и строит готовый к отправке документ
func (g *Gateway) prepareBulkOp(ctx context.Context, claims domain.Claims, db string, op BulkOp) (map[string]interface{}, *errors.Error) {
	switch db {
	case domain.UsersDB:
		return g.prepareUserOp(ctx, claims, op)
	case domain.TenantsDB:
		return g.prepareTenantOp(ctx, claims, op)
	}
	return nil, errors.New(errors.ErrValidation, "unknown collection").WithDetails(db)
}

func (g *Gateway) prepareUserOp(ctx context.Context, claims domain.Claims, op BulkOp) (map[string]interface{}, *errors.Error) {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeUser, op.ID)
	if err != nil {
		return nil, asTyped(err)
	}

	user, err := g.fetchUser(ctx, internalID)
	if err != nil {
		return nil, asTyped(err)
	}

	requesterID := identifier.UserInternalID(claims.Subject)

	if op.Delete {
		if user.ID == requesterID {
			return nil, errors.New(errors.ErrForbidden, "subject cannot delete itself")
		}
		return nil, errors.New(errors.ErrForbidden, "user deletion requires administrative capability")
	}

	if !access.CanUpdateUser(requesterID, user) {
		return nil, errors.New(errors.ErrForbidden, "user document belongs to another subject")
	}
	if err := access.ValidateUserPatch(op.Patch); err != nil {
		return nil, asTyped(err)
	}

	updated := *user
	if err := applyUserPatch(&updated, op.Patch); err != nil {
		return nil, asTyped(err)
	}
	updated.UpdatedAt = time.Now().UTC()

	doc, err := repository.DocFromUser(&updated)
	if err != nil {
		return nil, asTyped(err)
	}
	return doc, nil
}

func (g *Gateway) prepareTenantOp(ctx context.Context, claims domain.Claims, op BulkOp) (map[string]interface{}, *errors.Error) {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeTenant, op.ID)
	if err != nil {
		return nil, asTyped(err)
	}

	tenant, err := g.fetchTenant(ctx, internalID)
	if err != nil {
		return nil, asTyped(err)
	}

	requesterID := identifier.UserInternalID(claims.Subject)

	if op.Delete {
		requesterActive := ""
		if requester, err := g.fetchUser(ctx, requesterID); err == nil {
			requesterActive = requester.ActiveTenantID
		}
		if !access.CanDeleteTenant(requesterID, tenant, requesterActive) {
			if tenant.OwnerID != requesterID {
				return nil, errors.New(errors.ErrForbidden, "only the owner can delete the tenant")
			}
			return nil, errors.New(errors.ErrForbidden, "tenant is the requester's active tenant")
		}
		for _, memberID := range tenant.MemberIDs {
			member, err := g.fetchUser(ctx, memberID)
			if err != nil {
				continue
			}
			if member.ActiveTenantID == tenant.ID {
				return nil, errors.New(errors.ErrConflict, "tenant is a member's active tenant").
					WithDetails(memberID)
			}
		}

		deleted := *tenant
		deleted.Deleted = true
		deleted.UpdatedAt = time.Now().UTC()
		doc, err := repository.DocFromTenant(&deleted)
		if err != nil {
			return nil, asTyped(err)
		}
		return doc, nil
	}

	if !access.CanUpdateTenant(requesterID, tenant) {
		return nil, errors.New(errors.ErrForbidden, "only the owner can update the tenant")
	}
	if err := access.ValidateTenantPatch(op.Patch); err != nil {
		return nil, asTyped(err)
	}

	updated := *tenant
	if err := applyTenantPatch(&updated, op.Patch); err != nil {
		return nil, asTyped(err)
	}
	updated.UpdatedAt = time.Now().UTC()

	doc, err := repository.DocFromTenant(&updated)
	if err != nil {
		return nil, asTyped(err)
	}
	return doc, nil
}

// asTyped приводит ошибку к типизированной форме для результата пакета
func asTyped(err error) *errors.Error {
	if typed, ok := err.(*errors.Error); ok {
		return typed
	}
	return errors.Wrap(err, errors.ErrInternal, "internal error")
}
