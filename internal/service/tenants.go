package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"VirtualDocGateway/internal/access"
	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/internal/identifier"
	"VirtualDocGateway/internal/repository"
	"VirtualDocGateway/pkg/errors"
	"VirtualDocGateway/pkg/logger"
)

// GetTenant возвращает документ тенанта по внешнему идентификатору
// Читать тенант могут только его участники
func (g *Gateway) GetTenant(ctx context.Context, claims domain.Claims, externalID string) (*domain.Tenant, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.TenantsDB, "get")
	defer span.End()

	tenant, err := g.getTenant(ctx, claims, externalID)
	g.observe(domain.TenantsDB, "get", started, err)
	return tenant, err
}

func (g *Gateway) getTenant(ctx context.Context, claims domain.Claims, externalID string) (*domain.Tenant, error) {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeTenant, externalID)
	if err != nil {
		return nil, err
	}

	tenant, err := g.fetchTenant(ctx, internalID)
	if err != nil {
		return nil, err
	}

	requesterID := identifier.UserInternalID(claims.Subject)
	if !access.CanReadTenant(requesterID, tenant) {
		return nil, errors.New(errors.ErrForbidden, "requester is not a member of the tenant")
	}
	return tenant, nil
}

// ListTenants возвращает все неудаленные тенанты, в которых состоит запрашивающий
func (g *Gateway) ListTenants(ctx context.Context, claims domain.Claims) ([]*domain.Tenant, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.TenantsDB, "list")
	defer span.End()

	tenants, err := g.listTenants(ctx, claims)
	g.observe(domain.TenantsDB, "list", started, err)
	return tenants, err
}

func (g *Gateway) listTenants(ctx context.Context, claims domain.Claims) ([]*domain.Tenant, error) {
	requesterID := identifier.UserInternalID(claims.Subject)

	docs, err := g.store.Find(ctx, domain.TenantsDB, map[string]interface{}{
		"type": string(domain.DocTypeTenant),
	})
	if err != nil {
		return nil, err
	}

	tenants := []*domain.Tenant{}
	for _, doc := range docs {
		tenant, err := repository.TenantFromDoc(doc)
		if err != nil {
			continue
		}
		if tenant.Deleted || !tenant.HasMember(requesterID) {
			continue
		}
		tenants = append(tenants, tenant)
	}
	return tenants, nil
}

// CreateTenant создает рабочий тенант: запрашивающий становится владельцем
// и единственным начальным участником
func (g *Gateway) CreateTenant(ctx context.Context, claims domain.Claims, name string, metadata map[string]interface{}) (*domain.Tenant, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.TenantsDB, "create")
	defer span.End()

	tenant, err := g.createTenant(ctx, claims, name, metadata)
	g.observe(domain.TenantsDB, "create", started, err)
	return tenant, err
}

func (g *Gateway) createTenant(ctx context.Context, claims domain.Claims, name string, metadata map[string]interface{}) (*domain.Tenant, error) {
	if name == "" {
		return nil, errors.New(errors.ErrValidation, "tenant name is required")
	}

	requesterID := identifier.UserInternalID(claims.Subject)
	now := time.Now().UTC()

	tenant := &domain.Tenant{
		ID:        identifier.TenantPrefix + uuid.NewString(),
		Type:      domain.DocTypeTenant,
		OwnerID:   requesterID,
		MemberIDs: []string{requesterID},
		Name:      name,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	doc, err := repository.DocFromTenant(tenant)
	if err != nil {
		return nil, err
	}

	rev, err := g.store.PutDocument(ctx, domain.TenantsDB, tenant.ID, doc)
	if err != nil {
		return nil, err
	}
	tenant.Rev = rev

	g.logger.Info("created workspace tenant",
		logger.String("tenant_id", tenant.ID),
		logger.String("owner_id", requesterID))

	g.publish(ctx, domain.TenantsDB, tenant.ID, rev, false)
	return tenant, nil
}

// UpdateTenant применяет патч к документу тенанта
// Обновлять может только владелец; ownerId и memberIds через общий update
// не меняются — состав участников меняют только AddMember и RemoveMember
func (g *Gateway) UpdateTenant(ctx context.Context, claims domain.Claims, externalID string, patch map[string]interface{}) (*domain.Tenant, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.TenantsDB, "update")
	defer span.End()

	tenant, err := g.updateTenant(ctx, claims, externalID, patch, true)
	g.observe(domain.TenantsDB, "update", started, err)
	return tenant, err
}

func (g *Gateway) updateTenant(ctx context.Context, claims domain.Claims, externalID string, patch map[string]interface{}, retry bool) (*domain.Tenant, error) {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeTenant, externalID)
	if err != nil {
		return nil, err
	}

	tenant, err := g.fetchTenant(ctx, internalID)
	if err != nil {
		return nil, err
	}

	requesterID := identifier.UserInternalID(claims.Subject)
	if !access.CanUpdateTenant(requesterID, tenant) {
		return nil, errors.New(errors.ErrForbidden, "only the owner can update the tenant")
	}
	if err := access.ValidateTenantPatch(patch); err != nil {
		return nil, err
	}

	updated := *tenant
	if err := applyTenantPatch(&updated, patch); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()

	doc, err := repository.DocFromTenant(&updated)
	if err != nil {
		return nil, err
	}

	rev, err := g.store.PutDocument(ctx, domain.TenantsDB, internalID, doc)
	if err != nil {
		if retry && errors.IsCode(err, errors.ErrConflict) {
			g.logger.Debug("retrying tenant update after revision conflict",
				logger.String("tenant_id", internalID))
			return g.updateTenant(ctx, claims, externalID, patch, false)
		}
		return nil, err
	}
	updated.Rev = rev

	g.publish(ctx, domain.TenantsDB, internalID, rev, false)
	return &updated, nil
}

// DeleteTenant мягко удаляет тенант
// Удалять может только владелец; тенант нельзя удалить, пока он является
// активным для любого из участников
func (g *Gateway) DeleteTenant(ctx context.Context, claims domain.Claims, externalID string) error {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.TenantsDB, "delete")
	defer span.End()

	err := g.deleteTenant(ctx, claims, externalID)
	g.observe(domain.TenantsDB, "delete", started, err)
	return err
}

func (g *Gateway) deleteTenant(ctx context.Context, claims domain.Claims, externalID string) error {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeTenant, externalID)
	if err != nil {
		return err
	}

	tenant, err := g.fetchTenant(ctx, internalID)
	if err != nil {
		return err
	}

	requesterID := identifier.UserInternalID(claims.Subject)
	requesterActive := ""
	if requester, err := g.fetchUser(ctx, requesterID); err == nil {
		requesterActive = requester.ActiveTenantID
	}

	if !access.CanDeleteTenant(requesterID, tenant, requesterActive) {
		if tenant.OwnerID != requesterID {
			return errors.New(errors.ErrForbidden, "only the owner can delete the tenant")
		}
		return errors.New(errors.ErrForbidden, "tenant is the requester's active tenant")
	}

	// Тенант не удаляется, пока остается чьим-то активным
	for _, memberID := range tenant.MemberIDs {
		member, err := g.fetchUser(ctx, memberID)
		if err != nil {
			if errors.IsCode(err, errors.ErrNotFound) {
				continue
			}
			return err
		}
		if member.ActiveTenantID == tenant.ID {
			return errors.New(errors.ErrConflict, "tenant is a member's active tenant").
				WithDetails(memberID)
		}
	}

	deleted := *tenant
	deleted.Deleted = true
	deleted.UpdatedAt = time.Now().UTC()

	doc, err := repository.DocFromTenant(&deleted)
	if err != nil {
		return err
	}

	rev, err := g.store.PutDocument(ctx, domain.TenantsDB, internalID, doc)
	if err != nil {
		return err
	}

	g.cache.Invalidate(ctx, claims.Subject)
	g.logger.Info("soft-deleted tenant",
		logger.String("tenant_id", internalID),
		logger.String("owner_id", requesterID))

	g.publish(ctx, domain.TenantsDB, internalID, rev, true)
	return nil
}

// AddMember добавляет участника в тенант
// Состав участников меняется только этой операцией и RemoveMember;
// добавлять может только владелец, memberID — внутренний идентификатор пользователя
func (g *Gateway) AddMember(ctx context.Context, claims domain.Claims, externalID, memberID string) (*domain.Tenant, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.TenantsDB, "add_member")
	defer span.End()

	tenant, err := g.addMember(ctx, claims, externalID, memberID)
	g.observe(domain.TenantsDB, "add_member", started, err)
	return tenant, err
}

func (g *Gateway) addMember(ctx context.Context, claims domain.Claims, externalID, memberID string) (*domain.Tenant, error) {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeTenant, externalID)
	if err != nil {
		return nil, err
	}
	if kind, _, err := identifier.ParseInternalID(memberID); err != nil || kind != domain.DocTypeUser {
		return nil, errors.New(errors.ErrMalformedID, "member id is not a user id").WithDetails(memberID)
	}

	tenant, err := g.fetchTenant(ctx, internalID)
	if err != nil {
		return nil, err
	}

	requesterID := identifier.UserInternalID(claims.Subject)
	if !access.CanUpdateTenant(requesterID, tenant) {
		return nil, errors.New(errors.ErrForbidden, "only the owner can manage members")
	}

	if _, err := g.fetchUser(ctx, memberID); err != nil {
		return nil, err
	}

	if tenant.HasMember(memberID) {
		return tenant, nil
	}

	updated := *tenant
	updated.MemberIDs = append(append([]string{}, tenant.MemberIDs...), memberID)
	updated.UpdatedAt = time.Now().UTC()

	return g.writeMembership(ctx, claims, &updated)
}

// RemoveMember исключает участника из тенанта
// Владельца исключить нельзя; участник с этим тенантом в activeTenantId
// исключается только после смены активного тенанта
func (g *Gateway) RemoveMember(ctx context.Context, claims domain.Claims, externalID, memberID string) (*domain.Tenant, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, domain.TenantsDB, "remove_member")
	defer span.End()

	tenant, err := g.removeMember(ctx, claims, externalID, memberID)
	g.observe(domain.TenantsDB, "remove_member", started, err)
	return tenant, err
}

func (g *Gateway) removeMember(ctx context.Context, claims domain.Claims, externalID, memberID string) (*domain.Tenant, error) {
	internalID, err := identifier.ExternalToInternal(domain.DocTypeTenant, externalID)
	if err != nil {
		return nil, err
	}

	tenant, err := g.fetchTenant(ctx, internalID)
	if err != nil {
		return nil, err
	}

	requesterID := identifier.UserInternalID(claims.Subject)
	if !access.CanUpdateTenant(requesterID, tenant) {
		return nil, errors.New(errors.ErrForbidden, "only the owner can manage members")
	}
	if memberID == tenant.OwnerID {
		return nil, errors.New(errors.ErrValidation, "owner cannot be removed from the tenant")
	}
	if !tenant.HasMember(memberID) {
		return nil, errors.New(errors.ErrNotFound, "user is not a member of the tenant").WithDetails(memberID)
	}

	if member, err := g.fetchUser(ctx, memberID); err == nil && member.ActiveTenantID == tenant.ID {
		return nil, errors.New(errors.ErrConflict, "tenant is the member's active tenant").
			WithDetails(memberID)
	}

	updated := *tenant
	updated.MemberIDs = make([]string, 0, len(tenant.MemberIDs)-1)
	for _, id := range tenant.MemberIDs {
		if id != memberID {
			updated.MemberIDs = append(updated.MemberIDs, id)
		}
	}
	updated.UpdatedAt = time.Now().UTC()

	return g.writeMembership(ctx, claims, &updated)
}

// writeMembership записывает тенант с обновленным составом участников
func (g *Gateway) writeMembership(ctx context.Context, claims domain.Claims, tenant *domain.Tenant) (*domain.Tenant, error) {
	doc, err := repository.DocFromTenant(tenant)
	if err != nil {
		return nil, err
	}

	rev, err := g.store.PutDocument(ctx, domain.TenantsDB, tenant.ID, doc)
	if err != nil {
		return nil, err
	}
	tenant.Rev = rev

	g.publish(ctx, domain.TenantsDB, tenant.ID, rev, false)
	return tenant, nil
}

// fetchTenant возвращает неудаленный документ тенанта
func (g *Gateway) fetchTenant(ctx context.Context, internalID string) (*domain.Tenant, error) {
	doc, err := g.store.GetDocument(ctx, domain.TenantsDB, internalID)
	if err != nil {
		return nil, err
	}
	tenant, err := repository.TenantFromDoc(doc)
	if err != nil {
		return nil, err
	}
	if tenant.Deleted {
		return nil, errors.New(errors.ErrNotFound, "tenant document is deleted").WithDetails(internalID)
	}
	return tenant, nil
}

// applyTenantPatch переносит изменяемые поля патча в документ
// Состав полей уже проверен ValidateTenantPatch
func applyTenantPatch(tenant *domain.Tenant, patch map[string]interface{}) error {
	for field, value := range patch {
		switch field {
		case "name":
			name, ok := value.(string)
			if !ok {
				return errors.New(errors.ErrValidation, "name must be a string").WithFields(field)
			}
			tenant.Name = name
		case "metadata":
			metadata, ok := value.(map[string]interface{})
			if !ok {
				return errors.New(errors.ErrValidation, "metadata must be an object").WithFields(field)
			}
			tenant.Metadata = metadata
		}
	}
	return nil
}
