package service

import (
	"context"
	"time"

	"VirtualDocGateway/internal/cache"
	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/internal/events"
	"VirtualDocGateway/internal/identifier"
	"VirtualDocGateway/internal/repository"
	"VirtualDocGateway/pkg/errors"
	"VirtualDocGateway/pkg/logger"
	"VirtualDocGateway/pkg/metrics"
)

// TenantResolver разрешает тенант-контекст для subject, выполняя bootstrap
// при первом контакте
type TenantResolver interface {
	Resolve(ctx context.Context, subject string) (*domain.User, bool, error)
}

// Gateway оркестрирует виртуальные таблицы Users и Tenants:
// отображение идентификаторов -> контроль доступа -> запись в бэкенд
// Это единственный слой, который решает, ретраить ли ошибку: ретраится
// только Conflict, один раз, через повторное чтение и повторную валидацию
type Gateway struct {
	store     repository.DocumentStore
	cache     cache.TenantCache
	resolver  TenantResolver
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    logger.Logger
}

// NewGateway создает новый экземпляр Gateway
func NewGateway(
	store repository.DocumentStore,
	tenantCache cache.TenantCache,
	resolver TenantResolver,
	publisher events.Publisher,
	m *metrics.Metrics,
	log logger.Logger,
) *Gateway {
	if tenantCache == nil {
		tenantCache = cache.NewNoop()
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Gateway{
		store:     store,
		cache:     tenantCache,
		resolver:  resolver,
		publisher: publisher,
		metrics:   m,
		logger:    log.Named("gateway"),
	}
}

// ResolveTenantContext возвращает тенант-контекст для claims
// Порядок: подсказка из токена -> кэш -> bootstrap; bootstrap — единственный
// санкционированный путь разрешения отсутствующего контекста
func (g *Gateway) ResolveTenantContext(ctx context.Context, claims domain.Claims) (string, error) {
	if claims.TenantHint != "" {
		if kind, _, err := identifier.ParseInternalID(claims.TenantHint); err != nil || kind != domain.DocTypeTenant {
			return "", errors.New(errors.ErrMalformedID, "tenant hint is not a tenant id").
				WithDetails(claims.TenantHint)
		}
		return claims.TenantHint, nil
	}

	if tenantID, ok := g.cache.Get(ctx, claims.Subject); ok {
		g.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return tenantID, nil
	}
	g.metrics.CacheLookups.WithLabelValues("miss").Inc()

	user, bootstrapped, err := g.resolver.Resolve(ctx, claims.Subject)
	if err != nil {
		return "", err
	}
	if bootstrapped {
		g.metrics.BootstrapCount.Inc()
		g.logger.Info("resolved tenant context via bootstrap",
			logger.String("user_id", user.ID),
			logger.String("tenant_id", user.ActiveTenantID))
	}

	g.cache.Set(ctx, claims.Subject, user.ActiveTenantID)
	return user.ActiveTenantID, nil
}

// Changes возвращает видимые запрашивающему записи ленты изменений с seq > since
// Записи идут в порядке возрастания seq; курсор продвигается до последнего
// прочитанного seq независимо от видимости, чтобы лента не застревала
func (g *Gateway) Changes(ctx context.Context, claims domain.Claims, collection string, since int64) (*ChangesPage, error) {
	started := time.Now()
	ctx, span := g.metrics.StartSpan(ctx, collection, "changes")
	defer span.End()

	page, err := g.changes(ctx, claims, collection, since)
	g.observe(collection, "changes", started, err)
	return page, err
}

func (g *Gateway) changes(ctx context.Context, claims domain.Claims, collection string, since int64) (*ChangesPage, error) {
	db, err := databaseFor(collection)
	if err != nil {
		return nil, err
	}
	requesterID := identifier.UserInternalID(claims.Subject)

	raw, err := g.store.Changes(ctx, db, since)
	if err != nil {
		return nil, err
	}

	page := &ChangesPage{Results: []domain.ChangeRecord{}, LastSeq: raw.LastSeq}
	for _, row := range raw.Results {
		visible, err := g.changeVisible(ctx, db, requesterID, row.ID)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}
		rev := ""
		if len(row.Changes) > 0 {
			rev = row.Changes[0].Rev
		}
		// Наружу уходит внешняя форма идентификатора
		externalID, err := identifier.InternalToExternal(row.ID)
		if err != nil {
			externalID = row.ID
		}
		page.Results = append(page.Results, domain.ChangeRecord{
			Seq:     row.Seq,
			DocID:   externalID,
			Deleted: row.Deleted,
			Rev:     rev,
		})
	}
	return page, nil
}

// changeVisible проверяет видимость документа из ленты для запрашивающего
// Удаленные документы не видны, как и во всех остальных операциях чтения
func (g *Gateway) changeVisible(ctx context.Context, db, requesterID, docID string) (bool, error) {
	doc, err := g.store.GetDocument(ctx, db, docID)
	if err != nil {
		if errors.IsCode(err, errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	switch db {
	case domain.UsersDB:
		user, err := repository.UserFromDoc(doc)
		if err != nil {
			return false, nil
		}
		return !user.Deleted && user.ID == requesterID, nil
	case domain.TenantsDB:
		tenant, err := repository.TenantFromDoc(doc)
		if err != nil {
			return false, nil
		}
		return !tenant.Deleted && tenant.HasMember(requesterID), nil
	}
	return false, nil
}

// ChangesPage представляет страницу ленты изменений с новым курсором
type ChangesPage struct {
	Results []domain.ChangeRecord `json:"results"`
	LastSeq int64                 `json:"last_seq"`
}

// databaseFor возвращает логическую базу для имени коллекции
func databaseFor(collection string) (string, error) {
	switch collection {
	case domain.UsersDB, domain.TenantsDB:
		return collection, nil
	default:
		return "", errors.New(errors.ErrValidation, "unknown collection").WithDetails(collection)
	}
}

// observe фиксирует метрики исхода операции
func (g *Gateway) observe(collection, operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = string(errors.CodeOf(err))
	}
	g.metrics.ObserveOperation(collection, operation, status, started)
}

// publish отправляет событие изменения; вызывается только после успешной записи
func (g *Gateway) publish(ctx context.Context, db, docID, rev string, deleted bool) {
	g.publisher.PublishChange(ctx, db, domain.ChangeRecord{
		DocID:   docID,
		Rev:     rev,
		Deleted: deleted,
	})
}
