package live

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"VirtualDocGateway/internal/storage"
	"VirtualDocGateway/pkg/errors"
)

// Backend представляет живую документную базу, доступную по HTTP
// Слой не хранит состояния: контроль конкурентности делегирован
// оптимистическим проверкам ревизий самой базы
type Backend struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// Config представляет конфигурацию подключения к живой базе
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// NewBackend создает бэкенд поверх живой документной базы
func NewBackend(config *Config) *Backend {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Backend{
		baseURL:  strings.TrimRight(config.URL, "/"),
		username: config.Username,
		password: config.Password,
		client:   &http.Client{Timeout: timeout},
	}
}

// Do пересылает запрос в живую базу с basic auth
// Транспортная ошибка возвращается как BackendUnavailable и никогда
// не ретраится на этом уровне; отмена контекста прерывает запрос
func (b *Backend) Do(ctx context.Context, req *storage.Request) (*storage.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	url := b.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to build backend request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if b.username != "" {
		httpReq.SetBasicAuth(b.username, b.password)
	}

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, errors.ErrBackendUnavailable,
			fmt.Sprintf("backend request %s %s failed", req.Method, req.Path))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrBackendUnavailable, "failed to read backend response")
	}

	return &storage.Response{Status: httpResp.StatusCode, Body: respBody}, nil
}
