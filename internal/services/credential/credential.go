// Package credential реализует выпуск и ротацию секретов прокси-доступа.
//
// Секрет уникален глобально, а не в пределах одного сервера: значения
// одновременно являются bearer-учётками. Коллизия при генерации
// перехватывается по уникальному ограничению хранилища и повторяется,
// молчаливое принятие дубликата исключено.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryabovmax/proxy-access-engine/internal/config"
	"github.com/ryabovmax/proxy-access-engine/internal/lib/secret"
	"github.com/ryabovmax/proxy-access-engine/internal/metrics"
	"github.com/ryabovmax/proxy-access-engine/internal/models"
	"github.com/ryabovmax/proxy-access-engine/internal/storage/repository"
)

// ErrNoCredentialsToRotate у пользователя ещё нет ни одной учётки,
// ротация невозможна. Вызывающие трактуют это как успешный no-op.
var ErrNoCredentialsToRotate = errors.New("no credentials to rotate")

// maxGenerateAttempts предел повторов генерации при коллизии секрета.
// Исчерпание фатально для запроса, но не для процесса.
const maxGenerateAttempts = 5

// CredentialRepository определяет методы хранилища учётных данных.
type CredentialRepository interface {
	FindCredential(ctx context.Context, userUID, endpointID string) (*models.ProxyCredential, error)
	ListCredentials(ctx context.Context, userUID string) ([]*models.ProxyCredential, error)
	InsertCredential(ctx context.Context, c models.ProxyCredential) (*models.ProxyCredential, error)
	RotateCredentialSecret(ctx context.Context, id int, newSecret string, rotatedAt time.Time) (*models.ProxyCredential, error)
}

// TxManager выполняет функцию в одной транзакции хранилища.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Issuer выпускает и ротирует учётные данные прокси.
type Issuer struct {
	repo CredentialRepository
	tx   TxManager
	log  *slog.Logger
}

// New создает новый Issuer.
func New(repo CredentialRepository, tx TxManager, log *slog.Logger) *Issuer {
	return &Issuer{
		repo: repo,
		tx:   tx,
		log:  log,
	}
}

// GetOrCreate возвращает учётку пользователя для сервера, создавая её
// при первом обращении. Повторные вызовы без ротации возвращают тот же секрет.
func (i *Issuer) GetOrCreate(ctx context.Context, userUID string, endpoint config.Endpoint, now time.Time) (*models.ProxyCredential, error) {
	const op = "credential.GetOrCreate"
	now = now.UTC()

	existing, err := i.repo.FindCredential(ctx, userUID, endpoint.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil {
		return existing, nil
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		value, err := secret.New()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		created, err := i.repo.InsertCredential(ctx, models.ProxyCredential{
			UserUID:    userUID,
			EndpointID: endpoint.ID,
			Secret:     value,
			IssuedAt:   now,
		})
		switch {
		case err == nil:
			metrics.CredentialsIssued.Inc()
			i.log.Info("credential issued",
				slog.String("user_uid", userUID),
				slog.String("endpoint_id", endpoint.ID))
			return created, nil
		case errors.Is(err, repository.ErrSecretTaken):
			metrics.SecretCollisions.Inc()
			i.log.Warn("secret collision, retrying generation",
				slog.String("endpoint_id", endpoint.ID))
			continue
		case errors.Is(err, repository.ErrCredentialExists):
			// Учётку успел создать конкурентный запрос, возвращаем её.
			existing, err = i.repo.FindCredential(ctx, userUID, endpoint.ID)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if existing == nil {
				return nil, fmt.Errorf("%s: credential vanished after conflict", op)
			}
			return existing, nil
		default:
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil, fmt.Errorf("%s: secret generation attempts exhausted", op)
}

// GetOrCreateAll возвращает по одной учётке на каждый сервер из endpoints,
// сохраняя переданный порядок и создавая недостающие. Сервер, добавленный
// в конфигурацию после последнего обращения, получает учётку именно здесь.
func (i *Issuer) GetOrCreateAll(ctx context.Context, userUID string, endpoints []config.Endpoint, now time.Time) ([]*models.ProxyCredential, error) {
	const op = "credential.GetOrCreateAll"

	result := make([]*models.ProxyCredential, 0, len(endpoints))
	for _, endpoint := range endpoints {
		c, err := i.GetOrCreate(ctx, userUID, endpoint, now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, c)
	}
	return result, nil
}

// RotateAll атомарно заменяет секреты всех существующих учёток пользователя.
// Прежние значения становятся недействительными немедленно, без переходного
// периода. Ротация никогда не создаёт учётки: сервер без учётки получит её
// при следующем GetOrCreateAll. Возвращает ErrNoCredentialsToRotate, если
// учёток ещё нет.
func (i *Issuer) RotateAll(ctx context.Context, userUID string, now time.Time) ([]*models.ProxyCredential, error) {
	const op = "credential.RotateAll"
	now = now.UTC()

	var rotated []*models.ProxyCredential
	err := i.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := i.repo.ListCredentials(ctx, userUID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return ErrNoCredentialsToRotate
		}

		rotated = make([]*models.ProxyCredential, 0, len(existing))
		for _, c := range existing {
			updated, err := i.rotateOne(ctx, c, now)
			if err != nil {
				return err
			}
			rotated = append(rotated, updated)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoCredentialsToRotate) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.CredentialsRotated.Add(float64(len(rotated)))
	i.log.Info("credentials rotated",
		slog.String("user_uid", userUID),
		slog.Int("count", len(rotated)))
	return rotated, nil
}

func (i *Issuer) rotateOne(ctx context.Context, c *models.ProxyCredential, now time.Time) (*models.ProxyCredential, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		value, err := secret.New()
		if err != nil {
			return nil, err
		}
		updated, err := i.repo.RotateCredentialSecret(ctx, c.ID, value, now)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, repository.ErrSecretTaken) {
			metrics.SecretCollisions.Inc()
			continue
		}
		return nil, err
	}
	return nil, errors.New("secret generation attempts exhausted")
}

// Views строит представления учёток для выдачи фронтенду в порядке
// endpoints. Учётки серверов, исключённых из конфигурации, не отображаются.
func Views(creds []*models.ProxyCredential, endpoints []config.Endpoint) []models.CredentialView {
	byEndpoint := make(map[string]*models.ProxyCredential, len(creds))
	for _, c := range creds {
		byEndpoint[c.EndpointID] = c
	}

	views := make([]models.CredentialView, 0, len(endpoints))
	for _, endpoint := range endpoints {
		c, ok := byEndpoint[endpoint.ID]
		if !ok {
			continue
		}
		views = append(views, models.CredentialView{
			Server: endpoint.Host,
			Port:   endpoint.Port,
			Secret: c.Secret,
			Link: fmt.Sprintf("tg://proxy?server=%s&port=%d&secret=%s",
				endpoint.Host, endpoint.Port, c.Secret),
		})
	}
	return views
}
