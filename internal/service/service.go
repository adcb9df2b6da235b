// Package service реализует бизнес-логику краудфандингового реестра.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akozyrev/crowdfund-system/internal/authz"
	"github.com/akozyrev/crowdfund-system/internal/model"
	"github.com/akozyrev/crowdfund-system/internal/pinning"
	"github.com/akozyrev/crowdfund-system/internal/repository"
)

// ErrValidation возвращается при некорректных входных данных; проверка
// полностью предшествует любой мутации.
var (
	ErrValidation = errors.New("validation failed")
	// ErrInvalidAmount возвращается при неположительной сумме пожертвования.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrEmptyMessage возвращается при попытке опубликовать пустое обновление.
	ErrEmptyMessage = errors.New("update message must not be empty")
	// ErrUnauthorized возвращается, если у вызывающего нет требуемой возможности.
	ErrUnauthorized = errors.New("actor lacks required capability")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateCampaign(ctx context.Context, c *model.Campaign) (int64, error)
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, filter repository.CampaignFilter) ([]model.Campaign, error)
	GetCampaignsByCreator(ctx context.Context, creator string) ([]model.Campaign, error)
	GetContributedCampaigns(ctx context.Context, contributor string) ([]model.ContributedCampaign, error)
	RecordDonation(ctx context.Context, id int64, contributor string, amountGwei int64, allowOverfunding bool) error
	ContributionOf(ctx context.Context, id int64, contributor string) (int64, error)
	ContributorsOf(ctx context.Context, id int64) ([]string, error)
	Withdraw(ctx context.Context, id int64, actor string) (int64, error)
	SoftDelete(ctx context.Context, id int64) error
	AddUpdate(ctx context.Context, id int64, actor, message string) (*model.Update, error)
	GetUpdates(ctx context.Context, id int64) ([]model.Update, error)
	GetCampaignsForPinning(ctx context.Context, limit int) ([]model.Campaign, error)
	SetMetadataCID(ctx context.Context, id int64, cid string) error
}

// Service содержит бизнес-логику краудфандингового реестра.
type Service struct {
	repo             Repository
	policy           *authz.Policy
	pinningClient    *pinning.Client
	allowOverfunding bool
	logger           *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием, политикой
// авторизации и клиентом шлюза закрепления метаданных.
func NewService(repo Repository, policy *authz.Policy, pinningClient *pinning.Client, allowOverfunding bool, logger *zap.Logger) *Service {
	if policy == nil {
		policy = authz.NewPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:             repo,
		policy:           policy,
		pinningClient:    pinningClient,
		allowOverfunding: allowOverfunding,
		logger:           logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// AllowOverfunding сообщает действующую политику перефинансирования.
func (s *Service) AllowOverfunding() bool {
	return s.allowOverfunding
}

// GweiFromEth переводит сумму в ETH в gwei.
func GweiFromEth(eth float64) int64 {
	return int64(math.Round(eth * 1e9))
}

// validEthAmount проверяет, что сумма в ETH положительна и представима в gwei
// без переполнения int64. NaN и бесконечности отвергаются.
func validEthAmount(eth float64) bool {
	gwei := math.Round(eth * 1e9)
	return gwei > 0 && gwei < math.MaxInt64
}

// EthFromGwei переводит сумму в gwei в ETH.
func EthFromGwei(gwei int64) float64 {
	return float64(gwei) / 1e9
}

// CreateCampaignInput содержит входные данные создания кампании.
type CreateCampaignInput struct {
	Title       string
	Description string
	Story       string
	Location    string
	ImageURL    string
	GoalEth     float64
	Category    int
	Deadline    time.Time
}

// CreateCampaign проверяет входные данные и сохраняет новую кампанию.
func (s *Service) CreateCampaign(ctx context.Context, creator string, in CreateCampaignInput) (int64, error) {
	if strings.TrimSpace(in.Title) == "" {
		return 0, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(in.Description) == "" {
		return 0, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if strings.TrimSpace(in.Story) == "" {
		return 0, fmt.Errorf("%w: story is required", ErrValidation)
	}
	if strings.TrimSpace(in.Location) == "" {
		return 0, fmt.Errorf("%w: location is required", ErrValidation)
	}
	if in.GoalEth <= 0 {
		return 0, fmt.Errorf("%w: goal must be positive", ErrValidation)
	}
	if !validEthAmount(in.GoalEth) {
		return 0, fmt.Errorf("%w: goal is too large", ErrValidation)
	}
	category := model.Category(in.Category)
	if !category.IsValid() {
		return 0, fmt.Errorf("%w: unknown category %d", ErrValidation, in.Category)
	}
	if !in.Deadline.After(time.Now()) {
		return 0, fmt.Errorf("%w: deadline must be in the future", ErrValidation)
	}

	c := &model.Campaign{
		Creator:     strings.ToLower(creator),
		Title:       in.Title,
		Description: in.Description,
		Story:       in.Story,
		Location:    in.Location,
		ImageURL:    in.ImageURL,
		GoalGwei:    GweiFromEth(in.GoalEth),
		Category:    category,
		Deadline:    in.Deadline,
	}

	return s.repo.CreateCampaign(ctx, c)
}

// GetCampaign возвращает кампанию по идентификатору.
func (s *Service) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.repo.GetCampaign(ctx, id)
}

// ListCampaigns возвращает кампании в порядке идентификаторов с учётом фильтров.
func (s *Service) ListCampaigns(ctx context.Context, filter repository.CampaignFilter) ([]model.Campaign, error) {
	return s.repo.ListCampaigns(ctx, filter)
}

// Donate регистрирует пожертвование contributor в кампанию id.
// Сумма сбора и накопленный взнос обновляются одной транзакцией.
func (s *Service) Donate(ctx context.Context, id int64, contributor string, amountEth float64) error {
	if !validEthAmount(amountEth) {
		return ErrInvalidAmount
	}
	return s.repo.RecordDonation(ctx, id, strings.ToLower(contributor), GweiFromEth(amountEth), s.allowOverfunding)
}

// Withdraw однократно авторизует вывод средств кампании её создателем
// и возвращает выводимую сумму в ETH.
func (s *Service) Withdraw(ctx context.Context, id int64, actor string) (float64, error) {
	raisedGwei, err := s.repo.Withdraw(ctx, id, strings.ToLower(actor))
	if err != nil {
		return 0, err
	}

	// Сам перевод средств выполняет внешняя платёжная система;
	// реестр только фиксирует однократную авторизацию.
	s.logger.Info("withdrawal authorized",
		zap.Int64("campaignID", id),
		zap.String("creator", strings.ToLower(actor)),
		zap.Float64("amountEth", EthFromGwei(raisedGwei)),
	)

	return EthFromGwei(raisedGwei), nil
}

// SoftDelete необратимо помечает кампанию неактивной.
// Требует возможности модерации у вызывающего.
func (s *Service) SoftDelete(ctx context.Context, id int64, actor string) error {
	if !s.policy.Allows(actor, authz.CapModerate) {
		return ErrUnauthorized
	}
	return s.repo.SoftDelete(ctx, id)
}

// PostUpdate публикует обновление кампании от имени её создателя.
func (s *Service) PostUpdate(ctx context.Context, id int64, actor, message string) (*model.Update, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	return s.repo.AddUpdate(ctx, id, strings.ToLower(actor), message)
}

// GetUpdates возвращает ленту новостей кампании от старых записей к новым.
func (s *Service) GetUpdates(ctx context.Context, id int64) ([]model.Update, error) {
	return s.repo.GetUpdates(ctx, id)
}

// ContributionOf возвращает накопленный взнос адреса в кампанию в ETH.
func (s *Service) ContributionOf(ctx context.Context, id int64, contributor string) (float64, error) {
	if _, err := s.repo.GetCampaign(ctx, id); err != nil {
		return 0, err
	}
	amountGwei, err := s.repo.ContributionOf(ctx, id, strings.ToLower(contributor))
	if err != nil {
		return 0, err
	}
	return EthFromGwei(amountGwei), nil
}

// ContributorsOf возвращает адреса с ненулевым взносом в кампанию.
func (s *Service) ContributorsOf(ctx context.Context, id int64) ([]string, error) {
	if _, err := s.repo.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ContributorsOf(ctx, id)
}

// Profile содержит агрегированные данные профиля пользователя:
// созданные кампании и кампании с его взносами.
type Profile struct {
	Created     []model.Campaign
	Contributed []model.ContributedCampaign
}

// GetProfile возвращает профиль указанного адреса.
func (s *Service) GetProfile(ctx context.Context, address string) (*Profile, error) {
	addr := strings.ToLower(address)

	created, err := s.repo.GetCampaignsByCreator(ctx, addr)
	if err != nil {
		return nil, err
	}

	contributed, err := s.repo.GetContributedCampaigns(ctx, addr)
	if err != nil {
		return nil, err
	}

	return &Profile{
		Created:     created,
		Contributed: contributed,
	}, nil
}

// StartPinning выполняет цикл закрепления метаданных кампаний во внешнем
// шлюзе до отмены контекста. Вызывающий сам запускает его в горутине и
// дожидается завершения при остановке сервиса.
func (s *Service) StartPinning(ctx context.Context) {
	if s.pinningClient == nil {
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processPinningBatch(ctx)
		}
	}
}

func (s *Service) processPinningBatch(ctx context.Context) {
	campaigns, err := s.repo.GetCampaignsForPinning(ctx, 100)
	if err != nil {
		s.logger.Warn("select campaigns for pinning", zap.Error(err))
		return
	}

	for _, c := range campaigns {
		cid, err := s.pinningClient.PinCampaign(ctx, pinning.CampaignMetadata{
			ID:          c.ID,
			Creator:     c.Creator,
			Title:       c.Title,
			Description: c.Description,
			Story:       c.Story,
			Location:    c.Location,
			ImageURL:    c.ImageURL,
			Category:    c.Category.String(),
			Deadline:    c.Deadline.Format(time.RFC3339),
		})
		if err != nil {
			s.logger.Warn("pin campaign metadata", zap.Int64("campaignID", c.ID), zap.Error(err))
			continue
		}

		if err := s.repo.SetMetadataCID(ctx, c.ID, cid); err != nil {
			s.logger.Warn("save metadata cid", zap.Int64("campaignID", c.ID), zap.Error(err))
		}
	}
}
