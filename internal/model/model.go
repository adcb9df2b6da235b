// Package model содержит доменные сущности краудфандингового реестра.
package model

import "time"

// Category задаёт закрытый перечень категорий кампаний.
// Индекс категории хранится в БД и передаётся в API, поэтому
// существующие значения не переиспользуются: новые категории
// добавляются только в конец списка.
type Category int

const (
	CategoryCommunity Category = iota
	CategoryEducation
	CategoryHealth
	CategoryEnvironment
	CategoryTechnology
	CategoryArt
	CategoryEmergency
	CategoryOther
)

var categoryNames = [...]string{
	"Community",
	"Education",
	"Health",
	"Environment",
	"Technology",
	"Art",
	"Emergency",
	"Other",
}

// IsValid сообщает, входит ли значение в известный перечень категорий.
func (c Category) IsValid() bool {
	return c >= 0 && int(c) < len(categoryNames)
}

// String возвращает человекочитаемое имя категории.
func (c Category) String() string {
	if !c.IsValid() {
		return "Unknown"
	}
	return categoryNames[c]
}

// CategoryCount возвращает количество известных категорий.
func CategoryCount() int {
	return len(categoryNames)
}

// CampaignState описывает производное состояние кампании.
type CampaignState string

const (
	StateOpen      CampaignState = "OPEN"
	StateGoalMet   CampaignState = "GOAL_MET"
	StateEnded     CampaignState = "ENDED"
	StateWithdrawn CampaignState = "WITHDRAWN"
	StateDeleted   CampaignState = "DELETED"
)

// Campaign описывает краудфандинговую кампанию.
// Денежные поля хранятся в gwei (10^-9 ETH).
type Campaign struct {
	ID             int64
	Creator        string
	Title          string
	Description    string
	Story          string
	Location       string
	ImageURL       string
	GoalGwei       int64
	RaisedGwei     int64
	Category       Category
	Deadline       time.Time
	Active         bool
	FundsWithdrawn bool
	MetadataCID    string
	CreatedAt      time.Time
}

// IsGoalMet сообщает, достигнута ли цель кампании.
func (c *Campaign) IsGoalMet() bool {
	return c.RaisedGwei >= c.GoalGwei
}

// IsDeadlinePassed сообщает, истёк ли срок кампании на момент now.
func (c *Campaign) IsDeadlinePassed(now time.Time) bool {
	return now.After(c.Deadline)
}

// CanDonate сообщает, допустимо ли пожертвование в кампанию на момент now.
// При allowOverfunding=false кампания с уже достигнутой целью закрыта для взносов.
func (c *Campaign) CanDonate(now time.Time, allowOverfunding bool) bool {
	if !c.Active || c.IsDeadlinePassed(now) {
		return false
	}
	if !allowOverfunding && c.IsGoalMet() {
		return false
	}
	return true
}

// CanWithdraw сообщает, вправе ли actor вывести средства кампании на момент now.
func (c *Campaign) CanWithdraw(actor string, now time.Time) bool {
	return actor == c.Creator &&
		c.IsDeadlinePassed(now) &&
		c.IsGoalMet() &&
		!c.FundsWithdrawn
}

// State возвращает производное состояние кампании на момент now.
// Удаление терминально и перекрывает остальные состояния.
func (c *Campaign) State(now time.Time) CampaignState {
	switch {
	case !c.Active:
		return StateDeleted
	case c.FundsWithdrawn:
		return StateWithdrawn
	case c.IsDeadlinePassed(now):
		return StateEnded
	case c.IsGoalMet():
		return StateGoalMet
	default:
		return StateOpen
	}
}

// Contribution описывает накопленный взнос жертвователя в кампанию.
type Contribution struct {
	CampaignID  int64
	Contributor string
	AmountGwei  int64
}

// Update описывает запись в ленте новостей кампании.
type Update struct {
	ID         int64
	CampaignID int64
	Message    string
	PostedAt   time.Time
}

// ContributedCampaign объединяет кампанию и накопленный взнос пользователя
// для агрегации профиля.
type ContributedCampaign struct {
	Campaign   Campaign
	AmountGwei int64
}
