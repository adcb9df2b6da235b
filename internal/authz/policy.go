// Package authz содержит явную политику авторизации сервиса краудфандинга.
//
// Политика заменяет неявный вывод ролей по побочным эффектам
// (единственный захардкоженный админ, роль «создатель» у любого,
// кто создал хоть одну кампанию) на явное отображение
// идентичности в набор возможностей.
package authz

import "strings"

// Capability описывает именованную возможность, выдаваемую идентичности.
type Capability string

const (
	// CapModerate позволяет мягко удалять любые кампании.
	CapModerate Capability = "moderate"
)

// Policy хранит выданные идентичностям возможности.
// Отношения «создатель кампании» и «жертвователь» политикой не выдаются:
// они проверяются по данным самой кампании.
type Policy struct {
	grants map[string]map[Capability]struct{}
}

// NewPolicy создаёт пустую политику.
func NewPolicy() *Policy {
	return &Policy{
		grants: make(map[string]map[Capability]struct{}),
	}
}

// Grant выдаёт идентичности указанную возможность.
// Адреса сравниваются без учёта регистра.
func (p *Policy) Grant(identity string, capability Capability) {
	key := strings.ToLower(identity)
	if key == "" {
		return
	}
	if p.grants[key] == nil {
		p.grants[key] = make(map[Capability]struct{})
	}
	p.grants[key][capability] = struct{}{}
}

// Allows сообщает, есть ли у идентичности указанная возможность.
func (p *Policy) Allows(identity string, capability Capability) bool {
	caps, ok := p.grants[strings.ToLower(identity)]
	if !ok {
		return false
	}
	_, ok = caps[capability]
	return ok
}
