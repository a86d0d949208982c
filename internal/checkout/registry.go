package checkout

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultIdleTTL — через сколько неиспользуемая машина удаляется из реестра.
const DefaultIdleTTL = time.Hour

// Factory создаёт машину для корзины.
type Factory func(ctx context.Context, cartID string) (*Machine, error)

// Registry хранит по одной машине на корзину.
type Registry struct {
	mu       sync.Mutex
	machines map[string]*registryEntry
	factory  Factory
	ttl      time.Duration
	now      func() time.Time
}

type registryEntry struct {
	machine *Machine
	touched time.Time
}

// NewRegistry создаёт реестр. ttl <= 0 даёт DefaultIdleTTL.
func NewRegistry(factory Factory, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Registry{
		machines: make(map[string]*registryEntry),
		factory:  factory,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Machine возвращает живую машину корзины, создавая её при необходимости.
func (r *Registry) Machine(ctx context.Context, cartID string) (*Machine, error) {
	return r.get(ctx, cartID, false)
}

// Lookup возвращает машину, если она уже есть.
func (r *Registry) Lookup(cartID string) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.machines[cartID]
	if !ok {
		return nil, false
	}
	e.touched = r.now()
	return e.machine, true
}

// Begin начинает оформление. Завершённая успехом машина заменяется новой.
func (r *Registry) Begin(ctx context.Context, cartID string) (*Machine, error) {
	m, err := r.get(ctx, cartID, true)
	if err != nil {
		return nil, err
	}
	return m, m.Begin(ctx)
}

// Len возвращает число машин в реестре.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

func (r *Registry) get(ctx context.Context, cartID string, replaceFinished bool) (*Machine, error) {
	if cartID == "" {
		return nil, errors.New("cart id is required")
	}

	if m, ok := r.live(cartID, replaceFinished); ok {
		return m, nil
	}

	// Фабрика читает слот корзины (в Redis это сетевой вызов), поэтому
	// машина собирается без блокировки реестра.
	created, err := r.factory(ctx, cartID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	now := r.now()
	if e, ok := r.machines[cartID]; ok && (!replaceFinished || e.machine.State() != StateSucceeded) {
		// Параллельный запрос успел вставить свою машину.
		e.touched = now
		r.mu.Unlock()
		created.Close()
		return e.machine, nil
	}
	var replaced *Machine
	if e, ok := r.machines[cartID]; ok {
		replaced = e.machine
	}
	r.machines[cartID] = &registryEntry{machine: created, touched: now}
	r.mu.Unlock()

	if replaced != nil {
		replaced.Close()
	}
	return created, nil
}

// live возвращает подходящую машину из реестра и заодно вычищает простаивающие.
func (r *Registry) live(cartID string, replaceFinished bool) (*Machine, bool) {
	r.mu.Lock()
	now := r.now()
	expired := r.pruneLocked(now, 0)
	e, ok := r.machines[cartID]
	if ok && replaceFinished && e.machine.State() == StateSucceeded {
		ok = false
	}
	if ok {
		e.touched = now
	}
	r.mu.Unlock()

	closeAll(expired)
	if !ok {
		return nil, false
	}
	return e.machine, true
}

// DeleteExpired удаляет не более limit простаивающих на момент before машин.
// limit <= 0 снимает ограничение.
func (r *Registry) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	expired := r.pruneLocked(before, limit)
	r.mu.Unlock()

	closeAll(expired)
	return len(expired), nil
}

// pruneLocked удаляет давно не использованные машины, кроме отправляющих,
// и возвращает их для закрытия вне блокировки.
func (r *Registry) pruneLocked(now time.Time, limit int) []*Machine {
	var expired []*Machine
	for id, e := range r.machines {
		if limit > 0 && len(expired) >= limit {
			break
		}
		if now.Sub(e.touched) < r.ttl {
			continue
		}
		if e.machine.State() == StateSubmitting {
			continue
		}
		delete(r.machines, id)
		expired = append(expired, e.machine)
	}
	return expired
}

func closeAll(machines []*Machine) {
	for _, m := range machines {
		m.Close()
	}
}
