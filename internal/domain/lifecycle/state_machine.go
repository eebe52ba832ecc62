// Пакет lifecycle — конечный автомат состояния хранилищ Paperstore.
//
// Жизненный цикл: initializing → ready → closed.
// Хранилища (blob store, каталог) создаются явно в main и передаются
// в workflow'ы через конструкторы; автомат фиксирует момент, с которого
// хранилища готовы обслуживать запросы. До ready HTTP-запросы к
// workflow'ам получают 503.
//
// Потокобезопасен через sync.RWMutex.
package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние хранилищ сервиса.
type State string

const (
	// StateInitializing — хранилища создаются (миграции, построение индекса)
	StateInitializing State = "initializing"
	// StateReady — хранилища готовы, запросы обслуживаются
	StateReady State = "ready"
	// StateClosed — хранилища закрыты, новые запросы не принимаются
	StateClosed State = "closed"
)

// TransitionRecord — запись о переходе между состояниями.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions — матрица допустимых переходов.
// Ключ — текущее состояние, значение — набор допустимых целевых.
var validTransitions = map[State]map[State]bool{
	StateInitializing: {StateReady: true, StateClosed: true},
	StateReady:        {StateClosed: true},
	StateClosed:       {}, // Конечное состояние
}

// StateMachine — конечный автомат жизненного цикла хранилищ.
// Потокобезопасен для одновременного чтения/записи.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	history []TransitionRecord
}

// New создаёт конечный автомат в состоянии initializing.
func New() *StateMachine {
	return &StateMachine{
		current: StateInitializing,
		history: make([]TransitionRecord, 0),
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanServe возвращает true, если хранилища готовы обслуживать запросы.
func (sm *StateMachine) CanServe() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current == StateReady
}

// TransitionTo выполняет переход в указанное состояние.
// Возвращает TransitionError при недопустимом переходе.
func (sm *StateMachine) TransitionTo(target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !isValidState(target) {
		return &TransitionError{
			Message: fmt.Sprintf("недопустимое целевое состояние: %q", target),
		}
	}

	transitions, ok := validTransitions[sm.current]
	if !ok || !transitions[target] {
		return &TransitionError{
			Message: fmt.Sprintf("переход %s → %s недопустим", sm.current, target),
		}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Timestamp: time.Now().UTC(),
	})
	sm.current = target

	return nil
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitionError — ошибка перехода между состояниями.
type TransitionError struct {
	Message string
}

func (e *TransitionError) Error() string {
	return e.Message
}

// isValidState проверяет, является ли значение допустимым состоянием.
func isValidState(s State) bool {
	switch s {
	case StateInitializing, StateReady, StateClosed:
		return true
	default:
		return false
	}
}
