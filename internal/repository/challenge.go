package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v2"
	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
	"golang.org/x/exp/slices"
	"gorm.io/gorm"
)

// ChallengeRepository is the single shared mutable resource of the engine.
// The poller and the claim orchestrator write to it, the reconciliation
// engine reads from it. The in-memory snapshot is replaced atomically; a
// gorm mirror of the last snapshot allows a warm start.
type ChallengeRepository interface {
	// SetChallenges replaces the snapshot and returns the previous one.
	// The returned slice is nil when no snapshot was observed before.
	SetChallenges(ctx context.Context, userID string, challenges []entity.UserChallenge) ([]entity.UserChallenge, error)
	SetUndisbursed(ctx context.Context, userID string, rows []entity.UndisbursedUserChallenge)
	GetAll(ctx context.Context, userID string) []entity.UserChallenge
	GetByID(ctx context.Context, userID string, id entity.ChallengeID) (*entity.UserChallenge, error)
	Undisbursed(ctx context.Context, userID string) []entity.UndisbursedUserChallenge

	SetOverride(ctx context.Context, userID string, override entity.ChallengeOverride)
	ClearOverrideField(ctx context.Context, userID string, id entity.ChallengeID, field entity.OverrideField)
	Override(ctx context.Context, userID string, id entity.ChallengeID) (entity.ChallengeOverride, bool)

	MarkDisbursed(ctx context.Context, userID string, id entity.ChallengeID, specifiers []string) error
	MarkNotified(ctx context.Context, userID string, id entity.ChallengeID, specifier string) bool
	WaitComplete(ctx context.Context, userID string, id entity.ChallengeID) <-chan struct{}
	LoadSnapshot(ctx context.Context, userID string) error

	RegisterSession(ctx context.Context, userID, handle string)
	ActiveUsers(ctx context.Context) []string
	Handle(ctx context.Context, userID string) string
	SetForeground(ctx context.Context, userID string, foreground bool)
	SetRewardsScreen(ctx context.Context, userID string, active bool)
	UIState(ctx context.Context, userID string) (foreground, rewardsScreen bool)
}

var ErrChallengeNotFound = gorm.ErrRecordNotFound

type userState struct {
	mutex sync.RWMutex

	handle      string
	challenges  []entity.UserChallenge
	undisbursed []entity.UndisbursedUserChallenge
	overrides   map[entity.ChallengeID]entity.ChallengeOverride

	// Specifiers disbursed by a local claim, keyed challengeID|specifier.
	// Re-applied on fetch so a stale poll that started before the claim
	// cannot clobber the disbursement.
	localDisbursed map[string]struct{}

	// Disbursements already celebrated this session.
	notified map[string]struct{}

	completeWaiters map[entity.ChallengeID][]chan struct{}

	foreground    bool
	rewardsScreen bool
}

func newUserState(handle string) *userState {
	return &userState{
		handle:          handle,
		overrides:       map[entity.ChallengeID]entity.ChallengeOverride{},
		localDisbursed:  map[string]struct{}{},
		notified:        map[string]struct{}{},
		completeWaiters: map[entity.ChallengeID][]chan struct{}{},
		foreground:      true,
	}
}

type challengeRepository struct {
	users *xsync.MapOf[string, *userState]
}

func NewChallengeRepository() *challengeRepository {
	return &challengeRepository{users: xsync.NewMapOf[*userState]()}
}

func (r *challengeRepository) state(userID string) *userState {
	state, _ := r.users.LoadOrCompute(userID, func() *userState {
		return newUserState("")
	})

	return state
}

func disbursedKey(id entity.ChallengeID, specifier string) string {
	return fmt.Sprintf("%s|%s", id, specifier)
}

func (r *challengeRepository) SetChallenges(
	ctx context.Context, userID string, challenges []entity.UserChallenge,
) ([]entity.UserChallenge, error) {
	state := r.state(userID)

	state.mutex.Lock()
	previous := state.challenges

	next := make([]entity.UserChallenge, len(challenges))
	copy(next, challenges)

	for i := range next {
		key := disbursedKey(next[i].ChallengeID, next[i].Specifier)
		if next[i].IsDisbursed {
			// The server caught up with a local disbursement, the stamp is
			// no longer needed.
			delete(state.localDisbursed, key)
		} else if _, ok := state.localDisbursed[key]; ok {
			next[i].IsDisbursed = true
		}
	}

	state.challenges = next

	for _, c := range next {
		if c.IsComplete {
			for _, waiter := range state.completeWaiters[c.ChallengeID] {
				close(waiter)
			}
			delete(state.completeWaiters, c.ChallengeID)
		}
	}
	state.mutex.Unlock()

	if err := r.persistSnapshot(ctx, userID, next); err != nil {
		return nil, err
	}

	return previous, nil
}

func (r *challengeRepository) persistSnapshot(
	ctx context.Context, userID string, challenges []entity.UserChallenge,
) error {
	db := xcontext.DB(ctx)
	if err := db.Unscoped().
		Where("user_id = ?", userID).
		Delete(&entity.UserChallenge{}).Error; err != nil {
		return err
	}

	if len(challenges) == 0 {
		return nil
	}

	rows := make([]entity.UserChallenge, len(challenges))
	copy(rows, challenges)
	for i := range rows {
		rows[i].UserID = userID
		rows[i].ID = fmt.Sprintf("%s:%s:%s", userID, rows[i].ChallengeID, rows[i].Specifier)
	}

	return db.Create(&rows).Error
}

// LoadSnapshot restores the last persisted snapshot into memory. It is a
// no-op when a fetch already populated the in-memory state.
func (r *challengeRepository) LoadSnapshot(ctx context.Context, userID string) error {
	state := r.state(userID)

	state.mutex.Lock()
	defer state.mutex.Unlock()

	if state.challenges != nil {
		return nil
	}

	var rows []entity.UserChallenge
	err := xcontext.DB(ctx).
		Where("user_id = ?", userID).
		Find(&rows).Error
	if err != nil {
		return err
	}

	if len(rows) > 0 {
		state.challenges = rows
	}

	return nil
}

func (r *challengeRepository) SetUndisbursed(
	ctx context.Context, userID string, rows []entity.UndisbursedUserChallenge,
) {
	state := r.state(userID)

	filtered := make([]entity.UndisbursedUserChallenge, 0, len(rows))

	state.mutex.Lock()
	defer state.mutex.Unlock()

	for _, row := range rows {
		if _, ok := state.localDisbursed[disbursedKey(row.ChallengeID, row.Specifier)]; ok {
			continue
		}
		filtered = append(filtered, row)
	}

	state.undisbursed = filtered
}

func (r *challengeRepository) GetAll(ctx context.Context, userID string) []entity.UserChallenge {
	state := r.state(userID)

	state.mutex.RLock()
	defer state.mutex.RUnlock()

	result := make([]entity.UserChallenge, len(state.challenges))
	copy(result, state.challenges)
	return result
}

func (r *challengeRepository) GetByID(
	ctx context.Context, userID string, id entity.ChallengeID,
) (*entity.UserChallenge, error) {
	state := r.state(userID)

	state.mutex.RLock()
	defer state.mutex.RUnlock()

	for _, c := range state.challenges {
		if c.ChallengeID == id {
			challenge := c
			return &challenge, nil
		}
	}

	return nil, ErrChallengeNotFound
}

func (r *challengeRepository) Undisbursed(
	ctx context.Context, userID string,
) []entity.UndisbursedUserChallenge {
	state := r.state(userID)

	state.mutex.RLock()
	defer state.mutex.RUnlock()

	result := make([]entity.UndisbursedUserChallenge, len(state.undisbursed))
	copy(result, state.undisbursed)
	return result
}

func (r *challengeRepository) SetOverride(
	ctx context.Context, userID string, override entity.ChallengeOverride,
) {
	state := r.state(userID)

	state.mutex.Lock()
	defer state.mutex.Unlock()

	state.overrides[override.ChallengeID] = state.overrides[override.ChallengeID].Merge(override)
}

func (r *challengeRepository) ClearOverrideField(
	ctx context.Context, userID string, id entity.ChallengeID, field entity.OverrideField,
) {
	state := r.state(userID)

	state.mutex.Lock()
	defer state.mutex.Unlock()

	override, ok := state.overrides[id]
	if !ok {
		return
	}

	switch field {
	case entity.OverrideStepCount:
		override.CurrentStepCount = nil
	case entity.OverrideDisbursed:
		override.IsDisbursed = nil
	}

	if override.IsZero() {
		delete(state.overrides, id)
	} else {
		state.overrides[id] = override
	}
}

func (r *challengeRepository) Override(
	ctx context.Context, userID string, id entity.ChallengeID,
) (entity.ChallengeOverride, bool) {
	state := r.state(userID)

	state.mutex.RLock()
	defer state.mutex.RUnlock()

	override, ok := state.overrides[id]
	return override, ok
}

// MarkDisbursed stamps the given specifiers as disbursed after a successful
// claim. The stamp is kept until the server independently reports the
// disbursement, so a fetch that raced with the claim cannot undo it.
func (r *challengeRepository) MarkDisbursed(
	ctx context.Context, userID string, id entity.ChallengeID, specifiers []string,
) error {
	state := r.state(userID)

	state.mutex.Lock()
	defer state.mutex.Unlock()

	for _, specifier := range specifiers {
		key := disbursedKey(id, specifier)
		state.localDisbursed[key] = struct{}{}

		// Disbursements triggered locally must not be re-celebrated by the
		// poller when the server catches up.
		state.notified[key] = struct{}{}
	}

	for i := range state.challenges {
		if state.challenges[i].ChallengeID != id {
			continue
		}

		if len(specifiers) == 0 || slices.Contains(specifiers, state.challenges[i].Specifier) {
			state.challenges[i].IsDisbursed = true
		}
	}

	remaining := state.undisbursed[:0]
	for _, row := range state.undisbursed {
		if row.ChallengeID == id && slices.Contains(specifiers, row.Specifier) {
			continue
		}
		remaining = append(remaining, row)
	}
	state.undisbursed = remaining

	return nil
}

// MarkNotified returns true exactly once per disbursement of the session.
func (r *challengeRepository) MarkNotified(
	ctx context.Context, userID string, id entity.ChallengeID, specifier string,
) bool {
	state := r.state(userID)

	state.mutex.Lock()
	defer state.mutex.Unlock()

	key := disbursedKey(id, specifier)
	if _, ok := state.notified[key]; ok {
		return false
	}

	state.notified[key] = struct{}{}
	return true
}

// WaitComplete returns a channel closed once the store observes the
// challenge complete. The channel is already closed if it is complete now.
func (r *challengeRepository) WaitComplete(
	ctx context.Context, userID string, id entity.ChallengeID,
) <-chan struct{} {
	state := r.state(userID)

	state.mutex.Lock()
	defer state.mutex.Unlock()

	ch := make(chan struct{})
	for _, c := range state.challenges {
		if c.ChallengeID == id && c.IsComplete {
			close(ch)
			return ch
		}
	}

	state.completeWaiters[id] = append(state.completeWaiters[id], ch)

	// A waiter whose claim is cancelled would otherwise linger until the
	// challenge completes.
	go func() {
		select {
		case <-ch:
		case <-ctx.Done():
			r.removeWaiter(state, id, ch)
		}
	}()

	return ch
}

func (r *challengeRepository) removeWaiter(state *userState, id entity.ChallengeID, ch chan struct{}) {
	state.mutex.Lock()
	defer state.mutex.Unlock()

	waiters := state.completeWaiters[id]
	for i, waiter := range waiters {
		if waiter == ch {
			state.completeWaiters[id] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}

	if len(state.completeWaiters[id]) == 0 {
		delete(state.completeWaiters, id)
	}
}

func (r *challengeRepository) RegisterSession(ctx context.Context, userID, handle string) {
	state := r.state(userID)

	state.mutex.Lock()
	defer state.mutex.Unlock()

	if handle != "" {
		state.handle = handle
	}
}

func (r *challengeRepository) ActiveUsers(ctx context.Context) []string {
	var users []string
	r.users.Range(func(userID string, _ *userState) bool {
		users = append(users, userID)
		return true
	})

	return users
}

func (r *challengeRepository) Handle(ctx context.Context, userID string) string {
	state := r.state(userID)

	state.mutex.RLock()
	defer state.mutex.RUnlock()

	return state.handle
}

func (r *challengeRepository) SetForeground(ctx context.Context, userID string, foreground bool) {
	state := r.state(userID)

	state.mutex.Lock()
	defer state.mutex.Unlock()

	state.foreground = foreground
}

func (r *challengeRepository) SetRewardsScreen(ctx context.Context, userID string, active bool) {
	state := r.state(userID)

	state.mutex.Lock()
	defer state.mutex.Unlock()

	state.rewardsScreen = active
}

func (r *challengeRepository) UIState(ctx context.Context, userID string) (bool, bool) {
	state := r.state(userID)

	state.mutex.RLock()
	defer state.mutex.RUnlock()

	return state.foreground, state.rewardsScreen
}
