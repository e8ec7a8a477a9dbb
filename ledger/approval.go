package ledger

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-kas/auth"
)

// TransitionContext is passed into hooks
type TransitionContext struct {
	Actor         auth.ActorRef
	TransactionID uuid.UUID
	From          TransactionStatus
	To            TransactionStatus
	// Transaction is the updated row, only set for after hooks
	Transaction *Transaction
}

// TransitionHook runs inside the database transaction, an error rolls
// the status change back.
type TransitionHook func(ctx context.Context, tx bun.IDB, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// ApprovalStateMachine resolves pending transactions. Approved and
// rejected are terminal, a second resolution always fails.
type ApprovalStateMachine interface {
	Approve(ctx context.Context, actor auth.ActorRef, id uuid.UUID) (*Transaction, error)
	Reject(ctx context.Context, actor auth.ActorRef, id uuid.UUID) (*Transaction, error)
	Transition(ctx context.Context, actor auth.ActorRef, id uuid.UUID, target TransactionStatus) (*Transaction, error)
	CanTransition(from, to TransactionStatus) bool
}

// ApprovalOption customizes state machine construction.
type ApprovalOption func(*approvalMachine)

// WithApprovalClock injects a custom clock (useful for tests).
func WithApprovalClock(clock func() time.Time) ApprovalOption {
	return func(sm *approvalMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithApprovalActivitySink sets the sink used to publish approval events.
func WithApprovalActivitySink(sink auth.ActivitySink) ApprovalOption {
	return func(sm *approvalMachine) {
		sm.activitySink = auth.NormalizeActivitySink(sink)
	}
}

// WithApprovalLogger overrides the logger used for sink failures.
func WithApprovalLogger(logger auth.Logger) ApprovalOption {
	return func(sm *approvalMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the conditional update.
func WithBeforeTransitionHook(h TransitionHook) ApprovalOption {
	return func(sm *approvalMachine) {
		if h != nil {
			sm.beforeHooks = append(sm.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the update succeeded.
func WithAfterTransitionHook(h TransitionHook) ApprovalOption {
	return func(sm *approvalMachine) {
		if h != nil {
			sm.afterHooks = append(sm.afterHooks, h)
		}
	}
}

// WithHookErrorHandler overrides how hook failures are propagated.
func WithHookErrorHandler(handler HookErrorHandler) ApprovalOption {
	return func(sm *approvalMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

func NewApprovalStateMachine(repo RepositoryManager, opts ...ApprovalOption) ApprovalStateMachine {
	sm := &approvalMachine{
		repo: repo,
		transitions: map[TransactionStatus]map[TransactionStatus]struct{}{
			StatusPending: {
				StatusApproved: {},
				StatusRejected: {},
			},
		},
		now:              time.Now,
		activitySink:     auth.NormalizeActivitySink(nil),
		logger:           auth.DefaultLogger(),
		hookErrorHandler: defaultHookErrorHandler,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type approvalMachine struct {
	repo             RepositoryManager
	transitions      map[TransactionStatus]map[TransactionStatus]struct{}
	now              func() time.Time
	activitySink     auth.ActivitySink
	logger           auth.Logger
	beforeHooks      []TransitionHook
	afterHooks       []TransitionHook
	hookErrorHandler HookErrorHandler
}

func (sm *approvalMachine) Approve(ctx context.Context, actor auth.ActorRef, id uuid.UUID) (*Transaction, error) {
	return sm.Transition(ctx, actor, id, StatusApproved)
}

func (sm *approvalMachine) Reject(ctx context.Context, actor auth.ActorRef, id uuid.UUID) (*Transaction, error) {
	return sm.Transition(ctx, actor, id, StatusRejected)
}

func (sm *approvalMachine) CanTransition(from, to TransactionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// Transition runs the conditional update. When no pending row matched
// the row is read again to tell a missing id from a processed one.
func (sm *approvalMachine) Transition(ctx context.Context, actor auth.ActorRef, id uuid.UUID, target TransactionStatus) (*Transaction, error) {
	if !sm.CanTransition(StatusPending, target) {
		return nil, ErrInvalidTransition
	}

	tc := TransitionContext{
		Actor:         actor,
		TransactionID: id,
		From:          StatusPending,
		To:            target,
	}

	at := sm.now().UTC()
	actorID, _ := uuid.Parse(actor.ID)

	var updated *Transaction
	err := sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := sm.runHooks(ctx, tx, sm.beforeHooks, tc, HookPhaseBefore); err != nil {
			return err
		}

		ok, err := sm.repo.Transactions().ResolveTx(ctx, tx, id, target, actorID, at)
		if err != nil {
			return err
		}

		current, err := sm.repo.Transactions().FindTx(ctx, tx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTransactionNotFound
			}
			return err
		}

		if !ok {
			if current.Status.IsTerminal() {
				return ErrAlreadyProcessed
			}
			sm.logger.Warn("Transition matched no pending row", "id", id.String(), "status", string(current.Status))
			return ErrInvalidTransition
		}

		updated = current
		tc.Transaction = current
		return sm.runHooks(ctx, tx, sm.afterHooks, tc, HookPhaseAfter)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "transaction status update failed")
	}

	eventType := auth.ActivityEventTransactionApproved
	if target == StatusRejected {
		eventType = auth.ActivityEventTransactionRejected
	}

	auth.RecordActivity(ctx, sm.activitySink, sm.logger, sm.now, auth.ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     updated.UserID.String(),
		ObjectID:   updated.ID.String(),
		FromStatus: string(StatusPending),
		ToStatus:   string(target),
		Metadata: map[string]any{
			"amount": updated.Amount,
			"type":   string(updated.Type),
		},
	})

	return updated, nil
}

func (sm *approvalMachine) runHooks(ctx context.Context, tx bun.IDB, hooks []TransitionHook, tc TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, tx, tc); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, tc)
		}
	}
	return nil
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "transaction transition hook failed").
		WithMetadata(map[string]any{
			"phase": string(phase),
			"id":    tc.TransactionID.String(),
			"to":    string(tc.To),
		})
}
