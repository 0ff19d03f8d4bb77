// Package room implements the command dispatcher (component J): one
// actor goroutine per room serializing all commits for that room, plus
// the manager registry that creates actors on demand and restarts them
// on panic.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
	"github.com/sairajesh711/mafia-room-core/internal/observability"
	"github.com/sairajesh711/mafia-room-core/internal/policy"
	"github.com/sairajesh711/mafia-room-core/internal/projection"
	"github.com/sairajesh711/mafia-room-core/internal/pubsub"
	"github.com/sairajesh711/mafia-room-core/internal/store"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

// leaseRenewInterval and leaseAcquireRetry drive the leader election
// protocol: renew a held lease every 3s, retry acquisition every 1s
// while not holding it.
const (
	leaseRenewInterval = 3 * time.Second
	leaseAcquireRetry  = 1 * time.Second
)

type CommandRequest struct {
	Cmd      types.CommandEnvelope
	Response chan CommandResponse
}

type CommandResponse struct {
	Result *types.CommandResult
	Err    error
}

// Subscriber is one connected socket watching this room.
type Subscriber struct {
	PlayerID string
	Send     func(types.ProjectedEvent)
}

type RoomActor struct {
	RoomID     string
	instanceID string
	ctx        context.Context
	onCrash    func(roomID string)
	subsMu     sync.RWMutex
	stateMu    sync.RWMutex
	state      engine.State
	store      *store.Store
	fanout     *pubsub.Fanout
	logger     *zap.Logger
	metrics    *observability.Metrics
	cmdCh      chan CommandRequest
	subs       map[string]*Subscriber

	snapshotEvery int64

	isLeader atomic.Bool

	onCommitMu sync.RWMutex
	onCommit   func()
}

// IsLeader reports whether this actor currently holds the write lease for
// its room. A fresh actor starts as non-leader until
// its leadership loop acquires the lease.
func (ra *RoomActor) IsLeader() bool { return ra.isLeader.Load() }

// SetOnCommit registers a callback invoked after every successful commit
// — the phase scheduler uses this to re-check its completion predicate
// without waiting for the timer.
func (ra *RoomActor) SetOnCommit(f func()) {
	ra.onCommitMu.Lock()
	defer ra.onCommitMu.Unlock()
	ra.onCommit = f
}

func (ra *RoomActor) firePoke() {
	ra.onCommitMu.RLock()
	cb := ra.onCommit
	ra.onCommitMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func NewRoomActor(loadCtx, loopCtx context.Context, roomID, instanceID string, snapshotEvery int64, st *store.Store, fanout *pubsub.Fanout, logger *zap.Logger, metrics *observability.Metrics, onCrash func(roomID string)) (*RoomActor, error) {
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	if loadCtx == nil {
		loadCtx = context.Background()
	}
	ra := &RoomActor{
		RoomID:        roomID,
		instanceID:    instanceID,
		ctx:           loopCtx,
		onCrash:       onCrash,
		store:         st,
		fanout:        fanout,
		logger:        logger,
		metrics:       metrics,
		cmdCh:         make(chan CommandRequest, 256),
		subs:          make(map[string]*Subscriber),
		snapshotEvery: snapshotEvery,
	}
	if err := ra.loadState(loadCtx); err != nil {
		return nil, err
	}
	go ra.loop(loopCtx)
	go ra.runLeadership(loopCtx)
	return ra, nil
}

// runLeadership acquires the per-room lease, renews it every 3s while
// held, and keeps retrying acquisition while it isn't. Losing a renewal
// resigns silently rather than erroring; the lease simply expires and
// another instance may acquire it.
func (ra *RoomActor) runLeadership(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if ra.isLeader.Load() {
				relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = ra.store.ReleaseLease(relCtx, ra.RoomID, ra.instanceID)
				cancel()
			}
			return
		default:
		}

		acquired, err := ra.store.AcquireLease(ctx, ra.RoomID, ra.instanceID)
		if err != nil {
			ra.logger.Warn("leader lease acquisition failed", zap.String("room_id", ra.RoomID), zap.Error(err))
		}
		if !acquired {
			select {
			case <-ctx.Done():
				return
			case <-time.After(leaseAcquireRetry):
				continue
			}
		}

		ra.isLeader.Store(true)
		ra.metrics.HeldLeaderLeases.Inc()
		ra.renewUntilLost(ctx)
		ra.isLeader.Store(false)
		ra.metrics.HeldLeaderLeases.Dec()
	}
}

// renewUntilLost renews the held lease every 3s until ctx is cancelled or
// a renewal attempt reports the lease is no longer ours.
func (ra *RoomActor) renewUntilLost(ctx context.Context) {
	ticker := time.NewTicker(leaseRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := ra.store.RenewLease(ctx, ra.RoomID, ra.instanceID)
			if err != nil {
				ra.logger.Warn("leader lease renewal errored", zap.String("room_id", ra.RoomID), zap.Error(err))
			}
			if !ok {
				return
			}
		}
	}
}

func (ra *RoomActor) loadState(ctx context.Context) error {
	ra.stateMu.Lock()
	defer ra.stateMu.Unlock()
	state, ok, err := ra.store.GetRoomState(ctx, ra.RoomID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("room: no state found for %s", ra.RoomID)
	}
	ra.state = state
	return nil
}

func (ra *RoomActor) loop(ctx context.Context) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ra.logger.Error("room actor crashed",
				zap.String("room_id", ra.RoomID),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))
			if ra.onCrash != nil {
				go ra.onCrash(ra.RoomID)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-ra.cmdCh:
			result, err, fatal := ra.executeCommand(ctx, req.Cmd)
			req.Response <- CommandResponse{Result: result, Err: err}
			if fatal {
				panic(err)
			}
		}
	}
}

func (ra *RoomActor) executeCommand(ctx context.Context, cmd types.CommandEnvelope) (result *types.CommandResult, err error, fatal bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ra.logger.Error("room actor command panic",
				zap.String("room_id", ra.RoomID),
				zap.String("command_type", cmd.Type),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("room actor panic: %v", recovered)
			fatal = true
		}
	}()
	start := time.Now()
	result, err = ra.handleCommand(ctx, cmd)
	ra.metrics.CommandLatency.WithLabelValues(cmd.Type).Observe(float64(time.Since(start).Milliseconds()))
	return result, err, false
}

// handleCommand is the heart of the dispatcher: dedup check,
// policy gate, reducer, commit, redact-and-broadcast.
func (ra *RoomActor) handleCommand(ctx context.Context, cmd types.CommandEnvelope) (*types.CommandResult, error) {
	if cmd.RoomID != ra.RoomID {
		return nil, fmt.Errorf("room mismatch: actor=%s command=%s", ra.RoomID, cmd.RoomID)
	}

	// Only the leaseholder commits writes for this room. Scheduler- and
	// transport-originated system commands run in-process on whichever
	// instance owns the relevant goroutine, so they are exempt.
	if !ra.isLeader.Load() && cmd.ActorPlayerID != "system" {
		return nil, types.NewRetryableError(types.ErrInternal, "not the leader for this room, please retry")
	}

	if cmd.IdempotencyKey != "" {
		status, response, ok, err := ra.store.Lookup(ctx, cmd.IdempotencyKey, cmd.ActorPlayerID, cmd.RoomID)
		if err != nil {
			return nil, err
		}
		if ok {
			ra.metrics.DedupHitTotal.Inc()
			switch status {
			case store.DedupProcessing:
				return nil, nil
			case store.DedupCompleted:
				var result types.CommandResult
				_ = json.Unmarshal(response, &result)
				return &result, nil
			case store.DedupFailed:
				// fall through and allow a fresh attempt
			}
		}
		if started, err := ra.store.BeginProcessing(ctx, cmd.IdempotencyKey, cmd.ActorPlayerID, cmd.RoomID); err != nil {
			return nil, err
		} else if !started && status != store.DedupFailed {
			return nil, nil
		}
	}

	currentState := ra.GetState()

	if appErr := policy.Check(currentState, cmd); appErr != nil {
		ra.metrics.CommandReject.WithLabelValues(string(appErr.Code)).Inc()
		if cmd.IdempotencyKey != "" {
			_ = ra.store.FailProcessing(ctx, cmd.IdempotencyKey, cmd.ActorPlayerID, cmd.RoomID, appErr.Error())
		}
		return nil, appErr
	}

	events, result, err := engine.HandleCommand(currentState, cmd)
	if err != nil {
		ra.metrics.CommandReject.WithLabelValues("engine").Inc()
		if cmd.IdempotencyKey != "" {
			_ = ra.store.FailProcessing(ctx, cmd.IdempotencyKey, cmd.ActorPlayerID, cmd.RoomID, err.Error())
		}
		return nil, err
	}

	nextState, err := ra.store.UpdateRoomStateSafe(ctx, ra.RoomID, func(base engine.State) (engine.State, error) {
		ns := base.Copy()
		for i := range events {
			events[i].Seq = base.LastSeq + int64(i+1)
			ns.Reduce(events[i])
		}
		return ns, nil
	})
	if err != nil {
		if cmd.IdempotencyKey != "" {
			_ = ra.store.FailProcessing(ctx, cmd.IdempotencyKey, cmd.ActorPlayerID, cmd.RoomID, err.Error())
		}
		if errors.Is(err, store.ErrWriteLoss) {
			return nil, types.WrapError(types.ErrInternal, "commit conflict after retries", err)
		}
		return nil, err
	}

	ra.stateMu.Lock()
	ra.state = nextState
	stateSnapshot := ra.state.Copy()
	ra.stateMu.Unlock()

	// Recovery trail: the capped event stream always, a full JSON
	// checkpoint when the new sequence number is a multiple of
	// snapshotEvery. Both are best-effort — the
	// authoritative state is already committed above.
	_ = ra.store.AppendEvents(ctx, ra.RoomID, events)
	if ra.snapshotEvery <= 1 || nextState.LastSeq%ra.snapshotEvery == 0 {
		_ = ra.store.SaveSnapshot(ctx, ra.RoomID, nextState)
	}

	ra.metrics.CommandTotal.WithLabelValues(cmd.Type).Inc()
	if cmd.IdempotencyKey != "" {
		rj, _ := json.Marshal(result)
		_ = ra.store.CompleteProcessing(ctx, cmd.IdempotencyKey, cmd.ActorPlayerID, cmd.RoomID, rj)
	}

	broadcastStart := time.Now()
	ra.broadcast(events, stateSnapshot)
	ra.metrics.BroadcastLatency.Observe(float64(time.Since(broadcastStart).Milliseconds()))
	if ra.fanout != nil {
		if err := ra.fanout.PublishSnapshot(ctx, ra.RoomID, stateSnapshot); err == nil {
			ra.metrics.FanoutPublishTotal.Inc()
		}
	}
	ra.firePoke()
	return result, nil
}

func (ra *RoomActor) broadcast(events []types.Event, state engine.State) {
	ra.subsMu.RLock()
	defer ra.subsMu.RUnlock()
	for _, e := range events {
		for _, sub := range ra.subs {
			viewer := types.Viewer{PlayerID: sub.PlayerID}
			for _, projected := range projection.Project(e, state, viewer) {
				sub.Send(projected)
			}
		}
	}
}

// ApplyRemoteSnapshot installs a state received from another instance via
// the cross-instance fan-out (component L), without re-running commands.
func (ra *RoomActor) ApplyRemoteSnapshot(state engine.State) {
	ra.stateMu.Lock()
	if state.LastSeq <= ra.state.LastSeq {
		ra.stateMu.Unlock()
		return
	}
	ra.state = state
	snapshot := ra.state.Copy()
	ra.stateMu.Unlock()

	ra.subsMu.RLock()
	defer ra.subsMu.RUnlock()
	for _, sub := range ra.subs {
		viewer := types.Viewer{PlayerID: sub.PlayerID}
		view := projection.ProjectedState(snapshot, viewer)
		b, _ := json.Marshal(view)
		sub.Send(types.ProjectedEvent{RoomID: snapshot.RoomID, Seq: snapshot.LastSeq, EventType: "room.snapshot", Data: b, ServerTS: time.Now().UnixMilli()})
	}
}

func (ra *RoomActor) Subscribe(id string, s *Subscriber) {
	ra.subsMu.Lock()
	defer ra.subsMu.Unlock()
	ra.subs[id] = s
}

func (ra *RoomActor) Unsubscribe(id string) {
	ra.subsMu.Lock()
	defer ra.subsMu.Unlock()
	delete(ra.subs, id)
}

func (ra *RoomActor) Dispatch(cmd types.CommandEnvelope) CommandResponse {
	ch := make(chan CommandResponse, 1)
	select {
	case ra.cmdCh <- CommandRequest{Cmd: cmd, Response: ch}:
		ra.metrics.RoomQueueLen.WithLabelValues(ra.RoomID).Set(float64(len(ra.cmdCh)))
	case <-ra.ctx.Done():
		return CommandResponse{Err: fmt.Errorf("room actor stopped")}
	}
	select {
	case resp := <-ch:
		return resp
	case <-ra.ctx.Done():
		return CommandResponse{Err: fmt.Errorf("room actor stopped")}
	}
}

func (ra *RoomActor) GetState() engine.State {
	ra.stateMu.RLock()
	defer ra.stateMu.RUnlock()
	return ra.state.Copy()
}

// RoomManager owns every room actor running in this instance and
// restarts one on crash.
type RoomManager struct {
	mu               sync.Mutex
	ctx              context.Context
	cancel           context.CancelFunc
	instanceID       string
	actors           map[string]*RoomActor
	store            *store.Store
	fanout           *pubsub.Fanout
	logger           *zap.Logger
	metrics          *observability.Metrics
	snapshotInterval int64
	onRoomCreated    func(roomID string, ra *RoomActor)
}

// SetOnRoomCreated registers a callback fired every time a room actor is
// created or recreated after a crash — the phase scheduler uses this to
// start one Coordinator per live room without this package needing to
// import the scheduler package.
func (m *RoomManager) SetOnRoomCreated(f func(roomID string, ra *RoomActor)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRoomCreated = f
}

func NewRoomManager(ctx context.Context, instanceID string, st *store.Store, fanout *pubsub.Fanout, logger *zap.Logger, metrics *observability.Metrics) *RoomManager {
	if ctx == nil {
		ctx = context.Background()
	}
	actorCtx, cancel := context.WithCancel(ctx)
	return &RoomManager{
		ctx:              actorCtx,
		cancel:           cancel,
		instanceID:       instanceID,
		actors:           make(map[string]*RoomActor),
		store:            st,
		fanout:           fanout,
		logger:           logger,
		metrics:          metrics,
		snapshotInterval: 50,
	}
}

// SetSnapshotInterval overrides the interval for full JSON checkpoints of
// a room (snapshot:room:<id>): a checkpoint is written on each commit whose
// last event sequence number is a multiple of n. A commit that adds several
// events can step over a multiple, so the count of commits between two
// checkpoints is not fixed. The capped event stream is appended on every
// commit regardless.
func (m *RoomManager) SetSnapshotInterval(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.snapshotInterval = n
	}
}

func (m *RoomManager) Close() {
	m.cancel()
}

func (m *RoomManager) GetOrCreate(ctx context.Context, roomID string) (*RoomActor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ra, ok := m.actors[roomID]; ok {
		return ra, nil
	}
	ra, err := NewRoomActor(ctx, m.ctx, roomID, m.instanceID, m.snapshotInterval, m.store, m.fanout, m.logger, m.metrics, m.handleActorCrash)
	if err != nil {
		return nil, err
	}
	m.actors[roomID] = ra
	m.metrics.ActiveRooms.Set(float64(len(m.actors)))
	if m.onRoomCreated != nil {
		m.onRoomCreated(roomID, ra)
	}
	return ra, nil
}

func (m *RoomManager) handleActorCrash(roomID string) {
	reloadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ra, err := NewRoomActor(reloadCtx, m.ctx, roomID, m.instanceID, m.snapshotInterval, m.store, m.fanout, m.logger, m.metrics, m.handleActorCrash)
	if err != nil {
		m.logger.Error("failed to restart room actor", zap.String("room_id", roomID), zap.Error(err))
		m.mu.Lock()
		delete(m.actors, roomID)
		m.metrics.ActiveRooms.Set(float64(len(m.actors)))
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.actors[roomID] = ra
	onCreated := m.onRoomCreated
	m.mu.Unlock()
	if onCreated != nil {
		onCreated(roomID, ra)
	}
	m.logger.Warn("room actor restarted", zap.String("room_id", roomID))
}

func (m *RoomManager) DispatchAsync(cmd types.CommandEnvelope) error {
	ra, err := m.GetOrCreate(context.Background(), cmd.RoomID)
	if err != nil {
		return err
	}
	resp := ra.Dispatch(cmd)
	return resp.Err
}
