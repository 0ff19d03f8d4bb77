// Package scheduler implements the phase scheduler (component K): one
// coordinator goroutine per owned room that wakes on the sooner of the
// phase timer expiring or a completion predicate becoming true, then
// resolves the phase and advances it.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
	"github.com/sairajesh711/mafia-room-core/internal/game"
	"github.com/sairajesh711/mafia-room-core/internal/observability"
	"github.com/sairajesh711/mafia-room-core/internal/room"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

const pollInterval = 250 * time.Millisecond

// Coordinator drives one room's phase machine forward. Run returns on its
// own once the room's phase is ended; losing leadership does not stop it:
// while this instance does not lead the room it polls instead of arming
// the phase timer.
type Coordinator struct {
	roomID  string
	actor   *room.RoomActor
	logger  *zap.Logger
	metrics *observability.Metrics
	poke    chan struct{}
}

func NewCoordinator(roomID string, actor *room.RoomActor, logger *zap.Logger, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		roomID:  roomID,
		actor:   actor,
		logger:  logger,
		metrics: metrics,
		poke:    make(chan struct{}, 1),
	}
}

// Poke asks the coordinator to re-check its completion predicate without
// waiting for the timer — called by the dispatcher after every commit
// that might satisfy it.
func (c *Coordinator) Poke() {
	select {
	case c.poke <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled or the room reaches `ended`.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		state := c.actor.GetState()
		if state.Phase == engine.PhaseEnded {
			return
		}

		// Lobby has no timer and no completion predicate; park until a
		// commit pokes us (host.action start is one such commit) rather
		// than exiting, or no coordinator would exist when the game begins.
		if state.Phase == engine.PhaseLobby {
			select {
			case <-ctx.Done():
				return
			case <-c.poke:
			case <-time.After(time.Second):
			}
			continue
		}

		// Only the leaseholder may drive phase transitions; a
		// non-leader instance still runs this loop (it may become leader
		// at any moment) but parks on a short poll instead of waiting on
		// the timer, so it notices a handoff quickly.
		if !c.actor.IsLeader() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
				continue
			}
		}

		var wait time.Duration
		if state.Timer != nil {
			wait = time.Until(time.UnixMilli(state.Timer.EndsAt))
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = pollInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.wake(ctx, "timer")
		case <-c.poke:
			timer.Stop()
			// The poke fires after the commit that may have completed the
			// phase; judge the predicate on the fresh post-commit state,
			// not this iteration's earlier snapshot.
			if completionMet(c.actor.GetState()) {
				c.wake(ctx, "predicate")
			}
		}
	}
}

// completionMet evaluates the per-phase early-completion predicates.
func completionMet(s engine.State) bool {
	switch s.Phase {
	case engine.PhaseNight:
		for _, p := range s.Players {
			if p.Status != engine.StatusAlive {
				continue
			}
			if p.RoleID != game.RoleMafia && p.RoleID != game.RoleDetective {
				continue
			}
			if !hasSubmitted(s, p.ID) {
				return false
			}
		}
		return true
	case engine.PhaseDayVoting:
		for _, p := range s.Players {
			if p.Status != engine.StatusAlive {
				continue
			}
			if !hasVoted(s, p.ID) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func hasSubmitted(s engine.State, playerID string) bool {
	for _, a := range s.NightActions {
		if a.PlayerID == playerID {
			return true
		}
	}
	return false
}

func hasVoted(s engine.State, playerID string) bool {
	for _, v := range s.Votes {
		if v.PlayerID == playerID {
			return true
		}
	}
	return false
}

// wake runs the relevant resolution for the current phase, then advances
// it, dispatching both as internal commands through the same path every
// player command takes so commits stay serialized per room.
func (c *Coordinator) wake(ctx context.Context, cause string) {
	c.metrics.SchedulerWakeTotal.WithLabelValues(cause).Inc()
	state := c.actor.GetState()

	var resolveType string
	switch state.Phase {
	case engine.PhaseNight:
		resolveType = engine.CmdSchedulerResolveNight
	case engine.PhaseDayVoting:
		resolveType = engine.CmdSchedulerResolveVoting
	}
	if resolveType != "" {
		resp := c.actor.Dispatch(types.CommandEnvelope{RoomID: c.roomID, Type: resolveType, ActorPlayerID: "system"})
		if resp.Err != nil {
			c.logger.Error("scheduler resolution failed", zap.String("room_id", c.roomID), zap.Error(resp.Err))
		}
	}
	resp := c.actor.Dispatch(types.CommandEnvelope{RoomID: c.roomID, Type: engine.CmdSchedulerAdvancePhase, ActorPlayerID: "system"})
	if resp.Err != nil {
		c.logger.Error("scheduler phase advance failed", zap.String("room_id", c.roomID), zap.Error(resp.Err))
	}
}
