// Package policy implements the pre-reducer legality gate (component I):
// every command is checked here before it is allowed to reach the pure
// reducers in internal/engine. A command that fails here never produces
// an event.
package policy

import (
	"encoding/json"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
	"github.com/sairajesh711/mafia-room-core/internal/game"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

type nightActionPayload struct {
	ActionID string `json:"actionId"`
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
}

type votePayload struct {
	ActionID string `json:"actionId"`
	TargetID string `json:"targetId"`
}

type hostActionPayload struct {
	Action   string `json:"action"`
	TargetID string `json:"targetId,omitempty"`
}

type joinPayload struct {
	PlayerName string `json:"playerName"`
}

type createPayload struct {
	HostName string `json:"hostName"`
}

// Check runs the full policy gate for one command against the current
// room state, returning an *types.AppError describing the violation, or
// nil if the command may proceed to the reducer.
func Check(s engine.State, cmd types.CommandEnvelope) *types.AppError {
	switch cmd.Type {
	case engine.CmdRoomCreate:
		return checkRoomCreate(cmd)
	case engine.CmdRoomJoin:
		return checkRoomJoin(s, cmd)
	case engine.CmdSessionResume:
		return nil
	case engine.CmdActionSubmit:
		return checkActionSubmit(s, cmd)
	case engine.CmdVoteCast:
		return checkVoteCast(s, cmd)
	case engine.CmdHostAction:
		return checkHostAction(s, cmd)
	case engine.CmdChatMessage:
		return nil
	case engine.CmdSchedulerResolveNight, engine.CmdSchedulerResolveVoting, engine.CmdSchedulerAdvancePhase, engine.CmdConnectionChanged:
		return nil
	default:
		return types.NewError(types.ErrUnauthorized, "unknown command type")
	}
}

func checkRoomCreate(cmd types.CommandEnvelope) *types.AppError {
	var p createPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return types.NewError(types.ErrUnauthorized, "invalid request format")
	}
	if !validName(p.HostName) {
		return types.NewError(types.ErrInvalidName, "host name must be 3-15 characters")
	}
	return nil
}

func checkRoomJoin(s engine.State, cmd types.CommandEnvelope) *types.AppError {
	var p joinPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return types.NewError(types.ErrUnauthorized, "invalid request format")
	}
	if s.Phase != engine.PhaseLobby {
		return types.NewError(types.ErrWrongPhase, "room has already started")
	}
	if len(s.Players) >= s.Settings.MaxPlayers {
		return types.NewError(types.ErrRoomFull, "room is full")
	}
	if !validName(p.PlayerName) {
		return types.NewError(types.ErrInvalidName, "player name must be 3-15 characters")
	}
	return nil
}

func checkActionSubmit(s engine.State, cmd types.CommandEnvelope) *types.AppError {
	if s.Phase != engine.PhaseNight {
		return types.NewError(types.ErrWrongPhase, "night actions are only accepted during the night phase")
	}
	actor, ok := s.Players[cmd.ActorPlayerID]
	if !ok {
		return types.NewError(types.ErrUnauthorized, "unknown player")
	}
	if actor.Status != engine.StatusAlive {
		return types.NewError(types.ErrDeadPlayer, "dead players cannot act")
	}
	var p nightActionPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return types.NewError(types.ErrUnauthorized, "invalid request format")
	}
	role, ok := game.GetRole(actor.RoleID)
	if !ok || role.Night == nil {
		return types.NewRetryableError(types.ErrInvalidTarget, "this role has no night action")
	}
	if role.Night.Type != game.ActionType(p.Type) {
		return types.NewRetryableError(types.ErrInvalidTarget, "action type does not match role")
	}
	for _, a := range s.NightActions {
		if a.PlayerID == cmd.ActorPlayerID && a.ActionID != p.ActionID {
			return types.NewError(types.ErrAlreadySubmitted, "a night action has already been submitted this phase")
		}
	}
	target, hasTarget := s.Players[p.TargetID]
	if !role.Targets.AllowSelf && p.TargetID == cmd.ActorPlayerID {
		return types.NewRetryableError(types.ErrInvalidTarget, "this role may not target itself")
	}
	if !hasTarget {
		return types.NewRetryableError(types.ErrInvalidTarget, "target does not exist")
	}
	if role.Targets.AllowAlive && target.Status != engine.StatusAlive {
		return types.NewRetryableError(types.ErrInvalidTarget, "target must be alive")
	}
	if role.Targets.Filter == game.FilterNonMafia && target.Alignment == string(game.AlignmentMafia) {
		return types.NewRetryableError(types.ErrInvalidTarget, "target must not be mafia")
	}
	return nil
}

func checkVoteCast(s engine.State, cmd types.CommandEnvelope) *types.AppError {
	if s.Phase != engine.PhaseDayVoting {
		return types.NewError(types.ErrWrongPhase, "votes are only accepted during the voting phase")
	}
	voter, ok := s.Players[cmd.ActorPlayerID]
	if !ok {
		return types.NewError(types.ErrUnauthorized, "unknown player")
	}
	if voter.Status != engine.StatusAlive {
		return types.NewError(types.ErrDeadPlayer, "dead players cannot vote")
	}
	var p votePayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return types.NewError(types.ErrUnauthorized, "invalid request format")
	}
	if p.TargetID == "" {
		return nil
	}
	target, ok := s.Players[p.TargetID]
	if !ok || target.Status != engine.StatusAlive {
		return types.NewRetryableError(types.ErrInvalidTarget, "vote target must be an alive player")
	}
	return nil
}

func checkHostAction(s engine.State, cmd types.CommandEnvelope) *types.AppError {
	if cmd.ActorPlayerID != s.HostID {
		return types.NewError(types.ErrUnauthorized, "only the host may perform this action")
	}
	var p hostActionPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return types.NewError(types.ErrUnauthorized, "invalid request format")
	}
	if p.Action == "start" {
		if s.Phase != engine.PhaseLobby {
			return types.NewError(types.ErrWrongPhase, "game has already started")
		}
		if len(s.Players) < s.Settings.MinPlayers {
			return types.NewError(types.ErrWrongPhase, "not enough players to start")
		}
	}
	return nil
}

func validName(name string) bool {
	return len(name) >= 3 && len(name) <= 15
}
