package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sairajesh711/mafia-room-core/internal/game"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

// Command type discriminators, matching the wire protocol's client->server
// event names.
const (
	CmdRoomCreate    = "room.create"
	CmdRoomJoin      = "room.join"
	CmdSessionResume = "session.resume"
	CmdActionSubmit  = "action.submit"
	CmdVoteCast      = "vote.cast"
	CmdHostAction    = "host.action"
	CmdChatMessage   = "chat.message"

	// Internal commands the phase scheduler dispatches through the same
	// per-room serialization path as player commands.
	CmdSchedulerResolveNight  = "scheduler.resolve_night"
	CmdSchedulerResolveVoting = "scheduler.resolve_voting"
	CmdSchedulerAdvancePhase  = "scheduler.advance_phase"

	// Transport-originated bookkeeping: socket loss/regain flows through
	// the same serialized commit path as everything else.
	CmdConnectionChanged = "system.connection_changed"
)

type roomCreatePayload struct {
	HostName string `json:"hostName"`
}

type roomJoinPayload struct {
	RoomCode   string `json:"roomCode"`
	PlayerName string `json:"playerName"`
	SessionID  string `json:"sessionId,omitempty"`
}

type actionSubmitPayload struct {
	ActionID string `json:"actionId"`
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
}

type voteCastPayloadIn struct {
	ActionID string `json:"actionId"`
	TargetID string `json:"targetId"`
}

type hostActionPayload struct {
	Action   string `json:"action"`
	TargetID string `json:"targetId,omitempty"`
}

type chatMessagePayloadIn struct {
	MessageID string `json:"messageId"`
	Channel   string `json:"channel"`
	Content   string `json:"content"`
}

type connectionChangedPayloadIn struct {
	PlayerID  string `json:"playerId"`
	Connected bool   `json:"connected"`
}

func acceptedResult(commandID string) *types.CommandResult {
	return &types.CommandResult{CommandID: commandID, Status: "accepted"}
}

func rejectedResult(commandID, reason string) *types.CommandResult {
	return &types.CommandResult{CommandID: commandID, Status: "rejected", Reason: reason}
}

// HandleCommand is the pure command-to-event translation. It assumes
// the caller already ran the command through the policy gate. Besides
// malformed payloads it rejects only unknown command or host-action types,
// a nudge naming an unseated player, and a start that role assignment
// refuses (fewer than 3 seated players).
func HandleCommand(s State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	switch cmd.Type {
	case CmdRoomCreate:
		return handleRoomCreate(s, cmd)
	case CmdRoomJoin:
		return handleRoomJoin(s, cmd)
	case CmdSessionResume:
		return nil, acceptedResult(cmd.CommandID), nil
	case CmdActionSubmit:
		return handleActionSubmit(s, cmd)
	case CmdVoteCast:
		return handleVoteCast(s, cmd)
	case CmdHostAction:
		return handleHostAction(s, cmd)
	case CmdChatMessage:
		return handleChatMessage(s, cmd)
	case CmdSchedulerResolveNight:
		return ResolveNight(s), acceptedResult(cmd.CommandID), nil
	case CmdSchedulerResolveVoting:
		return ResolveVoting(s), acceptedResult(cmd.CommandID), nil
	case CmdSchedulerAdvancePhase:
		return AdvancePhase(s, time.Now().UnixMilli()), acceptedResult(cmd.CommandID), nil
	case CmdConnectionChanged:
		return handleConnectionChanged(s, cmd)
	default:
		return nil, rejectedResult(cmd.CommandID, "unknown command type"), fmt.Errorf("engine: unknown command type %q", cmd.Type)
	}
}

func handleRoomCreate(s State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	var p roomCreatePayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, rejectedResult(cmd.CommandID, "malformed room.create payload"), err
	}
	hostID := cmd.ActorPlayerID
	if hostID == "" {
		hostID = uuid.NewString()
	}
	roomID := cmd.RoomID
	if roomID == "" {
		roomID = uuid.NewString()
	}
	code, err := generateRoomCode()
	if err != nil {
		return nil, rejectedResult(cmd.CommandID, "failed to generate room code"), err
	}

	events := []types.Event{
		newEvent(roomID, hostID, cmd.CommandID, EventRoomCreated, roomCreatedPayload{
			RoomID:   roomID,
			Code:     code,
			HostID:   hostID,
			Settings: DefaultSettings(),
		}),
		newEvent(roomID, hostID, cmd.CommandID, EventPlayerJoined, playerJoinedPayload{
			PlayerID: hostID,
			Name:     p.HostName,
		}),
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func handleRoomJoin(s State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	var p roomJoinPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, rejectedResult(cmd.CommandID, "malformed room.join payload"), err
	}
	playerID := cmd.ActorPlayerID
	if playerID == "" {
		playerID = uuid.NewString()
	}
	events := []types.Event{
		newEvent(s.RoomID, playerID, cmd.CommandID, EventPlayerJoined, playerJoinedPayload{
			PlayerID: playerID,
			Name:     p.PlayerName,
		}),
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func handleActionSubmit(s State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	var p actionSubmitPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, rejectedResult(cmd.CommandID, "malformed action.submit payload"), err
	}
	priority := game.ActionType(p.Type).Priority()
	action := NightAction{
		ID:            uuid.NewString(),
		ActionID:      p.ActionID,
		PlayerID:      cmd.ActorPlayerID,
		Type:          p.Type,
		TargetID:      p.TargetID,
		SubmittedAtMs: nowOrEventClock(),
		Priority:      priority,
	}
	events := []types.Event{
		newEvent(s.RoomID, cmd.ActorPlayerID, cmd.CommandID, EventNightActionSubmitted, nightActionSubmittedPayload{Action: action}),
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func handleVoteCast(s State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	var p voteCastPayloadIn
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, rejectedResult(cmd.CommandID, "malformed vote.cast payload"), err
	}
	vote := Vote{
		ID:            uuid.NewString(),
		ActionID:      p.ActionID,
		PlayerID:      cmd.ActorPlayerID,
		TargetID:      p.TargetID,
		Abstain:       p.TargetID == "",
		SubmittedAtMs: nowOrEventClock(),
	}
	events := []types.Event{
		newEvent(s.RoomID, cmd.ActorPlayerID, cmd.CommandID, EventVoteCast, voteCastPayload{Vote: vote}),
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func handleHostAction(s State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	var p hostActionPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, rejectedResult(cmd.CommandID, "malformed host.action payload"), err
	}
	switch p.Action {
	case "kick":
		return []types.Event{
			newEvent(s.RoomID, cmd.ActorPlayerID, cmd.CommandID, EventPlayerKicked, playerKickedPayload{PlayerID: p.TargetID}),
		}, acceptedResult(cmd.CommandID), nil
	case "start":
		return handleStartGame(s, cmd)
	case "nudge":
		if _, ok := s.Players[p.TargetID]; !ok {
			return nil, rejectedResult(cmd.CommandID, "unknown nudge target"), fmt.Errorf("engine: nudge target %q not seated", p.TargetID)
		}
		return []types.Event{
			newEvent(s.RoomID, cmd.ActorPlayerID, cmd.CommandID, EventPlayerNudged, playerNudgedPayload{PlayerID: p.TargetID}),
		}, acceptedResult(cmd.CommandID), nil
	case "mute":
		// No state effect; muting only matters to chat delivery, which is
		// out of engine scope.
		return nil, acceptedResult(cmd.CommandID), nil
	default:
		return nil, rejectedResult(cmd.CommandID, "unknown host action"), fmt.Errorf("engine: unknown host action %q", p.Action)
	}
}

func handleStartGame(s State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	assignments, err := game.AssignRoles(s.PlayerOrder)
	if err != nil {
		return nil, rejectedResult(cmd.CommandID, err.Error()), err
	}
	payloadAssignments := make([]roleAssignment, len(assignments))
	for i, a := range assignments {
		payloadAssignments[i] = roleAssignment{PlayerID: a.PlayerID, RoleID: a.RoleID, Alignment: string(a.Alignment)}
	}
	now := nowOrEventClock()
	timer := &Timer{Phase: PhaseNight, StartedAt: now, EndsAt: now + s.Settings.NightDurationMs}
	events := []types.Event{
		newEvent(s.RoomID, cmd.ActorPlayerID, cmd.CommandID, EventRolesAssigned, rolesAssignedPayload{Assignments: payloadAssignments}),
		newEvent(s.RoomID, cmd.ActorPlayerID, cmd.CommandID, EventPhaseAdvanced, phaseAdvancedPayload{Phase: PhaseNight, Timer: timer}),
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func handleChatMessage(s State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	var p chatMessagePayloadIn
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, rejectedResult(cmd.CommandID, "malformed chat.message payload"), err
	}
	// Impermissible chat is dropped silently: accepted, no event.
	if len(p.Content) > 1000 || !chatPermitted(s, cmd.ActorPlayerID, p.Channel) {
		return nil, acceptedResult(cmd.CommandID), nil
	}
	events := []types.Event{
		newEvent(s.RoomID, cmd.ActorPlayerID, cmd.CommandID, EventChatMessage, chatMessagePayload{
			MessageID: p.MessageID,
			Channel:   p.Channel,
			Content:   p.Content,
		}),
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func handleConnectionChanged(s State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	var p connectionChangedPayloadIn
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, rejectedResult(cmd.CommandID, "malformed connection change payload"), err
	}
	if _, ok := s.Players[p.PlayerID]; !ok {
		// The player may have been kicked since; nothing to record.
		return nil, acceptedResult(cmd.CommandID), nil
	}
	events := []types.Event{
		newEvent(s.RoomID, cmd.ActorPlayerID, cmd.CommandID, EventPlayerConnectionChanged, connectionChangedPayload{
			PlayerID:  p.PlayerID,
			Connected: p.Connected,
		}),
	}
	return events, acceptedResult(cmd.CommandID), nil
}

// chatPermitted decides whether a seated player may speak on a channel:
// the lobby is open to everyone, day chat to the alive, the dead channel
// to the dead, and the mafia night channel to alive roles whose chat
// config grants it.
func chatPermitted(s State, playerID, channel string) bool {
	p, ok := s.Players[playerID]
	if !ok {
		return false
	}
	role, hasRole := game.GetRole(p.RoleID)
	if hasRole && !role.Chat.CanSpeak {
		return false
	}
	switch channel {
	case "lobby":
		return true
	case "day":
		return p.Status == StatusAlive
	case "dead":
		return p.Status == StatusDead
	case "nightMafia":
		return p.Status == StatusAlive && hasRole && role.Chat.NightMafia
	default:
		return false
	}
}

// GenerateRoomCode draws one random 6-character code from the room-code
// alphabet. Callers that need to retry on a store collision call this
// again for a fresh candidate.
func GenerateRoomCode() (string, error) {
	return generateRoomCode()
}

func generateRoomCode() (string, error) {
	const length = 6
	out := make([]byte, length)
	for i := range out {
		idx, err := game.RandIndex(len(RoomCodeAlphabet))
		if err != nil {
			return "", err
		}
		out[i] = RoomCodeAlphabet[idx]
	}
	return string(out), nil
}

// nowOrEventClock returns the wall clock in ms. It is its own named seam so
// tests can stub submission timestamps deterministically.
var clockNowMs = func() int64 { return time.Now().UnixMilli() }

func nowOrEventClock() int64 { return clockNowMs() }
