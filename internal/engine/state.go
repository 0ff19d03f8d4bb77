// Package engine holds the room's authoritative state, the pure reducers
// that transform it, and the command-to-event dispatch (components B and
// part of J). Nothing in this package performs I/O.
package engine

import (
	"encoding/json"

	"github.com/sairajesh711/mafia-room-core/internal/game"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

// Phase is a step in the room's finite-state machine. The six-phase model
// below is the only one implemented; see DESIGN.md's Open Question
// decisions for the rationale.
type Phase string

const (
	PhaseLobby           Phase = "lobby"
	PhaseNight           Phase = "night"
	PhaseDayAnnouncement Phase = "day_announcement"
	PhaseDayDiscussion   Phase = "day_discussion"
	PhaseDayVoting       Phase = "day_voting"
	PhaseEnded           Phase = "ended"
)

// PlayerStatus is a player's liveness/connection state.
type PlayerStatus string

const (
	StatusAlive        PlayerStatus = "alive"
	StatusDead         PlayerStatus = "dead"
	StatusDisconnected PlayerStatus = "disconnected"
)

// VotingMode selects the voting-resolution algorithm.
type VotingMode string

const (
	VotingMajority  VotingMode = "majority"
	VotingPlurality VotingMode = "plurality"
)

// VictoryCondition is the outcome recorded once a room ends.
type VictoryCondition string

const (
	VictoryNone  VictoryCondition = "none"
	VictoryMafia VictoryCondition = "mafia-victory"
	VictoryTown  VictoryCondition = "town-victory"
)

const ProtocolVersion = 1

const RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Timer bounds the current phase on the monotonic wall clock (ms).
type Timer struct {
	Phase     Phase `json:"phase"`
	StartedAt int64 `json:"startedAt"`
	EndsAt    int64 `json:"endsAt"`
}

// Settings are the room's configurable gameplay parameters.
type Settings struct {
	NightDurationMs    int64      `json:"nightDurationMs"`
	DayDurationMs      int64      `json:"dayDurationMs"`
	VoteDurationMs     int64      `json:"voteDurationMs"`
	RevealRolesOnDeath bool       `json:"revealRolesOnDeath"`
	AnonymousVoting    bool       `json:"anonymousVoting"`
	VotingMode         VotingMode `json:"votingMode"`
	MinPlayers         int        `json:"minPlayers"`
	MaxPlayers         int        `json:"maxPlayers"`
}

// DefaultSettings mirrors typical lobby defaults; rooms may override any
// field at creation time.
func DefaultSettings() Settings {
	return Settings{
		NightDurationMs: 45_000,
		DayDurationMs:   120_000,
		VoteDurationMs:  60_000,
		VotingMode:      VotingMajority,
		MinPlayers:      3,
		MaxPlayers:      15,
	}
}

// Player is one seated room member.
type Player struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	RoleID     string       `json:"roleId,omitempty"`
	Alignment  string       `json:"alignment,omitempty"`
	Status     PlayerStatus `json:"status"`
	Connected  bool         `json:"connected"`
	AFKStrikes int          `json:"afkStrikes"`
	SessionID  string       `json:"sessionId,omitempty"`
}

// NightAction is one player's submitted night move, ephemeral within a
// single night phase.
type NightAction struct {
	ID            string `json:"id"`
	ActionID      string `json:"actionId"`
	PlayerID      string `json:"playerId"`
	Type          string `json:"type"`
	TargetID      string `json:"targetId"`
	SubmittedAtMs int64  `json:"submittedAt"`
	Priority      int    `json:"priority"`
}

// Vote is one player's submitted ballot, ephemeral within a single voting
// phase. TargetID == "" with Abstain == true denotes an explicit abstain.
type Vote struct {
	ID            string `json:"id"`
	ActionID      string `json:"actionId"`
	PlayerID      string `json:"playerId"`
	TargetID      string `json:"targetId"`
	Abstain       bool   `json:"abstain"`
	SubmittedAtMs int64  `json:"submittedAt"`
}

// InvestigationResult is one detective's private finding.
type InvestigationResult struct {
	InvestigatorID string `json:"investigatorId"`
	TargetID       string `json:"targetId"`
	IsMafia        bool   `json:"isMafia"`
}

// State is the authoritative, per-room game state. All mutation happens
// through Reduce; callers must never edit a returned State's maps/slices
// in place — use Copy first.
type State struct {
	RoomID               string                 `json:"roomId"`
	Code                 string                 `json:"code"`
	HostID               string                 `json:"hostId"`
	Phase                Phase                  `json:"phase"`
	Timer                *Timer                 `json:"timer"`
	Settings             Settings               `json:"settings"`
	Players              map[string]Player      `json:"players"`
	PlayerOrder          []string               `json:"playerOrder"`
	NightActions         map[string]NightAction `json:"nightActions"`
	Votes                map[string]Vote        `json:"votes"`
	InvestigationResults []InvestigationResult  `json:"investigationResults"`
	PublicNarrative      []string               `json:"publicNarrative"`
	VictoryCondition     VictoryCondition       `json:"victoryCondition"`
	ProtocolVersion      int                    `json:"protocolVersion"`
	LastSnapshotMs       int64                  `json:"lastSnapshot"`
	LastSeq              int64                  `json:"lastSeq"`
}

// NewState creates an empty lobby-phase room.
func NewState(roomID, code, hostID string, settings Settings) State {
	return State{
		RoomID:               roomID,
		Code:                 code,
		HostID:               hostID,
		Phase:                PhaseLobby,
		Timer:                nil,
		Settings:             settings,
		Players:              make(map[string]Player),
		PlayerOrder:          nil,
		NightActions:         make(map[string]NightAction),
		Votes:                make(map[string]Vote),
		InvestigationResults: nil,
		PublicNarrative:      nil,
		VictoryCondition:     VictoryNone,
		ProtocolVersion:      ProtocolVersion,
	}
}

// Copy returns a deep copy so a snapshot handed to one goroutine (e.g. a
// subscriber's redaction pass) is never aliased with the mutable room
// state the actor continues to evolve.
func (s State) Copy() State {
	cp := s
	if s.Timer != nil {
		t := *s.Timer
		cp.Timer = &t
	}
	cp.Players = make(map[string]Player, len(s.Players))
	for k, v := range s.Players {
		cp.Players[k] = v
	}
	cp.PlayerOrder = append([]string(nil), s.PlayerOrder...)
	cp.NightActions = make(map[string]NightAction, len(s.NightActions))
	for k, v := range s.NightActions {
		cp.NightActions[k] = v
	}
	cp.Votes = make(map[string]Vote, len(s.Votes))
	for k, v := range s.Votes {
		cp.Votes[k] = v
	}
	cp.InvestigationResults = append([]InvestigationResult(nil), s.InvestigationResults...)
	cp.PublicNarrative = append([]string(nil), s.PublicNarrative...)
	return cp
}

func MarshalState(s State) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalState(raw string) (State, error) {
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return State{}, err
	}
	if s.Players == nil {
		s.Players = make(map[string]Player)
	}
	if s.NightActions == nil {
		s.NightActions = make(map[string]NightAction)
	}
	if s.Votes == nil {
		s.Votes = make(map[string]Vote)
	}
	return s, nil
}

// AliveCounts tallies alive players by alignment.
func (s State) AliveCounts() (mafia, town, neutral int) {
	for _, p := range s.Players {
		if p.Status != StatusAlive {
			continue
		}
		switch p.Alignment {
		case string(game.AlignmentMafia):
			mafia++
		case string(game.AlignmentNeutral):
			neutral++
		default:
			town++
		}
	}
	return
}

// Reduce applies one committed event to the state in place. It is the
// sole place state mutation happens outside of Copy's deep-copy seams.
func (s *State) Reduce(e types.Event) {
	switch e.EventType {
	case EventRoomCreated:
		var p roomCreatedPayload
		_ = json.Unmarshal(e.Payload, &p)
		s.RoomID = p.RoomID
		s.Code = p.Code
		s.HostID = p.HostID
		s.Phase = PhaseLobby
		s.Settings = p.Settings
		s.ProtocolVersion = ProtocolVersion
	case EventPlayerJoined:
		var p playerJoinedPayload
		_ = json.Unmarshal(e.Payload, &p)
		s.Players[p.PlayerID] = Player{
			ID:        p.PlayerID,
			Name:      p.Name,
			Status:    StatusAlive,
			Connected: true,
		}
		s.PlayerOrder = append(s.PlayerOrder, p.PlayerID)
	case EventPlayerConnectionChanged:
		var p connectionChangedPayload
		_ = json.Unmarshal(e.Payload, &p)
		if pl, ok := s.Players[p.PlayerID]; ok {
			pl.Connected = p.Connected
			if !p.Connected && pl.Status == StatusAlive {
				pl.Status = StatusDisconnected
			} else if p.Connected && pl.Status == StatusDisconnected {
				pl.Status = StatusAlive
			}
			s.Players[p.PlayerID] = pl
		}
	case EventPlayerKicked:
		var p playerKickedPayload
		_ = json.Unmarshal(e.Payload, &p)
		delete(s.Players, p.PlayerID)
		for i, id := range s.PlayerOrder {
			if id == p.PlayerID {
				s.PlayerOrder = append(s.PlayerOrder[:i], s.PlayerOrder[i+1:]...)
				break
			}
		}
	case EventRolesAssigned:
		var p rolesAssignedPayload
		_ = json.Unmarshal(e.Payload, &p)
		for _, a := range p.Assignments {
			if pl, ok := s.Players[a.PlayerID]; ok {
				pl.RoleID = a.RoleID
				pl.Alignment = a.Alignment
				s.Players[pl.ID] = pl
			}
		}
	case EventPhaseAdvanced:
		var p phaseAdvancedPayload
		_ = json.Unmarshal(e.Payload, &p)
		s.Phase = p.Phase
		s.Timer = p.Timer
		s.LastSnapshotMs = e.ServerTimestampMs
	case EventNightActionSubmitted:
		var p nightActionSubmittedPayload
		_ = json.Unmarshal(e.Payload, &p)
		s.NightActions[p.Action.ActionID] = p.Action
	case EventNightResolved:
		var p nightResolvedPayload
		_ = json.Unmarshal(e.Payload, &p)
		s.NightActions = make(map[string]NightAction)
		if p.DeadPlayerID != "" {
			if pl, ok := s.Players[p.DeadPlayerID]; ok {
				pl.Status = StatusDead
				s.Players[pl.ID] = pl
			}
		}
		s.InvestigationResults = append(s.InvestigationResults, p.NewInvestigations...)
		s.PublicNarrative = append(s.PublicNarrative, p.Narrative)
	case EventVoteCast:
		var p voteCastPayload
		_ = json.Unmarshal(e.Payload, &p)
		for actionID, v := range s.Votes {
			if v.PlayerID == p.Vote.PlayerID && actionID != p.Vote.ActionID {
				delete(s.Votes, actionID)
			}
		}
		s.Votes[p.Vote.ActionID] = p.Vote
	case EventVotingResolved:
		var p votingResolvedPayload
		_ = json.Unmarshal(e.Payload, &p)
		s.Votes = make(map[string]Vote)
		if p.LynchedPlayerID != "" {
			if pl, ok := s.Players[p.LynchedPlayerID]; ok {
				pl.Status = StatusDead
				s.Players[pl.ID] = pl
			}
		}
		s.PublicNarrative = append(s.PublicNarrative, p.Narrative)
	case EventVictoryDeclared:
		var p victoryDeclaredPayload
		_ = json.Unmarshal(e.Payload, &p)
		s.Phase = PhaseEnded
		s.Timer = nil
		s.VictoryCondition = p.Condition
	case EventPlayerNudged:
		var p playerNudgedPayload
		_ = json.Unmarshal(e.Payload, &p)
		if pl, ok := s.Players[p.PlayerID]; ok && pl.AFKStrikes < 3 {
			pl.AFKStrikes++
			s.Players[pl.ID] = pl
		}
	case EventChatMessage:
		// Chat delivery has no engine-side state effect: the
		// event exists only so subscribers can be fanned the message.
	}
	s.LastSeq = e.Seq
}
