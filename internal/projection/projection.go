// Package projection builds the per-player redacted view of a room
// (component C): both the event-level projection applied as committed
// events are fanned out to subscribers, and the full-state view sent on
// snapshot/resync. Internal event types never cross the wire directly —
// Project maps each one onto the client-facing event vocabulary and
// strips everything the viewer must not see.
package projection

import (
	"encoding/json"
	"fmt"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
	"github.com/sairajesh711/mafia-room-core/internal/game"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

// Wire mirrors of the engine's event payloads. The engine keeps its
// payload structs unexported; the JSON field names are the contract.
type nightResolvedWire struct {
	DeadPlayerID      string                       `json:"deadPlayerId,omitempty"`
	Narrative         string                       `json:"narrative"`
	NewInvestigations []engine.InvestigationResult `json:"newInvestigations,omitempty"`
}

type votingResolvedWire struct {
	LynchedPlayerID string `json:"lynchedPlayerId,omitempty"`
	Narrative       string `json:"narrative"`
}

type phaseAdvancedWire struct {
	Phase engine.Phase  `json:"phase"`
	Timer *engine.Timer `json:"timer"`
}

type voteCastWire struct {
	Vote engine.Vote `json:"vote"`
}

type connectionChangedWire struct {
	PlayerID  string `json:"playerId"`
	Connected bool   `json:"connected"`
}

type chatMessageWire struct {
	MessageID string `json:"messageId"`
	Channel   string `json:"channel"`
	Content   string `json:"content"`
}

// Project converts one committed event into the frames viewer should
// receive, already redacted. It returns nil when the event must not be
// delivered to this viewer at all.
func Project(event types.Event, state engine.State, viewer types.Viewer) []types.ProjectedEvent {
	switch event.EventType {
	case engine.EventRoomCreated, engine.EventPlayerJoined, engine.EventPlayerKicked,
		engine.EventRolesAssigned, engine.EventVictoryDeclared:
		// Membership and role changes re-project the whole room: each
		// subscriber gets a fresh snapshot built for their own eyes
		// rather than a shared delta that would need per-field redaction.
		return []types.ProjectedEvent{frame(event, "room.snapshot", ProjectedState(state, viewer))}

	case engine.EventPhaseAdvanced:
		var p phaseAdvancedWire
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil
		}
		return []types.ProjectedEvent{frame(event, "phase.change", map[string]any{
			"phase": p.Phase,
			"timer": p.Timer,
			"night": p.Phase == engine.PhaseNight,
		})}

	case engine.EventNightActionSubmitted:
		// A locked night action is visible to its submitter alone, and
		// they already receive the direct action.ack; nothing to fan out.
		return nil

	case engine.EventNightResolved:
		var p nightResolvedWire
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil
		}
		public := map[string]any{"narrative": p.Narrative}
		if p.DeadPlayerID != "" {
			public["death"] = p.DeadPlayerID
		}
		out := []types.ProjectedEvent{frame(event, "night.publicResult", public)}
		for _, r := range p.NewInvestigations {
			if r.InvestigatorID == viewer.PlayerID {
				out = append(out, frame(event, "detective.result", map[string]any{"result": r}))
			}
		}
		return out

	case engine.EventVoteCast:
		var p voteCastWire
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil
		}
		data := map[string]any{"playerId": p.Vote.PlayerID}
		if !state.Settings.AnonymousVoting {
			data["targetId"] = p.Vote.TargetID
			data["tallies"] = voteTallies(state)
		}
		return []types.ProjectedEvent{frame(event, "vote.update", data)}

	case engine.EventVotingResolved:
		var p votingResolvedWire
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil
		}
		return []types.ProjectedEvent{frame(event, "lynch.result", map[string]any{
			"targetId":  p.LynchedPlayerID,
			"narrative": p.Narrative,
		})}

	case engine.EventPlayerConnectionChanged:
		var p connectionChangedWire
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil
		}
		pl, ok := state.Players[p.PlayerID]
		if !ok {
			return nil
		}
		return []types.ProjectedEvent{frame(event, "player.status", map[string]any{
			"playerId":  p.PlayerID,
			"connected": p.Connected,
			"alive":     pl.Status != engine.StatusDead,
		})}

	case engine.EventChatMessage:
		var p chatMessageWire
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil
		}
		if !chatVisible(p.Channel, state, viewer) {
			return nil
		}
		return []types.ProjectedEvent{frame(event, "chat.message", map[string]any{
			"messageId": p.MessageID,
			"channel":   p.Channel,
			"content":   p.Content,
			"playerId":  event.ActorPlayerID,
		})}
	}
	return nil
}

// chatVisible gates delivery of a chat channel to one viewer: the mafia
// night channel reaches only mafia, the dead channel only the dead, and
// day/lobby reach everyone.
func chatVisible(channel string, state engine.State, viewer types.Viewer) bool {
	p, seated := state.Players[viewer.PlayerID]
	switch channel {
	case "nightMafia":
		return seated && p.Alignment == string(game.AlignmentMafia)
	case "dead":
		return seated && p.Status == engine.StatusDead
	default:
		return true
	}
}

// voteTallies counts the current live ballots per alive candidate, using
// each voter's role weight.
func voteTallies(state engine.State) map[string]int {
	tallies := make(map[string]int)
	for _, v := range state.Votes {
		if v.Abstain || v.TargetID == "" {
			continue
		}
		target, ok := state.Players[v.TargetID]
		if !ok || target.Status != engine.StatusAlive {
			continue
		}
		weight := 1
		if voter, ok := state.Players[v.PlayerID]; ok {
			if r, ok := game.GetRole(voter.RoleID); ok && r.Voting.Weight > 0 {
				weight = r.Voting.Weight
			}
		}
		tallies[v.TargetID] += weight
	}
	return tallies
}

func frame(event types.Event, wireType string, data any) types.ProjectedEvent {
	b, _ := json.Marshal(data)
	return types.ProjectedEvent{
		RoomID:        event.RoomID,
		Seq:           event.Seq,
		EventType:     wireType,
		ActorPlayerID: event.ActorPlayerID,
		Data:          b,
		ServerTS:      event.ServerTimestampMs,
	}
}

// PlayerView is one entry of View.Players — the per-player public facts
// every viewer sees, plus a conditionally-present roleId.
type PlayerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	RoleID    string `json:"roleId,omitempty"`
}

// SelfRole is the viewer's own private role information.
type SelfRole struct {
	RoleID    string   `json:"roleId"`
	Alignment string   `json:"alignment"`
	Teammates []string `json:"teammates,omitempty"`
}

// VoteView is one ballot, as shown back to clients while votes are visible.
type VoteView struct {
	PlayerID string `json:"playerId"`
	TargetID string `json:"targetId,omitempty"`
}

// LockedAction tells the viewer which night action they've already locked
// in, without revealing anyone else's.
type LockedAction struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
}

// View is the complete per-player redacted projection of a room.
type View struct {
	RoomID               string                       `json:"roomId"`
	Code                 string                       `json:"code"`
	Phase                engine.Phase                 `json:"phase"`
	Timer                *engine.Timer                `json:"timer"`
	Settings             engine.Settings              `json:"settings"`
	HostID               string                       `json:"hostId"`
	IsHost               bool                         `json:"isHost"`
	PublicNarrative      []string                     `json:"publicNarrative"`
	VictoryCondition     engine.VictoryCondition      `json:"victoryCondition"`
	ProtocolVersion      int                          `json:"protocolVersion"`
	Players              map[string]PlayerView        `json:"players"`
	SelfRole             *SelfRole                    `json:"selfRole,omitempty"`
	Votes                []VoteView                   `json:"votes,omitempty"`
	InvestigationResults []engine.InvestigationResult `json:"investigationResults,omitempty"`
	LockedAction         *LockedAction                `json:"lockedAction,omitempty"`
}

// ProjectedState builds the full redacted view for one viewer, then
// runs the redaction safety check before returning it.
func ProjectedState(state engine.State, viewer types.Viewer) View {
	v := View{
		RoomID:           state.RoomID,
		Code:             state.Code,
		Phase:            state.Phase,
		Timer:            state.Timer,
		Settings:         state.Settings,
		HostID:           state.HostID,
		IsHost:           viewer.PlayerID == state.HostID,
		PublicNarrative:  append([]string(nil), state.PublicNarrative...),
		VictoryCondition: state.VictoryCondition,
		ProtocolVersion:  state.ProtocolVersion,
		Players:          make(map[string]PlayerView, len(state.Players)),
	}

	for id, p := range state.Players {
		pv := PlayerView{ID: p.ID, Name: p.Name, Status: string(p.Status), Connected: p.Connected}
		revealToAll := (p.Status == engine.StatusDead && state.Settings.RevealRolesOnDeath) || state.Phase == engine.PhaseEnded
		if id == viewer.PlayerID || revealToAll {
			pv.RoleID = p.RoleID
		}
		v.Players[id] = pv
	}

	if self, ok := state.Players[viewer.PlayerID]; ok && self.RoleID != "" {
		sr := &SelfRole{RoleID: self.RoleID, Alignment: self.Alignment}
		if self.Alignment == string(game.AlignmentMafia) {
			for id, p := range state.Players {
				if id != viewer.PlayerID && p.Alignment == string(game.AlignmentMafia) {
					sr.Teammates = append(sr.Teammates, id)
				}
			}
		}
		v.SelfRole = sr
	}

	votesVisible := (state.Phase == engine.PhaseDayVoting && !state.Settings.AnonymousVoting) ||
		state.Phase == engine.PhaseEnded ||
		((state.Phase == engine.PhaseDayAnnouncement || state.Phase == engine.PhaseDayDiscussion) && len(state.Votes) > 0)
	if votesVisible {
		for _, vote := range state.Votes {
			v.Votes = append(v.Votes, VoteView{PlayerID: vote.PlayerID, TargetID: vote.TargetID})
		}
	}

	for _, r := range state.InvestigationResults {
		if r.InvestigatorID == viewer.PlayerID {
			v.InvestigationResults = append(v.InvestigationResults, r)
		}
	}

	if state.Phase == engine.PhaseNight {
		for _, a := range state.NightActions {
			if a.PlayerID == viewer.PlayerID {
				v.LockedAction = &LockedAction{Type: a.Type, TargetID: a.TargetID}
				break
			}
		}
	}

	if err := SafetyCheck(v, state, viewer); err != nil {
		panic(fmt.Sprintf("projection: redaction safety check failed: %v", err))
	}
	return v
}

// SafetyCheck is the redaction self-test run against every view
// produced; any violation is fatal.
func SafetyCheck(v View, state engine.State, viewer types.Viewer) error {
	for id, pv := range v.Players {
		if pv.RoleID == "" || id == viewer.PlayerID {
			continue
		}
		p, ok := state.Players[id]
		revealedByDeath := ok && p.Status == engine.StatusDead && state.Settings.RevealRolesOnDeath
		revealedByEnd := state.Phase == engine.PhaseEnded
		if !revealedByDeath && !revealedByEnd {
			return fmt.Errorf("player %s leaked roleId to viewer %s outside reveal conditions", id, viewer.PlayerID)
		}
	}
	for _, r := range v.InvestigationResults {
		if r.InvestigatorID != viewer.PlayerID {
			return fmt.Errorf("investigation result for %s leaked to viewer %s", r.InvestigatorID, viewer.PlayerID)
		}
	}
	if v.SelfRole != nil && len(v.SelfRole.Teammates) > 0 && v.SelfRole.Alignment != string(game.AlignmentMafia) {
		return fmt.Errorf("teammates present for non-mafia viewer %s", viewer.PlayerID)
	}
	if v.SelfRole != nil {
		for _, t := range v.SelfRole.Teammates {
			if t == viewer.PlayerID {
				return fmt.Errorf("viewer %s listed as their own teammate", viewer.PlayerID)
			}
		}
	}
	return nil
}
