package engine

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sairajesh711/mafia-room-core/internal/game"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

func newEvent(roomID, actorPlayerID, causationID, eventType string, payload any) types.Event {
	b, _ := json.Marshal(payload)
	return types.Event{
		RoomID:            roomID,
		Seq:               0,
		EventID:           uuid.NewString(),
		EventType:         eventType,
		ActorPlayerID:     actorPlayerID,
		CausationCommand:  causationID,
		Payload:           b,
		ServerTimestampMs: time.Now().UnixMilli(),
	}
}

// ResolveNight resolves the night's submitted actions. It is a pure
// function of (state.Players, state.NightActions); permuting insertion
// order of NightActions does not change the output, since the tie-break
// sort below is total.
func ResolveNight(s State) []types.Event {
	actions := make([]NightAction, 0, len(s.NightActions))
	for _, a := range s.NightActions {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Priority != actions[j].Priority {
			return actions[i].Priority < actions[j].Priority
		}
		if actions[i].SubmittedAtMs != actions[j].SubmittedAtMs {
			return actions[i].SubmittedAtMs < actions[j].SubmittedAtMs
		}
		return actions[i].ActionID < actions[j].ActionID
	})

	var queuedKillTarget string
	var newInvestigations []InvestigationResult

	for _, a := range actions {
		actor, ok := s.Players[a.PlayerID]
		if !ok || actor.Status != StatusAlive {
			continue
		}
		target, hasTarget := s.Players[a.TargetID]
		switch a.Type {
		case string(game.ActionKill):
			if actor.Alignment != string(game.AlignmentMafia) {
				continue
			}
			if !hasTarget || target.Status != StatusAlive || target.Alignment == string(game.AlignmentMafia) {
				continue
			}
			queuedKillTarget = a.TargetID
		case string(game.ActionProtect):
			if actor.RoleID != game.RoleDoctor {
				continue
			}
			if !hasTarget || target.Status != StatusAlive {
				continue
			}
			if queuedKillTarget == a.TargetID {
				queuedKillTarget = ""
			}
		case string(game.ActionInvestigate):
			if actor.RoleID != game.RoleDetective {
				continue
			}
			if !hasTarget || target.Status != StatusAlive {
				continue
			}
			newInvestigations = append(newInvestigations, InvestigationResult{
				InvestigatorID: a.PlayerID,
				TargetID:       a.TargetID,
				IsMafia:        target.Alignment == string(game.AlignmentMafia),
			})
		}
	}

	narrative := "No one died during the night."
	deadID := ""
	if queuedKillTarget != "" {
		if target, ok := s.Players[queuedKillTarget]; ok {
			deadID = queuedKillTarget
			narrative = target.Name + " was eliminated during the night."
		}
	}

	payload := nightResolvedPayload{
		DeadPlayerID:      deadID,
		Narrative:         narrative,
		NewInvestigations: newInvestigations,
	}
	return []types.Event{newEvent(s.RoomID, "", "", EventNightResolved, payload)}
}

// ResolveVoting tallies the round's ballots and selects a lynch target,
// if any, under the room's voting mode.
func ResolveVoting(s State) []types.Event {
	tally := make(map[string]int)
	for id, p := range s.Players {
		if p.Status == StatusAlive {
			tally[id] = 0
		}
	}
	for _, v := range s.Votes {
		if v.Abstain || v.TargetID == "" {
			continue
		}
		target, ok := s.Players[v.TargetID]
		if !ok || target.Status != StatusAlive {
			continue
		}
		voter, ok := s.Players[v.PlayerID]
		if !ok || voter.Status != StatusAlive {
			continue
		}
		weight := 1
		if r, ok := game.GetRole(voter.RoleID); ok && r.Voting.Weight > 0 {
			weight = r.Voting.Weight
		}
		tally[v.TargetID] += weight
	}

	aliveCount := len(tally)
	lynchTarget, lynchVotes := selectLynchTarget(tally, aliveCount, s.Settings.VotingMode)

	narrative := "No one was lynched. The town could not reach a decision."
	if lynchTarget != "" {
		p := s.Players[lynchTarget]
		narrative = p.Name + " was lynched with " + strconv.Itoa(lynchVotes) + " votes."
		if s.Settings.RevealRolesOnDeath {
			narrative += " They were a " + p.RoleID + "."
		}
	}

	payload := votingResolvedPayload{
		LynchedPlayerID: lynchTarget,
		Narrative:       narrative,
	}
	return []types.Event{newEvent(s.RoomID, "", "", EventVotingResolved, payload)}
}

func selectLynchTarget(tally map[string]int, aliveCount int, mode VotingMode) (string, int) {
	if mode == VotingPlurality {
		topID, topVotes, tied := topOf(tally)
		if topVotes <= 0 || tied {
			return "", 0
		}
		return topID, topVotes
	}
	threshold := aliveCount/2 + 1
	topID, topVotes, tied := topOf(tally)
	if tied || topVotes < threshold {
		return "", 0
	}
	return topID, topVotes
}

// topOf returns the highest-count key, its count, and whether the top
// spot is tied between two or more candidates.
func topOf(tally map[string]int) (string, int, bool) {
	ids := make([]string, 0, len(tally))
	for id := range tally {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ""
	bestCount := -1
	tieCount := 0
	for _, id := range ids {
		c := tally[id]
		if c > bestCount {
			best = id
			bestCount = c
			tieCount = 1
		} else if c == bestCount {
			tieCount++
		}
	}
	return best, bestCount, tieCount > 1
}

// CheckVictory computes the victory condition, run immediately after
// every night and voting resolution.
func CheckVictory(s State) VictoryCondition {
	mafia, town, neutral := s.AliveCounts()
	if mafia >= town+neutral {
		return VictoryMafia
	}
	if mafia == 0 {
		return VictoryTown
	}
	return VictoryNone
}

// nextPhase implements the linear progression lobby -> night ->
// day_announcement -> day_discussion -> day_voting -> night -> ...
func nextPhase(current Phase) Phase {
	switch current {
	case PhaseLobby:
		return PhaseNight
	case PhaseNight:
		return PhaseDayAnnouncement
	case PhaseDayAnnouncement:
		return PhaseDayDiscussion
	case PhaseDayDiscussion:
		return PhaseDayVoting
	case PhaseDayVoting:
		return PhaseNight
	default:
		return current
	}
}

func durationFor(phase Phase, settings Settings) int64 {
	switch phase {
	case PhaseNight:
		return settings.NightDurationMs
	case PhaseDayAnnouncement:
		return 30_000
	case PhaseDayDiscussion:
		return settings.DayDurationMs
	case PhaseDayVoting:
		return settings.VoteDurationMs
	default:
		return 0
	}
}

// AdvancePhase moves the room one step along the phase cycle: re-check victory
// first; if the room didn't just end, move to the next phase and arm a
// fresh timer. Ephemeral maps (NightActions, Votes) are cleared by their
// own resolution events, not here.
func AdvancePhase(s State, now int64) []types.Event {
	if cond := CheckVictory(s); cond != VictoryNone {
		return []types.Event{newEvent(s.RoomID, "", "", EventVictoryDeclared, victoryDeclaredPayload{Condition: cond})}
	}
	np := nextPhase(s.Phase)
	var timer *Timer
	if np != PhaseLobby && np != PhaseEnded {
		timer = &Timer{Phase: np, StartedAt: now, EndsAt: now + durationFor(np, s.Settings)}
	}
	return []types.Event{newEvent(s.RoomID, "", "", EventPhaseAdvanced, phaseAdvancedPayload{Phase: np, Timer: timer})}
}
