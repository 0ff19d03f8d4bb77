package engine

// Event type discriminators. These are the EventType strings carried on
// types.Event and switched over by State.Reduce.
const (
	EventRoomCreated             = "room.created"
	EventPlayerJoined            = "player.joined"
	EventPlayerConnectionChanged = "player.connection.changed"
	EventPlayerKicked            = "player.kicked"
	EventRolesAssigned           = "roles.assigned"
	EventPhaseAdvanced           = "phase.advanced"
	EventNightActionSubmitted    = "night.action.submitted"
	EventNightResolved           = "night.resolved"
	EventVoteCast                = "vote.cast"
	EventVotingResolved          = "voting.resolved"
	EventVictoryDeclared         = "victory.declared"
	EventPlayerNudged            = "player.nudged"
	EventChatMessage             = "chat.message"
)

type roomCreatedPayload struct {
	RoomID   string   `json:"roomId"`
	Code     string   `json:"code"`
	HostID   string   `json:"hostId"`
	Settings Settings `json:"settings"`
}

type playerJoinedPayload struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

type connectionChangedPayload struct {
	PlayerID  string `json:"playerId"`
	Connected bool   `json:"connected"`
}

type playerKickedPayload struct {
	PlayerID string `json:"playerId"`
}

type playerNudgedPayload struct {
	PlayerID string `json:"playerId"`
}

type rolesAssignedPayload struct {
	Assignments []roleAssignment `json:"assignments"`
}

type roleAssignment struct {
	PlayerID  string `json:"playerId"`
	RoleID    string `json:"roleId"`
	Alignment string `json:"alignment"`
}

type phaseAdvancedPayload struct {
	Phase Phase  `json:"phase"`
	Timer *Timer `json:"timer"`
}

type nightActionSubmittedPayload struct {
	Action NightAction `json:"action"`
}

type nightResolvedPayload struct {
	DeadPlayerID      string                `json:"deadPlayerId,omitempty"`
	Narrative         string                `json:"narrative"`
	NewInvestigations []InvestigationResult `json:"newInvestigations,omitempty"`
}

type voteCastPayload struct {
	Vote Vote `json:"vote"`
}

type votingResolvedPayload struct {
	LynchedPlayerID string `json:"lynchedPlayerId,omitempty"`
	Narrative       string `json:"narrative"`
}

type victoryDeclaredPayload struct {
	Condition VictoryCondition `json:"condition"`
}

type chatMessagePayload struct {
	MessageID string `json:"messageId"`
	Channel   string `json:"channel"`
	Content   string `json:"content"`
}
