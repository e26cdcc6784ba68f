package protocol

// MessageType identifies a wire message. It is carried in the mandatory "type" field.
type MessageType string

// Client to server message types.
const (
	TypeQueueJoin    MessageType = "queue.join"
	TypeQueueLeave   MessageType = "queue.leave"
	TypeQueueStatus  MessageType = "queue.status"
	TypeMatchReady   MessageType = "match.ready"
	TypeMatchConcede MessageType = "match.concede"
	TypePhaseAdvance MessageType = "phase.advance"
	TypeCardPlay     MessageType = "card.play"
	TypeCardCancel   MessageType = "card.cancel"
	TypeSyncRequest  MessageType = "sync.request"
)

// Server to client message types. card.play, card.cancel, match.ready and
// queue.status are reused as acknowledgements in the outbound direction.
const (
	TypeConnected    MessageType = "connected"
	TypeQueueAck     MessageType = "queue.ack"
	TypeMatchFound   MessageType = "match.found"
	TypeMatchStart   MessageType = "match.start"
	TypeMatchEnd     MessageType = "match.end"
	TypeStateUpdate  MessageType = "state.update"
	TypeSyncSnapshot MessageType = "sync.snapshot"
	TypeTimerTick    MessageType = "timer.tick"
	TypeError        MessageType = "error"
)

// Header is embedded in every message.
type Header struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Sequence  uint64      `json:"sequence,omitempty"`
}

func (h *Header) header() *Header { return h }

// SetSequence stamps a per-match sequence number on a state-changing message.
func (h *Header) SetSequence(seq uint64) { h.Sequence = seq }

// Message is the closed set of wire messages. Only types declared in this
// package satisfy it.
type Message interface {
	MessageType() MessageType
	header() *Header
}

// Action names accepted in card.play.
const (
	ActionSummon          = "summon"
	ActionAttack          = "attack"
	ActionActivateAbility = "activate_ability"
	ActionUltimate        = "ultimate"
)

// QueueJoin asks to enter the matchmaking queue for a mode.
type QueueJoin struct {
	Header
	Mode string `json:"mode"`
}

// QueueLeave asks to leave the matchmaking queue for a mode.
type QueueLeave struct {
	Header
	Mode string `json:"mode"`
}

// QueueStatusRequest asks for the caller's queue position.
type QueueStatusRequest struct {
	Header
	Mode string `json:"mode"`
}

// MatchReady acknowledges readiness for a found match.
type MatchReady struct {
	Header
	MatchID string `json:"match_id"`
}

// MatchConcede concedes an active match.
type MatchConcede struct {
	Header
	MatchID string `json:"match_id"`
}

// PhaseAdvance ends the current phase of the sender's turn. Phase, when set,
// must name the phase being ended so that a stale request is rejected.
type PhaseAdvance struct {
	Header
	MatchID string `json:"match_id"`
	Phase   string `json:"phase,omitempty"`
}

// CardPlay activates a card.
type CardPlay struct {
	Header
	MatchID   string `json:"match_id"`
	CardID    string `json:"card_id"`
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
	AbilityID string `json:"ability_id,omitempty"`
}

// CardCancel retracts the sender's last card play while its play window is open.
type CardCancel struct {
	Header
	MatchID string `json:"match_id"`
	CardID  string `json:"card_id"`
}

// SyncRequest asks for a full snapshot, typically after a sequence gap.
type SyncRequest struct {
	Header
	MatchID      string `json:"match_id"`
	LastSequence uint64 `json:"last_sequence,omitempty"`
}

func (*QueueJoin) MessageType() MessageType          { return TypeQueueJoin }
func (*QueueLeave) MessageType() MessageType         { return TypeQueueLeave }
func (*QueueStatusRequest) MessageType() MessageType { return TypeQueueStatus }
func (*MatchReady) MessageType() MessageType         { return TypeMatchReady }
func (*MatchConcede) MessageType() MessageType       { return TypeMatchConcede }
func (*PhaseAdvance) MessageType() MessageType       { return TypePhaseAdvance }
func (*CardPlay) MessageType() MessageType           { return TypeCardPlay }
func (*CardCancel) MessageType() MessageType         { return TypeCardCancel }
func (*SyncRequest) MessageType() MessageType        { return TypeSyncRequest }

// Connected is sent once the connection is authenticated.
type Connected struct {
	Header
	PlayerID     string `json:"player_id"`
	ConnectionID string `json:"connection_id"`
	MatchID      string `json:"match_id,omitempty"`
}

// QueueAck answers queue.join and queue.leave.
type QueueAck struct {
	Header
	Mode     string `json:"mode"`
	Status   string `json:"status"`
	Position int    `json:"position,omitempty"`
	MatchID  string `json:"match_id,omitempty"`
}

// QueueStatus answers queue.status.
type QueueStatus struct {
	Header
	Mode     string `json:"mode"`
	InQueue  bool   `json:"in_queue"`
	Position int    `json:"position,omitempty"`
}

// Opponent describes another participant of a found match.
type Opponent struct {
	PlayerID string `json:"player_id"`
	Team     int    `json:"team"`
	Rating   int    `json:"rating"`
}

// MatchFound tells a player they were paired. Opponent is the first opposing
// participant; Opponents lists all of them for modes with more than two seats.
type MatchFound struct {
	Header
	MatchID       string     `json:"match_id"`
	Mode          string     `json:"mode"`
	YourTeam      int        `json:"your_team"`
	Opponent      Opponent   `json:"opponent"`
	Opponents     []Opponent `json:"opponents,omitempty"`
	ReadyDeadline int64      `json:"ready_deadline"`
}

// MatchReadyStatus broadcasts who has acknowledged readiness.
type MatchReadyStatus struct {
	Header
	MatchID  string   `json:"match_id"`
	PlayerID string   `json:"player_id"`
	Ready    []string `json:"ready"`
}

// MatchStart announces the active match.
type MatchStart struct {
	Header
	MatchID      string `json:"match_id"`
	Seed         int64  `json:"seed"`
	Rules        any    `json:"rules"`
	Arena        any    `json:"arena"`
	Participants any    `json:"participants"`
	YourTeam     int    `json:"your_team"`
}

// MatchEnd announces the terminal result.
type MatchEnd struct {
	Header
	MatchID  string `json:"match_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	Results  any    `json:"results"`
	Checksum string `json:"checksum,omitempty"`
}

// CardPlayAck confirms an accepted card.play to its sender.
type CardPlayAck struct {
	Header
	MatchID string `json:"match_id"`
	CardID  string `json:"card_id"`
	Action  string `json:"action"`
}

// CardCancelAck confirms an accepted card.cancel to its sender.
type CardCancelAck struct {
	Header
	MatchID string `json:"match_id"`
	CardID  string `json:"card_id"`
}

// StateUpdate carries a delta.
type StateUpdate struct {
	Header
	MatchID string `json:"match_id"`
	Delta   any    `json:"delta"`
}

// SyncSnapshot carries a full redacted state.
type SyncSnapshot struct {
	Header
	MatchID string `json:"match_id"`
	State   any    `json:"state"`
}

// TimerTick broadcasts the remaining time of the current phase.
type TimerTick struct {
	Header
	MatchID     string `json:"match_id"`
	Phase       string `json:"phase"`
	Turn        int    `json:"turn"`
	CurrentTeam int    `json:"current_team"`
	RemainingMs int64  `json:"remaining_ms"`
}

// ErrorMessage reports a rejected request. Retryable distinguishes a
// rejected request from a match that can no longer accept input.
type ErrorMessage struct {
	Header
	ErrorCode   ErrorCode      `json:"error_code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	MatchID     string         `json:"match_id,omitempty"`
	RequestType MessageType    `json:"request_type,omitempty"`
	Retryable   bool           `json:"retryable"`
}

func (*Connected) MessageType() MessageType        { return TypeConnected }
func (*QueueAck) MessageType() MessageType         { return TypeQueueAck }
func (*QueueStatus) MessageType() MessageType      { return TypeQueueStatus }
func (*MatchFound) MessageType() MessageType       { return TypeMatchFound }
func (*MatchReadyStatus) MessageType() MessageType { return TypeMatchReady }
func (*MatchStart) MessageType() MessageType       { return TypeMatchStart }
func (*MatchEnd) MessageType() MessageType         { return TypeMatchEnd }
func (*CardPlayAck) MessageType() MessageType      { return TypeCardPlay }
func (*CardCancelAck) MessageType() MessageType    { return TypeCardCancel }
func (*StateUpdate) MessageType() MessageType      { return TypeStateUpdate }
func (*SyncSnapshot) MessageType() MessageType     { return TypeSyncSnapshot }
func (*TimerTick) MessageType() MessageType        { return TypeTimerTick }
func (*ErrorMessage) MessageType() MessageType     { return TypeError }
