// Package session models the per-user conversation that collects token
// parameters before issuance. The state machine is deterministic: every
// (stage, event) pair either transitions or rejects with ErrInvalidEvent.
package session

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/tokengen/tokengen-bot/internal/models"
	"github.com/tokengen/tokengen-bot/internal/service"
	"github.com/tokengen/tokengen-bot/internal/token"
)

// ErrInvalidEvent rejects an event the current stage does not accept.
// The session state is left unchanged.
var ErrInvalidEvent = errors.New("event not valid for current conversation stage")

type Stage int

const (
	StageIdle Stage = iota
	StageChoosingKind
	StageCustomizing
	StageCollectingClaims
)

type awaiting int

const (
	awaitNone awaiting = iota
	awaitPrefix
	awaitClaimValue
)

// Claim keys the JWT flow recognizes.
const (
	ClaimUserID = "user_id"
	ClaimEmail  = "email"
	ClaimRole   = "role"
	ClaimExpiry = "expiry"
)

const defaultExpiryHours = 24

// Session is the transient per-user draft. It is not durable; losing it
// on restart only drops in-progress parameter collection.
type Session struct {
	Stage        Stage
	Kind         models.TokenKind
	Custom       token.CustomParams
	JWTClaims    map[string]string
	ExpiryHours  int
	awaiting     awaiting
	pendingClaim string
	touchedAt    time.Time
}

type EventType int

const (
	EventStartFlow EventType = iota
	EventSelectKind
	EventSetLength
	EventSetCharset
	EventRequestPrefix
	EventRequestClaim
	EventTextInput
	EventGenerate
	EventCancel
)

// Event is one conversational input, already decoded by the transport.
type Event struct {
	Type           EventType
	Kind           models.TokenKind // EventSelectKind
	Length         int              // EventSetLength
	IncludeSpecial bool             // EventSetCharset
	ClaimKey       string           // EventRequestClaim
	Text           string           // EventTextInput
}

// Outcome tells the transport what to do next.
type Outcome struct {
	// Generate means the flow reached its terminal action; call the
	// entitlement engine with Kind and Params.
	Generate bool
	Kind     models.TokenKind
	Params   service.IssueParams

	// AwaitInput means the transport should prompt the user for free
	// text (PromptFor names what is being collected).
	AwaitInput bool
	PromptFor  string
}

// Manager keys sessions per user; only one session per user is active.
// Stale sessions are dropped by Sweep to bound memory under many
// transient users.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Snapshot returns a copy of the user's session for read-only display,
// or an idle session when none exists.
func (m *Manager) Snapshot(userID int64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return *s
	}
	return Session{Stage: StageIdle}
}

// AwaitingInput reports whether a free-text message is meaningful for
// the user right now.
func (m *Manager) AwaitingInput(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return ok && s.awaiting != awaitNone
}

// Apply advances the user's state machine by one event.
func (m *Manager) Apply(userID int64, ev Event) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = &Session{Stage: StageIdle}
		m.sessions[userID] = s
	}
	s.touchedAt = m.now()

	switch ev.Type {
	case EventStartFlow:
		// a new flow discards any in-progress draft without warning
		*s = Session{Stage: StageChoosingKind, touchedAt: m.now()}
		return Outcome{}, nil

	case EventCancel:
		delete(m.sessions, userID)
		return Outcome{}, nil

	case EventSelectKind:
		return m.selectKind(userID, s, ev.Kind)

	case EventSetLength:
		if s.Stage != StageCustomizing {
			return Outcome{}, ErrInvalidEvent
		}
		if ev.Length > 0 {
			s.Custom.Length = ev.Length
		}
		return Outcome{}, nil

	case EventSetCharset:
		if s.Stage != StageCustomizing {
			return Outcome{}, ErrInvalidEvent
		}
		s.Custom.Special = ev.IncludeSpecial
		return Outcome{}, nil

	case EventRequestPrefix:
		if s.Stage != StageCustomizing {
			return Outcome{}, ErrInvalidEvent
		}
		s.awaiting = awaitPrefix
		return Outcome{AwaitInput: true, PromptFor: "prefix"}, nil

	case EventRequestClaim:
		if s.Stage != StageCollectingClaims {
			return Outcome{}, ErrInvalidEvent
		}
		switch ev.ClaimKey {
		case ClaimUserID, ClaimEmail, ClaimRole, ClaimExpiry:
		default:
			return Outcome{}, ErrInvalidEvent
		}
		s.awaiting = awaitClaimValue
		s.pendingClaim = ev.ClaimKey
		return Outcome{AwaitInput: true, PromptFor: ev.ClaimKey}, nil

	case EventTextInput:
		return m.textInput(s, ev.Text)

	case EventGenerate:
		if s.Stage != StageCustomizing && s.Stage != StageCollectingClaims {
			return Outcome{}, ErrInvalidEvent
		}
		out := Outcome{Generate: true, Kind: s.Kind, Params: s.params()}
		delete(m.sessions, userID)
		return out, nil

	default:
		return Outcome{}, ErrInvalidEvent
	}
}

func (m *Manager) selectKind(userID int64, s *Session, kind models.TokenKind) (Outcome, error) {
	if s.Stage != StageChoosingKind {
		return Outcome{}, ErrInvalidEvent
	}
	if !kind.Valid() {
		return Outcome{}, ErrInvalidEvent
	}
	switch kind {
	case models.KindCustom:
		s.Stage = StageCustomizing
		s.Kind = kind
		s.Custom = token.CustomParams{
			Length: token.DefaultLength,
			Upper:  true,
			Lower:  true,
			Digits: true,
		}
		return Outcome{}, nil
	case models.KindJWT:
		s.Stage = StageCollectingClaims
		s.Kind = kind
		s.JWTClaims = make(map[string]string)
		s.ExpiryHours = defaultExpiryHours
		return Outcome{}, nil
	default:
		// simple kinds need no parameters; generate immediately
		delete(m.sessions, userID)
		return Outcome{Generate: true, Kind: kind}, nil
	}
}

func (m *Manager) textInput(s *Session, text string) (Outcome, error) {
	if s.awaiting == awaitNone {
		return Outcome{}, ErrInvalidEvent
	}
	switch s.awaiting {
	case awaitPrefix:
		s.Custom.Prefix = text
	case awaitClaimValue:
		if s.pendingClaim == ClaimExpiry {
			hours, err := strconv.Atoi(text)
			if err != nil {
				hours = defaultExpiryHours
			}
			s.ExpiryHours = token.ClampExpiryHours(hours)
		} else {
			s.JWTClaims[s.pendingClaim] = text
		}
	}
	s.awaiting = awaitNone
	s.pendingClaim = ""
	return Outcome{}, nil
}

func (s *Session) params() service.IssueParams {
	p := service.IssueParams{
		Custom:         s.Custom,
		JWTExpiryHours: s.ExpiryHours,
	}
	if len(s.JWTClaims) > 0 {
		p.JWTClaims = make(map[string]string, len(s.JWTClaims))
		for k, v := range s.JWTClaims {
			p.JWTClaims[k] = v
		}
	}
	return p
}

// Sweep drops sessions idle longer than the TTL and returns how many
// were evicted.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)
	evicted := 0
	for id, s := range m.sessions {
		if s.touchedAt.Before(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}
