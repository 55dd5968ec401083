package conversation

import (
	"strings"
	"time"
)

// UserID identifies one conversation participant. Telegram chat IDs are
// int64s; nothing outside the transport layer should care.
type UserID int64

// Role marks which party produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// PartKind discriminates the Part variants. A part is exactly one of them.
type PartKind string

const (
	PartKindText  PartKind = "text"
	PartKindImage PartKind = "image"
)

// Part is the smallest unit of conversation content: either text or an
// image. Consumers switch on Kind exhaustively instead of probing fields.
type Part struct {
	Kind PartKind
	Text string
	Data []byte
	MIME string
}

func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

func NewImagePart(data []byte, mime string) Part {
	return Part{Kind: PartKindImage, Data: data, MIME: mime}
}

func (p Part) IsText() bool { return p.Kind == PartKindText }

// Turn is one party's contribution: an ordered sequence of parts. Turns are
// treated as immutable once appended to a session.
type Turn struct {
	Role      Role
	Parts     []Part
	CreatedAt time.Time
}

func NewTurn(role Role, parts ...Part) Turn {
	return Turn{Role: role, Parts: parts, CreatedAt: time.Now()}
}

// TextOnly reports whether every part of the turn is text. Only such turns
// survive the durable projection.
func (t Turn) TextOnly() bool {
	for _, p := range t.Parts {
		if !p.IsText() {
			return false
		}
	}
	return len(t.Parts) > 0
}

// JoinedText concatenates the turn's text parts, skipping image parts.
func (t Turn) JoinedText() string {
	texts := make([]string, 0, len(t.Parts))
	for _, p := range t.Parts {
		if p.IsText() {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Session is the complete in-process conversation history for one user.
type Session struct {
	UserID UserID
	Turns  []Turn
}

// Clone returns a copy whose Turns slice is independent of the receiver's.
// Part payloads are shared; turns are immutable so that is safe.
func (s *Session) Clone() Session {
	if s == nil {
		return Session{}
	}
	return Session{
		UserID: s.UserID,
		Turns:  append([]Turn(nil), s.Turns...),
	}
}
