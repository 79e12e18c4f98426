// Package protocol defines the wire envelope exchanged with browser
// clients over the WebSocket channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Envelope type discriminators.
const (
	TypeJoinProject        = "JOIN_PROJECT"
	TypeLeaveProject       = "LEAVE_PROJECT"
	TypeEditTranslation    = "EDIT_TRANSLATION"
	TypeApproveTranslation = "APPROVE_TRANSLATION"
	TypeSyncStatus         = "SYNC_STATUS"
	TypeError              = "ERROR"
)

var ErrMissingType = errors.New("envelope missing 'type' field")

// Envelope is the discriminated message exchanged on the realtime channel.
// All fields besides Type are optional; which are required depends on the
// type.
type Envelope struct {
	Type       string `json:"type"`
	ProjectID  int64  `json:"projectId,omitempty"`
	UserID     int64  `json:"userId,omitempty"`
	KeyID      int64  `json:"keyId,omitempty"`
	LanguageID int64  `json:"languageId,omitempty"`
	Value      string `json:"value,omitempty"`
	IsApproved *bool  `json:"isApproved,omitempty"`
	Error      string `json:"error,omitempty"`
	UserName   string `json:"userName,omitempty"`
	// Timestamp is epoch milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Parse decodes an inbound frame. The type field is peeked first so an
// unknown or missing discriminator produces a precise error without a full
// decode.
func Parse(raw []byte) (*Envelope, error) {
	typ := gjson.GetBytes(raw, "type")
	if !typ.Exists() || typ.String() == "" {
		return nil, ErrMissingType
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &env, nil
}

// Marshal encodes the envelope for the wire.
func (e *Envelope) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Millis converts a wall-clock time to the protocol's epoch-millisecond
// timestamp.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// ErrorFrame builds an ERROR reply naming the violated precondition.
func ErrorFrame(msg string) []byte {
	return (&Envelope{Type: TypeError, Error: msg}).Marshal()
}

// EditFrame builds the outbound EDIT_TRANSLATION broadcast. The value echo
// is carried for clients that render live text, but presence signaling is
// the contract; consumers must tolerate its absence.
func EditFrame(keyID, languageID, userID int64, userName, value string, at time.Time) []byte {
	return (&Envelope{
		Type:       TypeEditTranslation,
		KeyID:      keyID,
		LanguageID: languageID,
		UserID:     userID,
		UserName:   userName,
		Value:      value,
		Timestamp:  Millis(at),
	}).Marshal()
}

// SyncStatusFrame builds the outbound SYNC_STATUS broadcast emitted when a
// translation's approval flips.
func SyncStatusFrame(keyID, languageID, userID int64, userName string, approved bool, at time.Time) []byte {
	return (&Envelope{
		Type:       TypeSyncStatus,
		KeyID:      keyID,
		LanguageID: languageID,
		UserID:     userID,
		UserName:   userName,
		IsApproved: &approved,
		Timestamp:  Millis(at),
	}).Marshal()
}

// CellLeaveFrame builds the synthetic leave broadcast for one editor
// dropping off one cell. A room-level leave carries no key/language;
// clients distinguish on field presence.
func CellLeaveFrame(keyID, languageID, userID int64, at time.Time) []byte {
	return (&Envelope{
		Type:       TypeLeaveProject,
		KeyID:      keyID,
		LanguageID: languageID,
		UserID:     userID,
		Timestamp:  Millis(at),
	}).Marshal()
}
