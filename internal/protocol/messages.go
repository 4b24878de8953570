/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package protocol

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Message types.
const (
	TypeJoinVoiceChannel  = "join_voice_channel"
	TypeLeaveVoiceChannel = "leave_voice_channel"
	TypeParticipantsList  = "participants_list"
	TypeRoomFull          = "room_full"
	TypeUserJoined        = "user_joined"
	TypeUserExit          = "user_exit"
	TypeLinkClosed        = "link_closed"
	TypeError             = "error"

	TypeExistingParticipantOffer     = "existingParticipant_offer"
	TypeExistingParticipantAnswer    = "existingParticipant_answer"
	TypeExistingParticipantCandidate = "existingParticipant_ice_candidate"
	TypeNewParticipantOffer          = "newParticipant_offer"
	TypeNewParticipantAnswer         = "newParticipant_answer"
	TypeNewParticipantCandidate      = "newParticipant_ice_candidate"

	TypeVideoTrackEnabledChanged = "video_track_enabled_changed"

	TypeJoinChatChannel  = "join_chat_channel"
	TypeLeaveChatChannel = "leave_chat_channel"
	TypeSendMessage      = "send_message"
	TypeReceiveMessage   = "receive_message"
	TypeUpdateMessage    = "update_message"
	TypeMessageUpdated   = "message_updated"
	TypeDeleteMessage    = "delete_message"
	TypeMessageDeleted   = "message_deleted"
)

// Error codes sent with TypeError messages.
const (
	ErrorCodeAlreadyJoined  = "already_joined"
	ErrorCodeNotJoined      = "not_joined"
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeTransportError = "transport_error"
	ErrorCodeChatError      = "chat_error"
)

// Message is implemented by all protocol messages.
type Message interface {
	MessageType() string

	isMessage()
}

// Envelope carries the type tag shared by all messages.
type Envelope struct {
	Type string `json:"type"`
}

// MessageType returns the type tag.
func (e *Envelope) MessageType() string {
	return e.Type
}

func (e *Envelope) isMessage() {}

// Participant describes a room member.
type Participant struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname,omitempty"`
}

// JoinVoiceChannel is sent by clients to join a room.
type JoinVoiceChannel struct {
	Envelope
	Room          string `json:"room"`
	ParticipantID string `json:"participantId,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
}

// LeaveVoiceChannel is sent by clients to leave their room.
type LeaveVoiceChannel struct {
	Envelope
	Room string `json:"room"`
}

// ParticipantsList answers a successful join.
type ParticipantsList struct {
	Envelope
	Room         string         `json:"room"`
	Self         string         `json:"self"`
	Participants []*Participant `json:"participants"`
}

// RoomFull answers a join to a room at capacity.
type RoomFull struct {
	Envelope
	Room string `json:"room"`
}

// UserJoined is sent to the others in a room when a participant joins.
type UserJoined struct {
	Envelope
	Room        string       `json:"room"`
	Participant *Participant `json:"participant"`
}

// UserExit is sent to the others in a room when a participant leaves.
type UserExit struct {
	Envelope
	Room          string `json:"room"`
	ParticipantID string `json:"participantId"`
}

// LinkClosed tells a client that the server gave up on a link.
type LinkClosed struct {
	Envelope
	Room       string `json:"room"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	Reason     string `json:"reason"`
}

// Error reports a failure for the last request of a connection.
type Error struct {
	Envelope
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Offer carries an SDP offer for the link (Room, SenderID, ReceiverID).
type Offer struct {
	Envelope
	Room       string                    `json:"room"`
	SenderID   string                    `json:"senderId"`
	ReceiverID string                    `json:"receiverId,omitempty"`
	Offer      webrtc.SessionDescription `json:"offer"`
}

// Answer carries an SDP answer for the link (Room, SenderID, ReceiverID).
type Answer struct {
	Envelope
	Room       string                    `json:"room"`
	SenderID   string                    `json:"senderId"`
	ReceiverID string                    `json:"receiverId,omitempty"`
	Answer     webrtc.SessionDescription `json:"answer"`
}

// Candidate carries a trickled ICE candidate for the link (Room, SenderID,
// ReceiverID).
type Candidate struct {
	Envelope
	Room       string                  `json:"room"`
	SenderID   string                  `json:"senderId"`
	ReceiverID string                  `json:"receiverId,omitempty"`
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
}

// VideoTrackEnabledChanged is relayed to the others in a room.
type VideoTrackEnabledChanged struct {
	Envelope
	Room          string `json:"room"`
	ParticipantID string `json:"participantId"`
	Enabled       bool   `json:"enabled"`
}

// ChatChannel subscribes to or unsubscribes from a chat channel.
type ChatChannel struct {
	Envelope
	Channel string `json:"channel"`
}

// ChatRequest is sent by clients to add, change or remove a chat message.
type ChatRequest struct {
	Envelope
	Channel   string `json:"channel"`
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
}

// ChatMessage is a stored chat message.
type ChatMessage struct {
	ID       string    `json:"id"`
	Channel  string    `json:"channel"`
	SenderID string    `json:"senderId"`
	Nickname string    `json:"nickname,omitempty"`
	Body     string    `json:"body"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated,omitzero"`
}

// ChatEvent is sent to the subscribers of a chat channel.
type ChatEvent struct {
	Envelope
	Channel   string       `json:"channel"`
	MessageID string       `json:"messageId,omitempty"`
	Message   *ChatMessage `json:"message,omitempty"`
}
