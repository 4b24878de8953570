/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	ErrUnknownType     = errors.New("unknown message type")
	ErrMissingField    = errors.New("missing field")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrWrongDirection  = errors.New("message type not accepted from clients")
	ErrDescriptionType = errors.New("unexpected session description type")
)

// Decode parses a client sent message into one of the tagged message
// variants and validates it.
func Decode(data []byte) (Message, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var msg interface {
		Message
		validate() error
	}
	switch envelope.Type {
	case TypeJoinVoiceChannel:
		msg = &JoinVoiceChannel{}
	case TypeLeaveVoiceChannel:
		msg = &LeaveVoiceChannel{}
	case TypeNewParticipantOffer:
		msg = &Offer{}
	case TypeExistingParticipantAnswer, TypeNewParticipantAnswer:
		msg = &Answer{}
	case TypeExistingParticipantCandidate, TypeNewParticipantCandidate:
		msg = &Candidate{}
	case TypeVideoTrackEnabledChanged:
		msg = &VideoTrackEnabledChanged{}
	case TypeJoinChatChannel, TypeLeaveChatChannel:
		msg = &ChatChannel{}
	case TypeSendMessage, TypeUpdateMessage, TypeDeleteMessage:
		msg = &ChatRequest{}
	case TypeExistingParticipantOffer, TypeParticipantsList, TypeRoomFull, TypeUserJoined,
		TypeUserExit, TypeLinkClosed, TypeError, TypeReceiveMessage, TypeMessageUpdated, TypeMessageDeleted:
		return nil, fmt.Errorf("%w: %s", ErrWrongDirection, envelope.Type)
	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, envelope.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, envelope.Type, err)
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", envelope.Type, err)
	}

	return msg, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

func (m *JoinVoiceChannel) validate() error {
	if m.Room == "" {
		return missing("room")
	}
	return nil
}

func (m *LeaveVoiceChannel) validate() error {
	return nil
}

func (m *Offer) validate() error {
	if m.Room == "" {
		return missing("room")
	}
	if m.Offer.SDP == "" {
		return missing("offer")
	}
	if m.Offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: %s", ErrDescriptionType, m.Offer.Type)
	}
	return nil
}

func (m *Answer) validate() error {
	if m.Room == "" {
		return missing("room")
	}
	if m.SenderID == "" {
		return missing("senderId")
	}
	if m.Answer.SDP == "" {
		return missing("answer")
	}
	if m.Answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: %s", ErrDescriptionType, m.Answer.Type)
	}
	return nil
}

func (m *Candidate) validate() error {
	if m.Room == "" {
		return missing("room")
	}
	// An empty candidate string signals end of candidates and is valid.
	return nil
}

func (m *VideoTrackEnabledChanged) validate() error {
	if m.Room == "" {
		return missing("room")
	}
	return nil
}

func (m *ChatChannel) validate() error {
	if m.Channel == "" {
		return missing("channel")
	}
	return nil
}

func (m *ChatRequest) validate() error {
	if m.Channel == "" {
		return missing("channel")
	}
	switch m.Type {
	case TypeSendMessage:
		if m.Message == "" {
			return missing("message")
		}
	case TypeUpdateMessage:
		if m.MessageID == "" {
			return missing("messageId")
		}
		if m.Message == "" {
			return missing("message")
		}
	case TypeDeleteMessage:
		if m.MessageID == "" {
			return missing("messageId")
		}
	}
	return nil
}

// NewParticipantsList creates a participants_list message.
func NewParticipantsList(room, self string, participants []*Participant) *ParticipantsList {
	return &ParticipantsList{
		Envelope:     Envelope{Type: TypeParticipantsList},
		Room:         room,
		Self:         self,
		Participants: participants,
	}
}

// NewRoomFull creates a room_full message.
func NewRoomFull(room string) *RoomFull {
	return &RoomFull{
		Envelope: Envelope{Type: TypeRoomFull},
		Room:     room,
	}
}

// NewUserJoined creates a user_joined message.
func NewUserJoined(room string, participant *Participant) *UserJoined {
	return &UserJoined{
		Envelope:    Envelope{Type: TypeUserJoined},
		Room:        room,
		Participant: participant,
	}
}

// NewUserExit creates a user_exit message.
func NewUserExit(room, participantID string) *UserExit {
	return &UserExit{
		Envelope:      Envelope{Type: TypeUserExit},
		Room:          room,
		ParticipantID: participantID,
	}
}

// NewLinkClosed creates a link_closed message.
func NewLinkClosed(room, senderID, receiverID, reason string) *LinkClosed {
	return &LinkClosed{
		Envelope:   Envelope{Type: TypeLinkClosed},
		Room:       room,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Reason:     reason,
	}
}

// NewError creates an error message.
func NewError(code, message string) *Error {
	return &Error{
		Envelope: Envelope{Type: TypeError},
		Code:     code,
		Message:  message,
	}
}

// NewOffer creates an offer message of the provided type.
func NewOffer(typ, room, senderID, receiverID string, offer webrtc.SessionDescription) *Offer {
	return &Offer{
		Envelope:   Envelope{Type: typ},
		Room:       room,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Offer:      offer,
	}
}

// NewAnswer creates an answer message of the provided type.
func NewAnswer(typ, room, senderID, receiverID string, answer webrtc.SessionDescription) *Answer {
	return &Answer{
		Envelope:   Envelope{Type: typ},
		Room:       room,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Answer:     answer,
	}
}

// NewCandidate creates an ICE candidate message of the provided type.
func NewCandidate(typ, room, senderID, receiverID string, candidate webrtc.ICECandidateInit) *Candidate {
	return &Candidate{
		Envelope:   Envelope{Type: typ},
		Room:       room,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Candidate:  candidate,
	}
}

// NewVideoTrackEnabledChanged creates a video_track_enabled_changed message.
func NewVideoTrackEnabledChanged(room, participantID string, enabled bool) *VideoTrackEnabledChanged {
	return &VideoTrackEnabledChanged{
		Envelope:      Envelope{Type: TypeVideoTrackEnabledChanged},
		Room:          room,
		ParticipantID: participantID,
		Enabled:       enabled,
	}
}

// NewChatEvent creates a chat event of the provided type.
func NewChatEvent(typ, channel, messageID string, message *ChatMessage) *ChatEvent {
	return &ChatEvent{
		Envelope:  Envelope{Type: typ},
		Channel:   channel,
		MessageID: messageID,
		Message:   message,
	}
}
