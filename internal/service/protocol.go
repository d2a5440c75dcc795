package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/immxrtalbeast/chatrelay/internal/domain"
)

const (
	maxUsernameLength    = 255
	maxChatMessageLength = 4000
)

func decodeEvent(raw []byte) (*domain.InboundEvent, error) {
	var event domain.InboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch event.Type {
	case domain.EventJoin:
		if err := validateIdentity(&event); err != nil {
			return nil, err
		}
	case domain.EventMessage:
		if err := validateIdentity(&event); err != nil {
			return nil, err
		}
		body := event.Body()
		if strings.TrimSpace(body) == "" {
			return nil, fmt.Errorf("%w: message text is required", ErrMalformedEvent)
		}
		if utf8.RuneCountInString(body) > maxChatMessageLength {
			return nil, fmt.Errorf("%w: message text is too long", ErrMalformedEvent)
		}
	case domain.EventLeave:
	case "":
		return nil, fmt.Errorf("%w: type is required", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrMalformedEvent, event.Type)
	}

	return &event, nil
}

func validateIdentity(event *domain.InboundEvent) error {
	event.Room = strings.TrimSpace(event.Room)
	event.Username = strings.TrimSpace(event.Username)

	if event.Room == "" {
		return fmt.Errorf("%w: room is required", ErrMalformedEvent)
	}
	if event.Username == "" {
		return fmt.Errorf("%w: username is required", ErrMalformedEvent)
	}
	if utf8.RuneCountInString(event.Room) > domain.MaxRoomNameLength {
		return fmt.Errorf("%w: room is too long", ErrMalformedEvent)
	}
	if utf8.RuneCountInString(event.Username) > maxUsernameLength {
		return fmt.Errorf("%w: username is too long", ErrMalformedEvent)
	}
	return nil
}
