// Package message defines the envelopes exchanged between the daemon, the
// injected panels and the popup. Every envelope is a JSON object tagged by
// its "type" field.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgnsrekt/kwitch/internal/kick"
)

type Type string

const (
	TypeChannelsUpdated     Type = "CHANNELS_UPDATED"
	TypeWatchChannel        Type = "WATCH_KICK_CHANNEL"
	TypeForceRefresh        Type = "FORCE_REFRESH"
	TypeGetChannels         Type = "GET_CHANNELS"
	TypeGetChannelsResponse Type = "GET_CHANNELS_RESPONSE"
)

var (
	ErrUnknownType = errors.New("message: unknown type")
	ErrMissingSlug = errors.New("message: missing slug")
)

// Envelope is one message. Channels is set for CHANNELS_UPDATED and
// GET_CHANNELS_RESPONSE, Slug for WATCH_KICK_CHANNEL.
type Envelope struct {
	Type     Type
	Channels []kick.Channel
	Slug     string
}

func ChannelsUpdated(chs []kick.Channel) Envelope {
	return Envelope{Type: TypeChannelsUpdated, Channels: chs}
}

func GetChannelsResponse(chs []kick.Channel) Envelope {
	return Envelope{Type: TypeGetChannelsResponse, Channels: chs}
}

func WatchChannel(slug string) Envelope {
	return Envelope{Type: TypeWatchChannel, Slug: slug}
}

func ForceRefresh() Envelope { return Envelope{Type: TypeForceRefresh} }

func GetChannels() Envelope { return Envelope{Type: TypeGetChannels} }

// CarriesChannels reports whether the type has a channels payload.
func (t Type) CarriesChannels() bool {
	return t == TypeChannelsUpdated || t == TypeGetChannelsResponse
}

func (t Type) known() bool {
	switch t {
	case TypeChannelsUpdated, TypeWatchChannel, TypeForceRefresh, TypeGetChannels, TypeGetChannelsResponse:
		return true
	}
	return false
}

type wireEnvelope struct {
	Type     Type            `json:"type"`
	Channels *[]kick.Channel `json:"channels,omitempty"`
	Slug     string          `json:"slug,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{Type: e.Type}
	switch {
	case e.Type.CarriesChannels():
		chs := e.Channels
		if chs == nil {
			chs = []kick.Channel{}
		}
		w.Channels = &chs
	case e.Type == TypeWatchChannel:
		w.Slug = e.Slug
	}
	return json.Marshal(w)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Type = w.Type
	e.Slug = w.Slug
	e.Channels = nil
	if w.Channels != nil {
		e.Channels = *w.Channels
	}
	return nil
}

// Decode parses and validates one envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("message: decode: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Validate checks the type tag and required fields.
func (e Envelope) Validate() error {
	if !e.Type.known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if e.Type == TypeWatchChannel && strings.TrimSpace(e.Slug) == "" {
		return ErrMissingSlug
	}
	return nil
}
