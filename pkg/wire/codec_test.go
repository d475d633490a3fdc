package wire

import (
	"errors"
	"testing"

	"github.com/wndlink/wndlink/pkg/domain/message"
)

func TestByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "json", false},
		{"json", "json", false},
		{"msgpack", "msgpack", false},
		{"protobuf", "", true},
	}
	for _, tt := range tests {
		c, err := ByName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ByName(%q): expected error", tt.name)
			}
			continue
		}
		if err != nil || c.Name() != tt.want {
			t.Errorf("ByName(%q) = %v, %v", tt.name, c, err)
		}
	}
}

func TestPayloadSurvivesEachCodec(t *testing.T) {
	env := message.Envelope{
		Type:        message.TypePrefsChanged,
		Subtype:     message.SubtypeRequest,
		Source:      message.EndpointApp,
		Destination: message.EndpointCompanion,
		ID:          1718000000123,
		Payload:     map[string]interface{}{"theme": "dark", "pageSize": 50},
	}

	for _, c := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(c.Name(), func(t *testing.T) {
			frame, err := c.Marshal(env)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := c.Unmarshal(frame)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got.ID != env.ID || got.Type != env.Type || got.Destination != env.Destination {
				t.Errorf("header mismatch: %+v", got)
			}

			var prefs struct {
				Theme    string `json:"theme"`
				PageSize int    `json:"pageSize"`
			}
			if err := got.DecodePayload(&prefs); err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if prefs.Theme != "dark" || prefs.PageSize != 50 {
				t.Errorf("payload mismatch: %+v", prefs)
			}
		})
	}
}

func TestUnmarshalRejectsUnroutableFrames(t *testing.T) {
	c := JSONCodec{}
	tests := []struct {
		frame string
		want  error
	}{
		{`{"subtype":"request","id":1}`, message.ErrEmptyType},
		{`{"type":"readyMsg","id":1}`, message.ErrEmptySubtype},
		{`{"type":"readyMsg","subtype":"reply","id":1}`, message.ErrInvalidSubtype},
	}
	for _, tt := range tests {
		if _, err := c.Unmarshal([]byte(tt.frame)); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.frame, tt.want, err)
		}
	}

	if _, err := c.Unmarshal([]byte("{")); err == nil {
		t.Error("expected error for malformed frame")
	}
}
