package protocol

import (
	"encoding/base64"
	"fmt"
)

// MessageType identifies outbound websocket payload variants.
type MessageType string

// TypeAgent tags every message the simulated agent sends to the client.
const TypeAgent MessageType = "agent"

// Envelope is the outer wrapper for every outbound message.
type Envelope struct {
	Type MessageType `json:"type"`
	Data AgentData   `json:"data"`
}

type AgentData struct {
	ServerContent ServerContent `json:"serverContent"`
}

// ServerContent carries exactly one of Interrupted or ModelTurn.
type ServerContent struct {
	Interrupted bool       `json:"interrupted,omitempty"`
	ModelTurn   *ModelTurn `json:"modelTurn,omitempty"`
}

type ModelTurn struct {
	Parts []Part `json:"parts"`
}

type Part struct {
	InlineData InlineData `json:"inlineData"`
}

type InlineData struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// InterruptNotice signals the client that the agent's current turn has been
// pre-empted by detected user speech. Sent exactly once per utterance start.
func InterruptNotice() Envelope {
	return Envelope{
		Type: TypeAgent,
		Data: AgentData{ServerContent: ServerContent{Interrupted: true}},
	}
}

// AudioChunk wraps one playback chunk of raw PCM16LE mono audio.
func AudioChunk(pcm []byte, sampleRate int) Envelope {
	return Envelope{
		Type: TypeAgent,
		Data: AgentData{ServerContent: ServerContent{
			ModelTurn: &ModelTurn{
				Parts: []Part{{
					InlineData: InlineData{
						Data:     base64.StdEncoding.EncodeToString(pcm),
						MimeType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
					},
				}},
			},
		}},
	}
}
