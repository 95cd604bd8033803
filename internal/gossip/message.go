package gossip

import (
	"encoding/json"
	"fmt"

	"github.com/scopedb/percas/internal/membership"
	"github.com/scopedb/percas/internal/node"
)

// Kind identifies which variant of Message is populated.
type Kind string

const (
	KindPing Kind = "ping"
	KindAck  Kind = "ack"
	KindSync Kind = "sync"
)

// Message is the single wire type exchanged between gossiping nodes over
// POST {advertise_ctrl_url}/gossip. On the wire it is a tagged union with
// one key per variant — {"Ping":NodeInfo}, {"Ack":NodeInfo}, or
// {"Sync":{"members":[...]}} — rather than a "type" discriminator field;
// MarshalJSON/UnmarshalJSON implement that encoding so the rest of the
// package can work with Type/Ping/Ack/Sync directly.
type Message struct {
	Type Kind

	// Ping and Ack both carry the sender's own identity, so the receiver can
	// merge it into its membership table as evidence of liveness.
	Ping *node.Info
	Ack  *node.Info

	// Sync carries a batch of member observations for anti-entropy
	// reconciliation; the receiver merges each one and replies with its own
	// membership as a Sync message in turn.
	Sync []membership.State
}

// syncEnvelope wraps Sync's payload so it nests under a "members" key on
// the wire, matching the Ping/Ack variants' single-field shape.
type syncEnvelope struct {
	Members []membership.State `json:"members"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case KindPing:
		return json.Marshal(struct {
			Ping *node.Info `json:"Ping"`
		}{Ping: m.Ping})
	case KindAck:
		return json.Marshal(struct {
			Ack *node.Info `json:"Ack"`
		}{Ack: m.Ack})
	case KindSync:
		return json.Marshal(struct {
			Sync syncEnvelope `json:"Sync"`
		}{Sync: syncEnvelope{Members: m.Sync}})
	default:
		return nil, fmt.Errorf("gossip: marshal message: unknown kind %q", m.Type)
	}
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Ping *node.Info    `json:"Ping"`
		Ack  *node.Info    `json:"Ack"`
		Sync *syncEnvelope `json:"Sync"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}

	switch {
	case tagged.Ping != nil:
		m.Type, m.Ping = KindPing, tagged.Ping
	case tagged.Ack != nil:
		m.Type, m.Ack = KindAck, tagged.Ack
	case tagged.Sync != nil:
		m.Type, m.Sync = KindSync, tagged.Sync.Members
	default:
		return fmt.Errorf("gossip: unmarshal message: no recognized variant")
	}
	return nil
}

func pingMessage(self node.Info) Message {
	return Message{Type: KindPing, Ping: &self}
}

func ackMessage(self node.Info) Message {
	return Message{Type: KindAck, Ack: &self}
}

func syncMessage(members []membership.State) Message {
	return Message{Type: KindSync, Sync: members}
}
