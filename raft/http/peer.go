package rafthttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cole-miller/refloat/raft"
)

// Peer is an outbound connection to one remote cluster member, reached
// by POSTing JSON-encoded Messages to its MessagePath. Send is
// fire-and-forget, matching raft.Peer: a reply (if the peer sends one)
// arrives later as an ordinary inbound message, not as this call's
// return value.
type Peer struct {
	id      raft.ServerId
	baseURL string
	client  *http.Client
}

// NewPeer builds a Peer that reaches the remote node at baseURL (e.g.
// "http://10.0.0.2:8080"). A nil client uses http.DefaultClient.
func NewPeer(id raft.ServerId, baseURL string, client *http.Client) *Peer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Peer{id: id, baseURL: baseURL, client: client}
}

func (p *Peer) Id() raft.ServerId { return p.id }

func (p *Peer) Send(msg raft.Message) error {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(msg); err != nil {
		return err
	}
	resp, err := p.client.Post(p.baseURL+MessagePath, "application/json", &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rafthttp: peer %d: %s", p.id, resp.Status)
	}
	return nil
}
