// Package rafthttp is a JSON-over-HTTP transport for raft.Message and
// raft.ClientSubmission: an Install(mux)-based inbound Server plus an
// outbound Peer.
package rafthttp

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cole-miller/refloat/raft"
)

const (
	IdPath      = "/raft/id"
	MessagePath = "/raft/message"
	SubmitPath  = "/raft/submit"
)

// Mux is the subset of http.ServeMux that Install needs, so callers can
// install onto any router that offers HandleFunc.
type Mux interface {
	HandleFunc(path string, handler func(http.ResponseWriter, *http.Request))
}

// Inbound is what Server needs from the local automaton to answer HTTP
// requests.
type Inbound interface {
	MyId() raft.ServerId
	Deliver(msg raft.Message)
	Submit(sub raft.ClientSubmission)
}

// Server exposes one raft.Server's inbound surface over HTTP.
type Server struct {
	node Inbound
}

// NewServer wraps node for HTTP exposure.
func NewServer(node Inbound) *Server {
	return &Server{node: node}
}

// Install registers the transport's handlers on mux.
func (s *Server) Install(mux Mux) {
	mux.HandleFunc(IdPath, s.handleId)
	mux.HandleFunc(MessagePath, s.handleMessage)
	mux.HandleFunc(SubmitPath, s.handleSubmit)
}

func (s *Server) handleId(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(strconv.FormatUint(uint64(s.node.MyId()), 10)))
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg raft.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.node.Deliver(msg)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub raft.ClientSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.node.Submit(sub)
	w.WriteHeader(http.StatusOK)
}
