package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/errs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes one command's params and returns the data to embed in
// a successful Response, or an error (ideally an *errs.Error, so its Kind
// propagates into Response.ErrorKind).
type Handler func(params json.RawMessage) (any, error)

// Server is the command/response loop plus the pub-event fan-out. Exactly
// one Server reads commands; Publish may be called concurrently from any
// goroutine (the phase machine, the camera loop, playback).
type Server struct {
	log      *zap.Logger
	handlers map[string]Handler

	writeMu sync.Mutex
	out     *bufio.Writer

	relay *WebsocketHub // optional secondary transport, nil if unused
}

// NewServer constructs a Server writing responses and events to out.
func NewServer(out io.Writer, log *zap.Logger) *Server {
	return &Server{
		log:      log,
		handlers: make(map[string]Handler),
		out:      bufio.NewWriter(out),
	}
}

// SetRelay attaches a secondary websocket broadcaster; every Publish call
// also fans out to it.
func (s *Server) SetRelay(hub *WebsocketHub) {
	s.relay = hub
}

// Register binds cmdType to h. Registering the same type twice replaces
// the handler.
func (s *Server) Register(cmdType string, h Handler) {
	s.handlers[cmdType] = h
}

// Serve reads line-delimited JSON requests from in until EOF or a read
// error, dispatching each to its registered handler and writing exactly
// one Response per Request. Unknown command types get a validation-kind
// error response rather than being silently dropped.
func (s *Server) Serve(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(Response{Success: false, Type: "error", Error: fmt.Sprintf("malformed request: %v", err)})
			continue
		}
		s.dispatch(req)
	}
	return scanner.Err()
}

func (s *Server) dispatch(req Request) {
	h, ok := s.handlers[req.Type]
	if !ok {
		s.writeResponse(Response{
			MessageID: req.MessageID, Success: false, Type: req.Type,
			Error: fmt.Sprintf("unknown command %q", req.Type), ErrorKind: string(errs.KindValidation),
		})
		return
	}

	data, err := h(req.Params)
	if err != nil {
		resp := Response{MessageID: req.MessageID, Success: false, Type: req.Type, Error: err.Error()}
		if e, ok := err.(*errs.Error); ok {
			resp.ErrorKind = string(e.Kind)
		}
		s.writeResponse(resp)
		return
	}
	s.writeResponse(Response{MessageID: req.MessageID, Success: true, Type: req.Type, Data: data})
}

func (s *Server) writeResponse(resp Response) {
	s.writeLine(resp)
}

// Publish emits an asynchronous event on the pub channel (and the
// websocket relay, if attached). Every event gets a fresh messageId.
func (s *Server) Publish(eventType string, data any) {
	s.writeLine(Event{MessageID: uuid.NewString(), Event: true, Type: eventType, Data: data})
	if s.relay != nil {
		s.relay.Broadcast(eventType, data)
	}
}

func (s *Server) writeLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		if s.log != nil {
			s.log.Error("ipc: marshal failed", zap.Error(err))
		}
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(data)
	s.out.WriteByte('\n')
	s.out.Flush()
}
