package segmentation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/rpc"
	"strings"
	"sync"
)

// Wire types for the net/rpc transport. Contexts do not cross the
// process boundary; the client honors cancellation by abandoning the
// in-flight call, and the plugin process is killed on shutdown.

// InitArgs requests a new analysis state
type InitArgs struct {
	FramesDir string
}

// InitReply carries the server-side state handle
type InitReply struct {
	StateID    uint64
	FrameCount int
}

// AnnotateArgs registers seed points for one object
type AnnotateArgs struct {
	StateID    uint64
	FrameIndex int
	ObjectID   int
	Points     []Point
	Labels     []int
}

// AnnotateReply carries the mask for the annotated frame
type AnnotateReply struct {
	Mask *Mask
}

// PropagateArgs starts propagation on a state
type PropagateArgs struct {
	StateID uint64
}

// PropagateReply carries the server-side propagation handle
type PropagateReply struct {
	PropagationID uint64
}

// NextArgs advances a propagation
type NextArgs struct {
	PropagationID uint64
}

// NextReply carries one propagated frame; Done marks exhaustion
type NextReply struct {
	Done  bool
	Frame *FrameSegments
}

// CloseStateArgs releases a state handle
type CloseStateArgs struct {
	StateID uint64
}

// Empty is a placeholder for void replies
type Empty struct{}

// NameReply carries the engine name
type NameReply struct {
	Name string
}

// engineRPCServer hosts an Engine inside the plugin process
type engineRPCServer struct {
	impl Engine

	mu           sync.Mutex
	nextID       uint64
	states       map[uint64]State
	propagations map[uint64]Propagation
}

func newEngineRPCServer(impl Engine) *engineRPCServer {
	return &engineRPCServer{
		impl:         impl,
		states:       make(map[uint64]State),
		propagations: make(map[uint64]Propagation),
	}
}

func (s *engineRPCServer) Name(args *Empty, reply *NameReply) error {
	reply.Name = s.impl.Name()
	return nil
}

func (s *engineRPCServer) Init(args *InitArgs, reply *InitReply) error {
	state, err := s.impl.Init(context.Background(), args.FramesDir)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.states[id] = state
	s.mu.Unlock()

	reply.StateID = id
	reply.FrameCount = state.FrameCount()
	return nil
}

func (s *engineRPCServer) Annotate(args *AnnotateArgs, reply *AnnotateReply) error {
	state, err := s.state(args.StateID)
	if err != nil {
		return err
	}

	mask, err := state.Annotate(context.Background(), args.FrameIndex, args.ObjectID, args.Points, args.Labels)
	if err != nil {
		return err
	}

	reply.Mask = mask
	return nil
}

func (s *engineRPCServer) Propagate(args *PropagateArgs, reply *PropagateReply) error {
	state, err := s.state(args.StateID)
	if err != nil {
		return err
	}

	propagation, err := state.Propagate(context.Background())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.propagations[id] = propagation
	s.mu.Unlock()

	reply.PropagationID = id
	return nil
}

func (s *engineRPCServer) Next(args *NextArgs, reply *NextReply) error {
	s.mu.Lock()
	propagation, ok := s.propagations[args.PropagationID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown propagation handle %d", args.PropagationID)
	}

	frame, err := propagation.Next(context.Background())
	if errors.Is(err, io.EOF) {
		s.mu.Lock()
		delete(s.propagations, args.PropagationID)
		s.mu.Unlock()
		reply.Done = true
		return nil
	}
	if err != nil {
		return err
	}

	reply.Frame = frame
	return nil
}

func (s *engineRPCServer) CloseState(args *CloseStateArgs, reply *Empty) error {
	s.mu.Lock()
	state, ok := s.states[args.StateID]
	delete(s.states, args.StateID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return state.Close()
}

func (s *engineRPCServer) state(id uint64) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[id]
	if !ok {
		return nil, fmt.Errorf("unknown state handle %d", id)
	}
	return state, nil
}

// engineRPCClient implements Engine against the plugin process
type engineRPCClient struct {
	client *rpc.Client
}

func (c *engineRPCClient) call(ctx context.Context, method string, args, reply interface{}) error {
	call := c.client.Go("Plugin."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return restoreSentinel(done.Error)
	}
}

func (c *engineRPCClient) Name() string {
	var reply NameReply
	if err := c.call(context.Background(), "Name", &Empty{}, &reply); err != nil {
		return "remote"
	}
	return reply.Name
}

func (c *engineRPCClient) Init(ctx context.Context, framesDir string) (State, error) {
	var reply InitReply
	if err := c.call(ctx, "Init", &InitArgs{FramesDir: framesDir}, &reply); err != nil {
		return nil, err
	}
	return &rpcState{
		client:     c,
		id:         reply.StateID,
		frameCount: reply.FrameCount,
	}, nil
}

func (c *engineRPCClient) Close() error {
	return nil
}

type rpcState struct {
	client     *engineRPCClient
	id         uint64
	frameCount int
}

func (s *rpcState) FrameCount() int {
	return s.frameCount
}

func (s *rpcState) Annotate(ctx context.Context, frameIndex, objectID int, points []Point, labels []int) (*Mask, error) {
	args := &AnnotateArgs{
		StateID:    s.id,
		FrameIndex: frameIndex,
		ObjectID:   objectID,
		Points:     points,
		Labels:     labels,
	}
	var reply AnnotateReply
	if err := s.client.call(ctx, "Annotate", args, &reply); err != nil {
		return nil, err
	}
	return reply.Mask, nil
}

func (s *rpcState) Propagate(ctx context.Context) (Propagation, error) {
	var reply PropagateReply
	if err := s.client.call(ctx, "Propagate", &PropagateArgs{StateID: s.id}, &reply); err != nil {
		return nil, err
	}
	return &rpcPropagation{client: s.client, id: reply.PropagationID}, nil
}

func (s *rpcState) Close() error {
	var reply Empty
	return s.client.call(context.Background(), "CloseState", &CloseStateArgs{StateID: s.id}, &reply)
}

type rpcPropagation struct {
	client *engineRPCClient
	id     uint64
}

func (p *rpcPropagation) Next(ctx context.Context) (*FrameSegments, error) {
	var reply NextReply
	if err := p.client.call(ctx, "Next", &NextArgs{PropagationID: p.id}, &reply); err != nil {
		return nil, err
	}
	if reply.Done {
		return nil, io.EOF
	}
	return reply.Frame, nil
}

// restoreSentinel maps errors that crossed the RPC boundary as plain
// strings back onto the package sentinels so errors.Is keeps working
// on the host side.
func restoreSentinel(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrModelUnavailable,
		ErrNoFrames,
		ErrInvalidFrame,
		ErrInvalidPoints,
		ErrPropagationConsumed,
	} {
		if strings.Contains(err.Error(), sentinel.Error()) {
			return fmt.Errorf("%w: %s", sentinel, err.Error())
		}
	}
	return err
}
