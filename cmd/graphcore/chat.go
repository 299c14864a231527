package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	dataloader "github.com/hanpama/graphcore/internal/dataloader"
	execctx "github.com/hanpama/graphcore/internal/execctx"
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	resolver "github.com/hanpama/graphcore/internal/resolver"
	subscription "github.com/hanpama/graphcore/internal/subscription"
)

const chatSDL = `
type Query {
  rooms: [Room!]!
  room(id: ID!): Room
}

type Mutation {
  postMessage(room: ID!, body: String!): Message!
}

type Subscription {
  messageAdded: Message
}

type Room {
  id: ID!
  name: String!
  messages(first: Int = 20): [Message!]!
}

type Message {
  id: ID!
  body: String!
  author: String
  room: Room
}
`

const (
	roomsLoader    = "rooms"
	pubsubService  = "pubsub"
	messageChannel = "messageAdded"
)

type room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type message struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
	Body   string `json:"body"`
	Author string `json:"author,omitempty"`
}

// chatStore keeps rooms and their messages in memory.
type chatStore struct {
	mu       sync.RWMutex
	rooms    []*room
	messages map[string][]*message
	nextID   int
}

func newChatStore() *chatStore {
	return &chatStore{
		rooms: []*room{
			{ID: "general", Name: "General"},
			{ID: "random", Name: "Random"},
		},
		messages: make(map[string][]*message),
	}
}

func (s *chatStore) room(id string) *room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *chatStore) loadRooms(_ context.Context, ids []string) ([]*room, error) {
	out := make([]*room, len(ids))
	for i, id := range ids {
		out[i] = s.room(id)
	}
	return out, nil
}

func (s *chatStore) post(roomID, body, author string) (*message, error) {
	if s.room(roomID) == nil {
		return nil, &gqlerrors.NotFoundError{Kind: "Room", Name: roomID}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m := &message{ID: strconv.Itoa(s.nextID), RoomID: roomID, Body: body, Author: author}
	s.messages[roomID] = append(s.messages[roomID], m)
	return m, nil
}

func (s *chatStore) latest(roomID string, n int) []*message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[roomID]
	if n >= 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]*message, len(msgs))
	copy(out, msgs)
	return out
}

// registerLoaders installs the request-scoped loaders of the chat schema.
func (s *chatStore) registerLoaders(ec *execctx.ExecutionContext) {
	ec.Loaders.RegisterFactory(roomsLoader, func() (dataloader.Flusher, error) {
		return dataloader.New(s.loadRooms, dataloader.WithName(roomsLoader)), nil
	})
}

func principalName(ctx context.Context) string {
	if ec := execctx.FromContext(ctx); ec != nil {
		if name, ok := ec.Principal.(string); ok {
			return name
		}
	}
	return ""
}

// resolvers wires the chat schema onto a resolver registry.
func (s *chatStore) resolvers(r *resolver.Registry) {
	r.Field("Query", "rooms", func(context.Context, resolver.Params) (any, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return append([]*room(nil), s.rooms...), nil
	})
	r.Field("Query", "room", func(_ context.Context, p resolver.Params) (any, error) {
		if rm := s.room(p.Args["id"].(string)); rm != nil {
			return rm, nil
		}
		return nil, nil
	})
	r.Field("Room", "messages", func(_ context.Context, p resolver.Params) (any, error) {
		first, ok := p.Args["first"].(int)
		if !ok {
			first = 20
		}
		return s.latest(p.Source.(*room).ID, first), nil
	})
	r.Batched("Message", "room", func(ctx context.Context, p resolver.Params) (any, error) {
		l, err := execctx.Loader[string, *room](ctx, roomsLoader)
		if err != nil {
			return nil, err
		}
		id, _ := resolver.Property(p.Source, "roomId").(string)
		return l.LoadPromise(id), nil
	})
	r.Field("Mutation", "postMessage", func(ctx context.Context, p resolver.Params) (any, error) {
		author := principalName(ctx)
		if author == "" {
			return nil, &gqlerrors.AuthorizationError{Message: "posting requires a user"}
		}
		m, err := s.post(p.Args["room"].(string), p.Args["body"].(string), author)
		if err != nil {
			return nil, err
		}
		ps, ok := execctx.Service[subscription.PubSub](ctx, pubsubService)
		if !ok {
			return nil, errors.New("pubsub service not configured")
		}
		if err := ps.Publish(ctx, messageChannel, m); err != nil {
			return nil, fmt.Errorf("publish message: %w", err)
		}
		return m, nil
	})
}
