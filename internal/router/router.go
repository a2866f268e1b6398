// Package router applies inbound relay events to shared state and fans the
// results out to connections.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"roomrelay/internal/audit"
	"roomrelay/internal/idgen"
	"roomrelay/internal/presence"
	"roomrelay/internal/websocket"
	"roomrelay/pkg/interfaces"
	applog "roomrelay/pkg/log"
	"roomrelay/pkg/types"
)

// Delivery scopes for message and messageUpdate.
const (
	DeliverySubscribed = "subscribed"
	DeliveryGlobal     = "global"
)

// Error texts sent to the originating connection.
const (
	MsgUserNotFound  = "User not found"
	MsgInvalidEvent  = "Invalid event"
	MsgStoreFailure  = "Message could not be saved"
	msgRateLimited   = "Rate limit exceeded. Please wait before sending more %s messages."
	msgAlreadyJoined = "Connection is already joined as %s"
	msgUnknownRoom   = "Unknown room: %s"
)

// Options configures a BroadcastRouter.
type Options struct {
	Rooms              []string
	Delivery           string
	DeletedPlaceholder string
	Limits             Limits
}

// Dependencies are the shared components the router drives.
type Dependencies struct {
	Registry  *websocket.Registry
	Presence  *presence.Tracker
	Directory interfaces.ParticipantDirectory
	Store     interfaces.MessageStore
	IDs       idgen.Generator
	Limiter   *RateLimiter
	Clock     func() time.Time
	Logger    zerolog.Logger
}

// BroadcastRouter implements interfaces.EventRouter. It expects to be called
// from one goroutine at a time; the hub guarantees that.
type BroadcastRouter struct {
	registry  *websocket.Registry
	presence  *presence.Tracker
	directory interfaces.ParticipantDirectory
	store     interfaces.MessageStore
	ids       idgen.Generator
	limiter   *RateLimiter
	now       func() time.Time
	logger    zerolog.Logger

	rooms       map[string]struct{}
	delivery    string
	placeholder string
}

// NewRouter builds a router. Missing optional dependencies get defaults.
func NewRouter(deps Dependencies, opts Options) *BroadcastRouter {
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Limiter == nil {
		limits := opts.Limits
		if limits.Window <= 0 {
			limits = DefaultLimits
		}
		deps.Limiter = NewRateLimiterWithClock(limits, deps.Clock)
	}
	if opts.Delivery == "" {
		opts.Delivery = DeliverySubscribed
	}
	if opts.DeletedPlaceholder == "" {
		opts.DeletedPlaceholder = types.DefaultDeletedPlaceholder
	}

	rooms := make(map[string]struct{}, len(opts.Rooms))
	for _, room := range opts.Rooms {
		rooms[room] = struct{}{}
	}

	return &BroadcastRouter{
		registry:    deps.Registry,
		presence:    deps.Presence,
		directory:   deps.Directory,
		store:       deps.Store,
		ids:         deps.IDs,
		limiter:     deps.Limiter,
		now:         deps.Clock,
		logger:      deps.Logger,
		rooms:       rooms,
		delivery:    opts.Delivery,
		placeholder: opts.DeletedPlaceholder,
	}
}

// Dispatch handles one inbound envelope from conn.
func (r *BroadcastRouter) Dispatch(ctx context.Context, conn interfaces.Connection, envelope types.Envelope) {
	ctx = r.withConnLogger(ctx, conn, envelope.Event)

	switch envelope.Event {
	case types.EventJoin:
		r.handleJoin(ctx, conn, envelope.Data)
	case types.EventMessage:
		r.handleMessage(ctx, conn, envelope.Data)
	case types.EventDeleteMessage:
		r.handleDelete(ctx, conn, envelope.Data)
	case types.EventLeave:
		r.handleLeave(ctx, conn, envelope.Data)
	default:
		r.reject(ctx, conn, ErrUnknownEvent, MsgInvalidEvent)
	}
}

func (r *BroadcastRouter) withConnLogger(ctx context.Context, conn interfaces.Connection, event string) context.Context {
	base, ok := applog.FromContext(ctx)
	if !ok {
		base = r.logger.With().Str(applog.FieldConnID, conn.ID()).Logger()
	}
	return applog.WithLogger(ctx, base.With().Str(applog.FieldEvent, event).Logger())
}

func (r *BroadcastRouter) handleJoin(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var p types.JoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(ctx, conn, MsgInvalidEvent)
		return
	}
	if err := p.Validate(); err != nil {
		r.sendError(ctx, conn, err.Error())
		return
	}
	if !r.knownRoom(p.Room) {
		r.reject(ctx, conn, ErrUnknownRoom, fmt.Sprintf(msgUnknownRoom, p.Room))
		return
	}

	name, err := r.registry.Bind(conn.ID(), p.Username)
	if errors.Is(err, websocket.ErrAlreadyBound) {
		audit.LogWithDetail(ctx, audit.ActionIdentityClash, name, p.Room, p.Username, "join under a second name rejected")
		r.reject(ctx, conn, ErrIdentityMismatch, fmt.Sprintf(msgAlreadyJoined, name))
		return
	}
	if err != nil {
		l := applog.Ctx(ctx)
		l.Warn().Err(err).Msg("join on unregistered connection")
		return
	}

	previous, existed := r.directory.Upsert(name, p.City)
	if existed && previous != p.City {
		audit.LogWithDetail(ctx, audit.ActionCityChange, name, p.Room, previous+" -> "+p.City, "participant city changed")
		r.broadcastAll(ctx, types.EventUserCityUpdate, types.CityUpdate{Username: name, City: p.City})
	}

	count := r.presence.Join(name, p.Room)
	r.registry.Subscribe(conn.ID(), p.Room, p.Section)

	history, err := r.store.History(ctx, p.Room, p.Section)
	if err != nil {
		l := applog.Ctx(ctx)
		l.Error().Err(err).Str(applog.FieldRoom, p.Room).Msg("failed to load history")
		history = []types.Message{}
	}
	r.send(ctx, conn, types.EventMessageHistory, history)

	audit.Log(ctx, audit.ActionJoin, name, p.Room, "participant joined")
	r.broadcastAll(ctx, types.EventRoomUpdate, types.RoomUpdate{Room: p.Room, UserCount: count})
}

func (r *BroadcastRouter) handleMessage(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var p types.MessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(ctx, conn, MsgInvalidEvent)
		return
	}
	p.Normalize()

	name, bound := r.registry.Identity(conn.ID())
	if !bound || (p.Username != "" && p.Username != name) {
		r.reject(ctx, conn, ErrUnknownUser, MsgUserNotFound)
		return
	}
	participant, ok := r.directory.Lookup(name)
	if !ok {
		r.reject(ctx, conn, ErrUnknownUser, MsgUserNotFound)
		return
	}

	if err := p.Validate(); err != nil {
		r.sendError(ctx, conn, err.Error())
		return
	}
	if !r.knownRoom(p.Room) {
		r.reject(ctx, conn, ErrUnknownRoom, fmt.Sprintf(msgUnknownRoom, p.Room))
		return
	}

	if !r.limiter.Admit(name, p.Type) {
		audit.LogWithDetail(ctx, audit.ActionRateLimited, name, p.Room, string(p.Type), "send rejected by rate limit")
		r.reject(ctx, conn, ErrRateLimitExceeded, fmt.Sprintf(msgRateLimited, p.Type))
		return
	}
	r.limiter.Record(name, p.Type)

	msg := types.Message{
		ID:        r.ids.Next(),
		Username:  name,
		Body:      p.Message,
		Timestamp: r.now().UnixMilli(),
		Room:      p.Room,
		Type:      p.Type,
		MediaURL:  p.MediaURL,
		Deleted:   false,
		UserCity:  participant.City,
		Section:   p.Section,
	}

	if err := r.store.Append(ctx, msg); err != nil {
		l := applog.Ctx(ctx)
		l.Error().Err(err).Str(applog.FieldMessageID, msg.ID).Msg("failed to store message")
		r.sendError(ctx, conn, MsgStoreFailure)
		return
	}

	audit.LogWithDetail(ctx, audit.ActionMessage, name, msg.Room, msg.ID, "message sent")

	r.fanOut(ctx, types.EventMessage, msg)
}

// handleDelete never reports failure to the requester.
func (r *BroadcastRouter) handleDelete(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	l := applog.Ctx(ctx)

	name, bound := r.registry.Identity(conn.ID())
	if !bound {
		l.Debug().Msg("delete from unbound connection dropped")
		return
	}

	var p types.DeletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		l.Debug().Err(err).Msg("undecodable delete dropped")
		return
	}
	if err := p.Validate(); err != nil {
		l.Debug().Err(err).Msg("invalid delete dropped")
		return
	}
	if p.Username != "" && p.Username != name {
		audit.LogWithDetail(ctx, audit.ActionDeleteDenied, name, p.Room, p.MessageID, "delete claimed another identity")
		return
	}

	updated, err := r.store.SoftDelete(ctx, p.Room, p.Section, p.MessageID, name, r.placeholder)
	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrForbidden):
		audit.LogWithDetail(ctx, audit.ActionDeleteDenied, name, p.Room, p.MessageID, "delete of another participant's message")
		return
	case errors.Is(err, interfaces.ErrMessageNotFound), errors.Is(err, interfaces.ErrAlreadyDeleted):
		l.Debug().Err(err).Str(applog.FieldMessageID, p.MessageID).Msg("delete had no effect")
		return
	default:
		l.Error().Err(err).Str(applog.FieldMessageID, p.MessageID).Msg("failed to delete message")
		return
	}

	audit.LogWithDetail(ctx, audit.ActionDelete, name, p.Room, p.MessageID, "message deleted")
	r.fanOut(ctx, types.EventMessageUpdate, updated)
}

func (r *BroadcastRouter) handleLeave(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	l := applog.Ctx(ctx)

	name, bound := r.registry.Identity(conn.ID())
	if !bound {
		l.Debug().Msg("leave from unbound connection ignored")
		return
	}

	var p types.LeavePayload
	if err := json.Unmarshal(data, &p); err != nil {
		r.sendError(ctx, conn, MsgInvalidEvent)
		return
	}
	if err := p.Validate(); err != nil {
		r.sendError(ctx, conn, err.Error())
		return
	}

	r.registry.Unsubscribe(conn.ID(), p.Room)

	count, present := r.presence.Leave(name, p.Room)
	if !present {
		return
	}
	audit.Log(ctx, audit.ActionLeave, name, p.Room, "participant left")
	r.broadcastAll(ctx, types.EventRoomUpdate, types.RoomUpdate{Room: p.Room, UserCount: count})
}

// Disconnect unregisters conn. Presence is cleared only when no other live
// connection is bound to the same name. The directory record is kept.
func (r *BroadcastRouter) Disconnect(ctx context.Context, conn interfaces.Connection) {
	ctx = r.withConnLogger(ctx, conn, "disconnect")
	l := applog.Ctx(ctx)

	name, existed := r.registry.Unregister(conn.ID())
	if !existed || name == "" {
		return
	}
	if r.registry.HasIdentity(name) {
		l.Debug().Str(applog.FieldUsername, name).Msg("identity still held by another connection")
		return
	}

	updates := r.presence.RemoveParticipant(name)
	audit.LogWithDetail(ctx, audit.ActionDisconnect, name, "", fmt.Sprintf("%d rooms", len(updates)), "participant disconnected")
	for _, update := range updates {
		r.broadcastAll(ctx, types.EventRoomUpdate, update)
	}
}

func (r *BroadcastRouter) knownRoom(room string) bool {
	_, ok := r.rooms[room]
	return ok
}

// fanOut delivers a message event according to the delivery scope.
func (r *BroadcastRouter) fanOut(ctx context.Context, event string, msg types.Message) {
	var recipients []interfaces.Connection
	if r.delivery == DeliveryGlobal {
		recipients = r.registry.Connections()
	} else {
		recipients = r.registry.Subscribers(msg.Room, msg.Section)
	}
	r.deliver(ctx, recipients, event, msg)
}

func (r *BroadcastRouter) broadcastAll(ctx context.Context, event string, data interface{}) {
	r.deliver(ctx, r.registry.Connections(), event, data)
}

// deliver is best effort: a failed write is logged and skipped.
func (r *BroadcastRouter) deliver(ctx context.Context, recipients []interfaces.Connection, event string, data interface{}) {
	frame := types.OutboundEnvelope{Event: event, Data: data}
	for _, conn := range recipients {
		if err := conn.WriteJSON(frame); err != nil {
			r.logWriteFailure(ctx, conn, event, err)
		}
	}
}

func (r *BroadcastRouter) send(ctx context.Context, conn interfaces.Connection, event string, data interface{}) {
	if err := conn.WriteJSON(types.OutboundEnvelope{Event: event, Data: data}); err != nil {
		r.logWriteFailure(ctx, conn, event, err)
	}
}

func (r *BroadcastRouter) reject(ctx context.Context, conn interfaces.Connection, cause error, message string) {
	l := applog.Ctx(ctx)
	l.Debug().Err(cause).Msg("event rejected")
	r.sendError(ctx, conn, message)
}

func (r *BroadcastRouter) sendError(ctx context.Context, conn interfaces.Connection, message string) {
	r.send(ctx, conn, types.EventError, types.ErrorPayload{Message: message})
}

func (r *BroadcastRouter) logWriteFailure(ctx context.Context, conn interfaces.Connection, event string, err error) {
	l := applog.Ctx(ctx)
	if errors.Is(err, websocket.ErrConnectionClosed) {
		l.Debug().Str("recipient", conn.ID()).Str("outbound_event", event).Msg("recipient already closed")
		return
	}
	l.Warn().Err(err).Str("recipient", conn.ID()).Str("outbound_event", event).Msg("failed to deliver event")
}
