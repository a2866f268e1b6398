// Package audit emits structured audit entries for relay state changes.
package audit

import (
	"context"

	applog "roomrelay/pkg/log"
)

// Audit actions.
const (
	ActionJoin          = "room.join"
	ActionLeave         = "room.leave"
	ActionMessage       = "message.send"
	ActionDelete        = "message.delete"
	ActionDeleteDenied  = "message.delete_denied"
	ActionRateLimited   = "message.rate_limited"
	ActionCityChange    = "participant.city_change"
	ActionDisconnect    = "connection.disconnect"
	ActionIdentityClash = "connection.identity_clash"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits an audit entry via the context logger.
func Log(ctx context.Context, action, username, room, msg string) {
	l := applog.Ctx(ctx)
	l.Info().
		Str(applog.FieldLogType, applog.LogTypeAudit).
		Str(FieldAction, action).
		Str(applog.FieldUsername, username).
		Str(applog.FieldRoom, room).
		Msg(msg)
}

// LogWithDetail is Log with an extra detail field.
func LogWithDetail(ctx context.Context, action, username, room, detail, msg string) {
	l := applog.Ctx(ctx)
	l.Info().
		Str(applog.FieldLogType, applog.LogTypeAudit).
		Str(FieldAction, action).
		Str(applog.FieldUsername, username).
		Str(applog.FieldRoom, room).
		Str(FieldDetail, detail).
		Msg(msg)
}
