package ws

import (
	"github.com/warroomhq/warroom/internal/bus"
	"github.com/warroomhq/warroom/internal/locks"
)

// LockEventBroadcaster adapts lock manager transitions into sync-channel
// broadcasts. Grants surface as note-editing and every release path,
// explicit, disconnect or TTL sweep, surfaces as note-edit-done. The
// socket that caused the transition is excluded; sweep events carry no
// initiator and reach the whole room.
func LockEventBroadcaster(b *bus.Bus) func(locks.Event) {
	return func(ev locks.Event) {
		msgType := "note-editing"
		if ev.Type == locks.EventReleased {
			msgType = "note-edit-done"
		}
		msg := map[string]any{
			"type":     msgType,
			"tabId":    ev.Key.TabID,
			"noteId":   ev.Key.NoteID,
			"nickname": ev.Nickname,
		}
		except := b.ClientByToken(ev.Key.RoomID, ev.ExceptToken)
		b.Broadcast(ev.Key.RoomID, msg, except)
	}
}
