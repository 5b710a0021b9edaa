package nms

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gugahnugraha/nms-client-go/nms/rest"
)

// MessageChannel sends and receives messages for threads and runs the
// per-message delivery/read state machine: Sent, then Delivered once the
// recipient's connection acks, then Read once the recipient opens the
// thread. Broadcast and group messages skip the explicit delivery ack and
// count as delivered on arrival.
type MessageChannel struct {
	rest     *rest.Client
	ledger   *UnreadLedger
	presence *PresenceTracker
	logger   Logger

	mu       sync.Mutex
	selfID   string
	open     ThreadKey
	ordered  map[string][]*Message // thread key -> arrival order
	byID     map[string]*Message   // message id -> message (de-dup index)
	lastErr  map[string]error      // thread key -> last send error
	openGen  int
	openStop context.CancelFunc
}

// NewMessageChannel builds the channel.
func NewMessageChannel(rc *rest.Client, ledger *UnreadLedger, presence *PresenceTracker, logger Logger) *MessageChannel {
	return &MessageChannel{
		rest:     rc,
		ledger:   ledger,
		presence: presence,
		logger:   logger,
		ordered:  map[string][]*Message{},
		byID:     map[string]*Message{},
		lastErr:  map[string]error{},
	}
}

// SetSelf records the local identity; incoming messages from others are
// the ones that get delivery receipts.
func (mc *MessageChannel) SetSelf(userID string) {
	mc.mu.Lock()
	mc.selfID = userID
	mc.mu.Unlock()
}

// Send validates and submits a message, then appends the result locally
// keyed by the server-assigned id. A later transport echo of the same id
// does not insert a duplicate. Failures are thread-scoped: they are
// recorded against the thread and returned, never broadcast globally.
func (mc *MessageChannel) Send(ctx context.Context, thread ThreadKey, text string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewError(CodeEmptyMessage, "message text is empty")
	}
	if thread.IsZero() {
		return nil, NewError(CodeNoThread, "no thread target")
	}

	info, err := mc.rest.SendMessage(ctx, rest.SendMessageRequest{
		ThreadKind: string(thread.Kind),
		ThreadID:   thread.ID,
		Text:       text,
	})
	if err != nil {
		sendErr := WrapError(CodeBadRequest, "send failed", err)
		mc.mu.Lock()
		mc.lastErr[thread.String()] = sendErr
		mc.mu.Unlock()
		return nil, sendErr
	}

	msg := messageFromInfo(info, thread)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	mc.mu.Lock()
	mc.selfIDFallbackLocked(msg)
	kept := mc.appendLocked(msg)
	delete(mc.lastErr, thread.String())
	mc.mu.Unlock()
	return kept, nil
}

// ReceiveIncoming handles a message:new transport event. Messages for the
// open thread join the visible list and, when addressed to the local
// identity, get a delivery receipt. Background-thread messages go to the
// unread ledger instead of the visible list.
func (mc *MessageChannel) ReceiveIncoming(msg Message) {
	mc.mu.Lock()
	selfID := mc.selfID
	isOpen := !mc.open.IsZero() && mc.open == msg.Thread
	var kept *Message
	if isOpen {
		kept = mc.appendLocked(&msg)
	}
	mc.mu.Unlock()

	if msg.Thread.Kind != ThreadDirect {
		// No explicit delivery ack for broadcast/group traffic.
		mc.markDeliveredLocally(msg.ID, msg.CreatedAt)
	}

	if isOpen {
		if msg.SenderID != selfID && msg.Thread.Kind == ThreadDirect && kept != nil {
			mc.ackDelivered(kept.ID)
		}
		return
	}

	mc.ledger.Increment(msg.Thread)
	if msg.SenderID != "" && !mc.presence.Online(msg.SenderID) {
		// Sender metadata may be missing from the directory; fetch lazily.
		mc.presence.fetchDirectory()
	}
}

// ApplyStatus advances a message's delivery/read state from a
// message:status event. Progression is monotonic: timestamps are only ever
// added, and a read mark implies a delivery mark.
func (mc *MessageChannel) ApplyStatus(ev MessageStatusEvent) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	msg, ok := mc.byID[ev.ID]
	if !ok {
		return
	}
	if ev.DeliveredAt != 0 && msg.DeliveredAt == 0 {
		msg.DeliveredAt = ev.DeliveredAt
	}
	if ev.ReadAt != 0 && msg.ReadAt == 0 {
		if msg.DeliveredAt == 0 {
			// A read implies delivery even when the ack was lost.
			msg.DeliveredAt = ev.ReadAt
		}
		msg.ReadAt = ev.ReadAt
	}
}

// OpenThread makes a thread current: history loads, every receivable
// message gets delivered+read marks (best-effort, per message, without
// blocking the view), and the thread's unread counter zeroes. A previous
// open's in-flight history fetch is abandoned.
func (mc *MessageChannel) OpenThread(ctx context.Context, thread ThreadKey) error {
	mc.mu.Lock()
	if mc.openStop != nil {
		mc.openStop()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	mc.openStop = cancel
	mc.open = thread
	mc.openGen++
	gen := mc.openGen
	selfID := mc.selfID
	mc.mu.Unlock()

	mc.ledger.SetOpen(thread)

	history, err := mc.rest.GetHistory(fetchCtx, thread.String(), 100)
	if err != nil {
		return WrapError(CodeBadRequest, "history load failed", err)
	}

	mc.mu.Lock()
	if mc.openGen != gen || mc.open != thread {
		// The user moved on while the fetch was in flight; discard.
		mc.mu.Unlock()
		return nil
	}
	var toMark []string
	now := time.Now().UnixMilli()
	for i := range history.Messages {
		msg := messageFromInfo(&history.Messages[i], thread)
		kept := mc.appendLocked(msg)
		if kept.SenderID != selfID && kept.ReadAt == 0 {
			if kept.DeliveredAt == 0 {
				kept.DeliveredAt = now
			}
			kept.ReadAt = now
			toMark = append(toMark, kept.ID)
		}
	}
	mc.mu.Unlock()

	for _, id := range toMark {
		mc.ackRead(id)
	}
	return nil
}

// Clear removes the local view of a thread's history. The clear is
// asymmetric: the other party's copy survives on the server.
func (mc *MessageChannel) Clear(ctx context.Context, thread ThreadKey) error {
	if err := mc.rest.ClearThread(ctx, thread.String()); err != nil {
		return WrapError(CodeBadRequest, "clear failed", err)
	}
	mc.mu.Lock()
	key := thread.String()
	for _, msg := range mc.ordered[key] {
		delete(mc.byID, msg.ID)
	}
	delete(mc.ordered, key)
	delete(mc.lastErr, key)
	mc.mu.Unlock()
	return nil
}

// CloseThread clears the open flag; incoming messages for the thread count
// as unread again.
func (mc *MessageChannel) CloseThread() {
	mc.mu.Lock()
	if mc.openStop != nil {
		mc.openStop()
		mc.openStop = nil
	}
	mc.open = ThreadKey{}
	mc.mu.Unlock()
	mc.ledger.ClearOpen()
}

// Messages returns a snapshot of a thread's visible messages in arrival
// order.
func (mc *MessageChannel) Messages(thread ThreadKey) []Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	list := mc.ordered[thread.String()]
	out := make([]Message, 0, len(list))
	for _, m := range list {
		out = append(out, *m)
	}
	return out
}

// LastError returns the most recent send error for a thread, if any.
func (mc *MessageChannel) LastError(thread ThreadKey) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lastErr[thread.String()]
}

// appendLocked inserts a message unless its id is already present, in
// which case the existing entry is kept and returned. This is what keeps
// the optimistic append and the server echo from producing two entries.
func (mc *MessageChannel) appendLocked(msg *Message) *Message {
	if existing, ok := mc.byID[msg.ID]; ok {
		return existing
	}
	mc.byID[msg.ID] = msg
	key := msg.Thread.String()
	mc.ordered[key] = append(mc.ordered[key], msg)
	return msg
}

func (mc *MessageChannel) selfIDFallbackLocked(msg *Message) {
	if msg.SenderID == "" {
		msg.SenderID = mc.selfID
	}
}

// markDeliveredLocally stamps a delivery time without a receipt round-trip.
func (mc *MessageChannel) markDeliveredLocally(id string, at int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if msg, ok := mc.byID[id]; ok && msg.DeliveredAt == 0 {
		if at == 0 {
			at = time.Now().UnixMilli()
		}
		msg.DeliveredAt = at
	}
}

// ackDelivered posts a delivery receipt. Best-effort: failures are logged
// and swallowed, never blocking message display.
func (mc *MessageChannel) ackDelivered(id string) {
	mc.markDeliveredLocally(id, 0)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mc.rest.MarkDelivered(ctx, id); err != nil {
			mc.logger.Debug("delivery receipt failed", map[string]any{"id": id, "error": err.Error()})
		}
	}()
}

// ackRead posts a read receipt. Best-effort, same as ackDelivered.
func (mc *MessageChannel) ackRead(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mc.rest.MarkRead(ctx, id); err != nil {
			mc.logger.Debug("read receipt failed", map[string]any{"id": id, "error": err.Error()})
		}
	}()
}

func messageFromInfo(info *rest.MessageInfo, fallback ThreadKey) *Message {
	thread := ThreadKey{Kind: ThreadKind(info.ThreadKind), ID: info.ThreadID}
	if thread.IsZero() {
		thread = fallback
	}
	return &Message{
		ID:          info.ID,
		Thread:      thread,
		SenderID:    info.SenderID,
		Text:        info.Text,
		CreatedAt:   info.CreatedAt,
		DeliveredAt: info.DeliveredAt,
		ReadAt:      info.ReadAt,
	}
}
