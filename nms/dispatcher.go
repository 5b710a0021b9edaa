package nms

import "sync"

// Subscription is a handle to a registered event callback. Unsubscribe is
// idempotent. Registration is handle-based so re-running an initialization
// path cannot silently attach the same handler twice.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the callback. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Dispatcher decodes server frames once, at the transport boundary, and
// routes the typed events to subscribers.
type Dispatcher struct {
	mu     sync.Mutex
	nextID int

	onPresenceOnline  map[int]func(PresenceEvent)
	onPresenceOffline map[int]func(PresenceEvent)
	onPresenceList    map[int]func(PresenceListEvent)
	onMessage         map[int]func(MessageEvent)
	onMessageStatus   map[int]func(MessageStatusEvent)
	onError           map[int]func(error)
}

func (d *Dispatcher) subscribe(register func(id int), unregister func(id int)) *Subscription {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	register(id)
	d.mu.Unlock()
	return &Subscription{cancel: func() {
		d.mu.Lock()
		unregister(id)
		d.mu.Unlock()
	}}
}

// SubscribePresenceOnline registers a callback for presence:online events.
func (d *Dispatcher) SubscribePresenceOnline(fn func(PresenceEvent)) *Subscription {
	return d.subscribe(
		func(id int) {
			if d.onPresenceOnline == nil {
				d.onPresenceOnline = map[int]func(PresenceEvent){}
			}
			d.onPresenceOnline[id] = fn
		},
		func(id int) { delete(d.onPresenceOnline, id) },
	)
}

// SubscribePresenceOffline registers a callback for presence:offline events.
func (d *Dispatcher) SubscribePresenceOffline(fn func(PresenceEvent)) *Subscription {
	return d.subscribe(
		func(id int) {
			if d.onPresenceOffline == nil {
				d.onPresenceOffline = map[int]func(PresenceEvent){}
			}
			d.onPresenceOffline[id] = fn
		},
		func(id int) { delete(d.onPresenceOffline, id) },
	)
}

// SubscribePresenceList registers a callback for presence:list snapshots.
func (d *Dispatcher) SubscribePresenceList(fn func(PresenceListEvent)) *Subscription {
	return d.subscribe(
		func(id int) {
			if d.onPresenceList == nil {
				d.onPresenceList = map[int]func(PresenceListEvent){}
			}
			d.onPresenceList[id] = fn
		},
		func(id int) { delete(d.onPresenceList, id) },
	)
}

// SubscribeMessages registers a callback for message:new events.
func (d *Dispatcher) SubscribeMessages(fn func(MessageEvent)) *Subscription {
	return d.subscribe(
		func(id int) {
			if d.onMessage == nil {
				d.onMessage = map[int]func(MessageEvent){}
			}
			d.onMessage[id] = fn
		},
		func(id int) { delete(d.onMessage, id) },
	)
}

// SubscribeMessageStatus registers a callback for message:status events.
func (d *Dispatcher) SubscribeMessageStatus(fn func(MessageStatusEvent)) *Subscription {
	return d.subscribe(
		func(id int) {
			if d.onMessageStatus == nil {
				d.onMessageStatus = map[int]func(MessageStatusEvent){}
			}
			d.onMessageStatus[id] = fn
		},
		func(id int) { delete(d.onMessageStatus, id) },
	)
}

// SubscribeErrors registers a callback for protocol and decode errors.
func (d *Dispatcher) SubscribeErrors(fn func(error)) *Subscription {
	return d.subscribe(
		func(id int) {
			if d.onError == nil {
				d.onError = map[int]func(error){}
			}
			d.onError[id] = fn
		},
		func(id int) { delete(d.onError, id) },
	)
}

// Dispatch decodes and routes one server frame.
func (d *Dispatcher) Dispatch(out Outbound) {
	if out.Type == outboundError && out.Error != nil {
		d.fireError(FromProtocolError(out.Error))
		return
	}
	switch out.Event {
	case eventPresenceOnline:
		var ev PresenceEvent
		if err := UnmarshalData(out.Data, &ev); err != nil {
			d.fireError(WrapError(CodeSerialization, "failed to unmarshal presence:online event", err))
			return
		}
		for _, fn := range d.presenceOnlineHandlers() {
			fn(ev)
		}
	case eventPresenceOffline:
		var ev PresenceEvent
		if err := UnmarshalData(out.Data, &ev); err != nil {
			d.fireError(WrapError(CodeSerialization, "failed to unmarshal presence:offline event", err))
			return
		}
		for _, fn := range d.presenceOfflineHandlers() {
			fn(ev)
		}
	case eventPresenceList:
		var ev PresenceListEvent
		if err := UnmarshalData(out.Data, &ev); err != nil {
			d.fireError(WrapError(CodeSerialization, "failed to unmarshal presence:list event", err))
			return
		}
		for _, fn := range d.presenceListHandlers() {
			fn(ev)
		}
	case eventMessageNew:
		var ev MessageEvent
		if err := UnmarshalData(out.Data, &ev); err != nil {
			d.fireError(WrapError(CodeSerialization, "failed to unmarshal message:new event", err))
			return
		}
		for _, fn := range d.messageHandlers() {
			fn(ev)
		}
	case eventMessageStatus:
		var ev MessageStatusEvent
		if err := UnmarshalData(out.Data, &ev); err != nil {
			d.fireError(WrapError(CodeSerialization, "failed to unmarshal message:status event", err))
			return
		}
		for _, fn := range d.messageStatusHandlers() {
			fn(ev)
		}
	}
}

func (d *Dispatcher) presenceOnlineHandlers() []func(PresenceEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]func(PresenceEvent), 0, len(d.onPresenceOnline))
	for _, fn := range d.onPresenceOnline {
		out = append(out, fn)
	}
	return out
}

func (d *Dispatcher) presenceOfflineHandlers() []func(PresenceEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]func(PresenceEvent), 0, len(d.onPresenceOffline))
	for _, fn := range d.onPresenceOffline {
		out = append(out, fn)
	}
	return out
}

func (d *Dispatcher) presenceListHandlers() []func(PresenceListEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]func(PresenceListEvent), 0, len(d.onPresenceList))
	for _, fn := range d.onPresenceList {
		out = append(out, fn)
	}
	return out
}

func (d *Dispatcher) messageHandlers() []func(MessageEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]func(MessageEvent), 0, len(d.onMessage))
	for _, fn := range d.onMessage {
		out = append(out, fn)
	}
	return out
}

func (d *Dispatcher) messageStatusHandlers() []func(MessageStatusEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]func(MessageStatusEvent), 0, len(d.onMessageStatus))
	for _, fn := range d.onMessageStatus {
		out = append(out, fn)
	}
	return out
}

func (d *Dispatcher) fireError(err error) {
	if err == nil {
		return
	}
	d.mu.Lock()
	fns := make([]func(error), 0, len(d.onError))
	for _, fn := range d.onError {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
