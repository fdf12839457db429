package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/asmogo/nostrelay/relayurl"
	"github.com/asmogo/nostrelay/runtime"
	"github.com/asmogo/nostrelay/transport"
)

// PublishOutcome is the result of Publish.
type PublishOutcome struct {
	Accepted bool
	Reason   string
}

// outgoing pairs a wire frame with a completion notifier, the core unit
// the outbound pump serves from its MPSC queue.
type outgoing struct {
	frame []byte
	done  chan error
}

type pendingPublish struct {
	result chan PublishOutcome
}

// Relay drives one WebSocket connection to a single Nostr relay through a
// state machine: connect, reconnect with backoff, inbound and outbound
// pumps, subscription bookkeeping and NIP-42 AUTH.
type Relay struct {
	url          relayurl.RelayUrl
	rt           runtime.Runtime
	transport    Transport
	signer       Signer // nil if none configured
	database     Database
	admitPolicy  AdmitPolicy // nil if none configured
	capabilities Capabilities
	options      Options

	authLock *AuthLock
	logger   *slog.Logger

	stateMu sync.Mutex
	state   State

	streamMu sync.Mutex
	stream   *transport.Stream

	subs             *xsync.MapOf[string, *Subscription]
	pendingPublishes *xsync.MapOf[string, *pendingPublish]

	outboundCh chan outgoing

	lastSeen      atomic.Int64 // unix nanos
	latencyNanos  atomic.Int64 // exponential moving average, nanoseconds
	backoffExp    atomic.Int32
	connectedAt   atomic.Int64 // unix nanos, zero if not connected
	lastChallenge atomic.Value // string

	pumpCancel context.CancelFunc
	runCancel  context.CancelFunc

	Notices chan string
}

// newRelay builds a Relay in the Initialized state. Used only by Builder.
func newRelay(url relayurl.RelayUrl, rt runtime.Runtime, tr Transport, signer Signer, db Database, admit AdmitPolicy, caps Capabilities, opts Options) *Relay {
	return &Relay{
		url:              url,
		rt:               rt,
		transport:        tr,
		signer:           signer,
		database:         db,
		admitPolicy:      admit,
		capabilities:     caps,
		options:          opts,
		authLock:         NewAuthLock(),
		logger:           slog.Default().With("relay", url.String()),
		state:            StateInitialized,
		subs:             xsync.NewMapOf[string, *Subscription](),
		pendingPublishes: xsync.NewMapOf[string, *pendingPublish](),
		outboundCh:       make(chan outgoing, 64),
		Notices:          make(chan string, 16),
	}
}

// URL returns the relay's canonical address.
func (r *Relay) URL() relayurl.RelayUrl { return r.url }

// State returns the current FSM state.
func (r *Relay) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *Relay) setState(s State) bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if !canTransition(r.state, s) {
		return false
	}
	r.state = s
	return true
}

// Connect performs the first connection attempt and, if it succeeds,
// starts the reconnect supervisor that owns every subsequent attempt.
// If the first attempt fails and reconnect is enabled, Connect still
// returns the error but the supervisor keeps retrying in the background.
func (r *Relay) Connect(ctx context.Context) error {
	if !r.setState(StatePending) {
		return fmt.Errorf("relay: connect called from state %s", r.State())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.runCancel = cancel

	err := r.attemptConnect(ctx)
	if err != nil && !r.options.Reconnect {
		r.setState(StateTerminated)
		cancel()
		return err
	}

	r.rt.Spawn(func(context.Context) { r.supervise(runCtx) })
	return err
}

// attemptConnect performs exactly one connect attempt: Pending/Disconnected
// -> Connecting -> Connected (or -> Disconnected on a transport failure, or
// -> Terminated when the admit policy rejects the connection).
func (r *Relay) attemptConnect(ctx context.Context) error {
	if !r.setState(StateConnecting) {
		return fmt.Errorf("relay: cannot connect from state %s", r.State())
	}

	connectCtx, cancel := context.WithTimeout(ctx, r.options.ConnectionTimeout)
	defer cancel()

	stream, err := r.transport.Connect(connectCtx, r.url)
	if err != nil {
		r.setState(StateDisconnected)
		return fmt.Errorf("relay: connect: %w", err)
	}

	if r.admitPolicy != nil {
		decision := r.admitPolicy.AdmitConnection(r.url)
		if !decision.Allowed {
			r.setState(StateTerminated)
			return fmt.Errorf("relay: connection rejected by admit policy: %s", decision.Reason)
		}
	}

	if !r.setState(StateConnected) {
		return fmt.Errorf("relay: cannot finalize connect from state %s", r.State())
	}

	r.streamMu.Lock()
	r.stream = stream
	r.streamMu.Unlock()

	r.connectedAt.Store(time.Now().UnixNano())
	r.lastSeen.Store(time.Now().UnixNano())

	pumpCtx, pumpCancel := context.WithCancel(ctx)
	r.pumpCancel = pumpCancel

	sink, source := stream.Split()
	r.rt.Spawn(func(context.Context) { r.inboundPump(pumpCtx, source) })
	r.rt.Spawn(func(context.Context) { r.outboundPump(pumpCtx, sink) })
	if r.transport.SupportPing() && r.options.PingInterval > 0 {
		r.rt.Spawn(func(context.Context) { r.keepalive(pumpCtx) })
	}

	r.resubscribeAll(pumpCtx)
	return nil
}

// supervise owns the reconnect loop: on Disconnected, wait the backoff
// delay then attempt to reconnect, forever, until Terminated.
func (r *Relay) supervise(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if r.State() != StateDisconnected {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		if !r.options.Reconnect {
			r.setState(StateTerminated)
			return
		}

		delay := r.nextBackoff()
		if err := r.rt.Sleep(ctx, delay); err != nil {
			return
		}

		if r.State() != StateDisconnected {
			// disconnect() moved us to Terminated, or a race reconnected us
			// already; either way there's nothing for this tick to do.
			continue
		}

		if err := r.attemptConnect(ctx); err != nil {
			r.logger.Warn("reconnect attempt failed", "error", err)
			continue
		}
		r.logger.Info("reconnected")
	}
}

// nextBackoff computes the exponential-with-full-jitter delay and advances
// the exponent.
func (r *Relay) nextBackoff() time.Duration {
	n := r.backoffExp.Add(1) - 1
	maxBackoff := r.options.MaxBackoff
	base := r.options.InitialBackoff << uint(min32(n, 32))
	if base <= 0 || base > maxBackoff {
		base = maxBackoff
	}

	if r.options.AdjustRetryInterval && time.Duration(r.latencyNanos.Load()) > r.options.MaxAvgLatency {
		base *= 2
		if base > maxBackoff {
			base = maxBackoff
		}
	}

	return time.Duration(rand.Int63n(int64(base) + 1))
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// resetBackoffIfHealthy clears the backoff exponent once a connection has
// survived minHealthy.
func (r *Relay) resetBackoffIfHealthy() {
	connectedAt := r.connectedAt.Load()
	if connectedAt == 0 {
		return
	}
	if time.Since(time.Unix(0, connectedAt)) >= minHealthy {
		r.backoffExp.Store(0)
	}
}

// Disconnect transitions the relay to Terminated: sends a WebSocket close
// frame, cancels both pumps and the supervisor, and fails every pending
// publish with Cancelled.
func (r *Relay) Disconnect() {
	r.stateMu.Lock()
	r.state = StateTerminated
	r.stateMu.Unlock()

	r.streamMu.Lock()
	stream := r.stream
	r.streamMu.Unlock()
	if stream != nil {
		sink, _ := stream.Split()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = sink.Send(ctx, transport.NewClose(nil))
		cancel()
	}

	if r.pumpCancel != nil {
		r.pumpCancel()
	}
	if r.runCancel != nil {
		r.runCancel()
	}

	r.pendingPublishes.Range(func(id string, p *pendingPublish) bool {
		select {
		case p.result <- PublishOutcome{Accepted: false, Reason: ErrCancelled.Error()}:
		default:
		}
		return true
	})
}

// inboundPump reads frames until error or close, dispatching by command.
func (r *Relay) inboundPump(ctx context.Context, source transport.Source) {
	for {
		msg, err := source.Recv(ctx)
		if err != nil {
			if transport.IsPolicyViolation(err) {
				r.logger.Warn("message size limit exceeded, terminating", "error", err)
			} else {
				r.logger.Debug("inbound pump exiting", "error", err)
			}
			r.handleDisconnect()
			return
		}
		r.lastSeen.Store(time.Now().UnixNano())

		switch msg.Kind {
		case transport.KindPing:
			r.enqueueControlPong(msg.Data())
		case transport.KindPong, transport.KindBinary:
			// nothing further to do; last-seen already updated.
		case transport.KindClose:
			r.handleDisconnect()
			return
		case transport.KindText:
			text, _ := msg.Text()
			r.dispatchFrame(ctx, text)
		}
	}
}

func (r *Relay) handleDisconnect() {
	if r.State() == StateTerminated {
		return
	}
	r.setState(StateDisconnected)
	if r.pumpCancel != nil {
		r.pumpCancel()
	}
}

func (r *Relay) enqueueControlPong(payload []byte) {
	pong, err := transport.NewPong(payload)
	if err != nil {
		return
	}
	r.streamMu.Lock()
	stream := r.stream
	r.streamMu.Unlock()
	if stream == nil {
		return
	}
	sink, _ := stream.Split()
	ctx, cancel := context.WithTimeout(context.Background(), r.options.SendTimeout)
	defer cancel()
	_ = sink.Send(ctx, pong)
}

// dispatchFrame parses one NIP-01 JSON array frame and routes it, mirroring
// the tagged-array decoding idiom nbd-wtf/go-nostr clients use.
func (r *Relay) dispatchFrame(ctx context.Context, text string) {
	if len(text) == 0 || text[0] != '[' {
		return
	}
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(text), &parts); err != nil || len(parts) < 2 {
		return
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return
	}

	switch label {
	case "EVENT":
		r.handleEvent(ctx, parts)
	case "EOSE":
		r.handleEose(parts)
	case "CLOSED":
		r.handleClosed(parts)
	case "OK":
		r.handleOK(parts)
	case "NOTICE":
		r.handleNotice(parts)
	case "AUTH":
		r.handleAuthChallenge(ctx, parts)
	default:
		r.logger.Debug("ignoring unrecognised frame", "label", label)
	}
}

func (r *Relay) handleEvent(_ context.Context, parts []json.RawMessage) {
	if len(parts) < 3 {
		return
	}
	var subID string
	if err := json.Unmarshal(parts[1], &subID); err != nil {
		return
	}
	sub, ok := r.subs.Load(subID)
	if !ok {
		return
	}
	var ev nostr.Event
	if err := json.Unmarshal(parts[2], &ev); err != nil {
		return
	}
	if ok, err := ev.CheckSignature(); !ok {
		r.logger.Warn("bad event signature", "id", ev.ID, "error", err)
		return
	}
	if r.admitPolicy != nil {
		if decision := r.admitPolicy.AdmitEvent(r.url, &ev); !decision.Allowed {
			return
		}
	}
	if r.database != nil {
		_ = r.database.SaveEvent(context.Background(), &ev)
	}
	if !sub.Matches(&ev) {
		return
	}
	sub.deliver(&ev)
}

func (r *Relay) handleEose(parts []json.RawMessage) {
	if len(parts) < 2 {
		return
	}
	var subID string
	if err := json.Unmarshal(parts[1], &subID); err != nil {
		return
	}
	if sub, ok := r.subs.Load(subID); ok {
		sub.markEose(time.Now())
	}
}

func (r *Relay) handleClosed(parts []json.RawMessage) {
	if len(parts) < 3 {
		return
	}
	var subID, reason string
	_ = json.Unmarshal(parts[1], &subID)
	_ = json.Unmarshal(parts[2], &reason)
	if sub, ok := r.subs.LoadAndDelete(subID); ok {
		sub.SetStatus(SubClosed)
		select {
		case sub.Closed <- reason:
		default:
		}
	}
}

func (r *Relay) handleOK(parts []json.RawMessage) {
	if len(parts) < 3 {
		return
	}
	var eventID string
	var accepted bool
	var reason string
	_ = json.Unmarshal(parts[1], &eventID)
	_ = json.Unmarshal(parts[2], &accepted)
	if len(parts) > 3 {
		_ = json.Unmarshal(parts[3], &reason)
	}
	if pending, ok := r.pendingPublishes.LoadAndDelete(eventID); ok {
		select {
		case pending.result <- PublishOutcome{Accepted: accepted, Reason: reason}:
		default:
		}
	}
}

func (r *Relay) handleNotice(parts []json.RawMessage) {
	var msg string
	_ = json.Unmarshal(parts[1], &msg)
	select {
	case r.Notices <- msg:
	default:
	}
}

func (r *Relay) handleAuthChallenge(ctx context.Context, parts []json.RawMessage) {
	var challenge string
	if err := json.Unmarshal(parts[1], &challenge); err != nil {
		return
	}
	r.lastChallenge.Store(challenge)
	if r.signer == nil {
		r.logger.Warn("auth challenge received but no signer installed", "challenge", challenge)
		return
	}
	// performAuth blocks awaiting the OK this same AUTH produces, and that
	// OK can only be delivered by inboundPump -- the goroutine currently
	// running this handler. Running it inline would deadlock the pump
	// against its own response, so it goes out on a separate goroutine.
	r.rt.Spawn(func(context.Context) {
		authCtx, cancel := context.WithTimeout(ctx, r.options.SendTimeout)
		defer cancel()
		if err := r.performAuth(authCtx, challenge); err != nil {
			r.logger.Warn("auth flow failed", "error", err)
		}
	})
}

// kindClientAuth is the NIP-42 AUTH event kind.
const kindClientAuth = 22242

// NewAuthEvent builds the unsigned NIP-42 AUTH event binding relayURL and
// challenge: kind 22242, tags [["relay", relayURL], ["challenge",
// challenge]], empty content.
func NewAuthEvent(relayURL, challenge string) nostr.Event {
	return nostr.Event{
		Kind: kindClientAuth,
		Tags: nostr.Tags{
			nostr.Tag{"relay", relayURL},
			nostr.Tag{"challenge", challenge},
		},
		Content: "",
	}
}

// performAuth runs the full NIP-42 round trip under the auth guard: build,
// sign, send, await OK, release.
func (r *Relay) performAuth(ctx context.Context, challenge string) error {
	if r.signer == nil {
		return ErrNoSigner
	}
	unsigned := NewAuthEvent(r.url.String(), challenge)
	signed, err := r.signer.SignEvent(ctx, unsigned)
	if err != nil {
		return fmt.Errorf("relay: sign auth event: %w", err)
	}

	guard, err := r.authLock.AcquireAuthGuard(ctx)
	if err != nil {
		return fmt.Errorf("relay: acquire auth guard: %w", err)
	}
	defer guard.Release()

	frame, err := json.Marshal([]interface{}{"AUTH", signed})
	if err != nil {
		return fmt.Errorf("relay: marshal auth frame: %w", err)
	}

	pending := &pendingPublish{result: make(chan PublishOutcome, 1)}
	r.pendingPublishes.Store(signed.ID, pending)
	defer r.pendingPublishes.Delete(signed.ID)

	if err := r.writeFrameLocked(ctx, frame); err != nil {
		return fmt.Errorf("relay: send auth frame: %w", err)
	}

	select {
	case outcome := <-pending.result:
		if !outcome.Accepted {
			return &AuthFailedError{Reason: outcome.Reason}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeFrameLocked sends a pre-marshalled frame directly to the sink,
// bypassing the outbound queue. Used for AUTH, which must go out while the
// caller already holds the auth guard (enqueuing would deadlock against the
// outbound pump's own permit acquisition).
func (r *Relay) writeFrameLocked(ctx context.Context, frame []byte) error {
	r.streamMu.Lock()
	stream := r.stream
	r.streamMu.Unlock()
	if stream == nil {
		return ErrNotConnected
	}
	sink, _ := stream.Split()
	msg, err := transport.NewText(string(frame))
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, r.options.SendTimeout)
	defer cancel()
	return sink.Send(sendCtx, msg)
}

// outboundPump serves the per-connection send queue: every item acquires a
// message permit from the auth-lock before hitting the wire, and respects
// send_timeout.
func (r *Relay) outboundPump(ctx context.Context, sink transport.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-r.outboundCh:
			if item.frame == nil {
				continue
			}
			err := r.sendFrame(ctx, sink, item.frame)
			if item.done != nil {
				item.done <- err
			}
			if err != nil {
				r.handleDisconnect()
				return
			}
		}
	}
}

func (r *Relay) sendFrame(ctx context.Context, sink transport.Sink, frame []byte) error {
	permit, err := r.authLock.AcquireMessagePermit(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()

	msg, err := transport.NewText(string(frame))
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.options.SendTimeout)
	defer cancel()

	start := time.Now()
	err = sink.Send(sendCtx, msg)
	r.observeLatency(time.Since(start))
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimedOut
	}
	return err
}

func (r *Relay) observeLatency(d time.Duration) {
	prev := time.Duration(r.latencyNanos.Load())
	if prev == 0 {
		r.latencyNanos.Store(int64(d))
		return
	}
	next := prev - prev/8 + d/8 // exponential moving average, 1/8 weight
	r.latencyNanos.Store(int64(next))
}

// keepalive periodically pings while the connection is up and transitions
// to Disconnected if no frame has been seen within 2*ping_interval.
func (r *Relay) keepalive(ctx context.Context) {
	ticker := time.NewTicker(r.options.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, r.lastSeen.Load())) > 2*r.options.PingInterval {
				r.handleDisconnect()
				return
			}
			r.streamMu.Lock()
			stream := r.stream
			r.streamMu.Unlock()
			if stream == nil {
				continue
			}
			sink, _ := stream.Split()
			ping, err := transport.NewPing(nil)
			if err != nil {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, r.options.SendTimeout)
			_ = sink.Send(sendCtx, ping)
			cancel()
			r.resetBackoffIfHealthy()
		}
	}
}

// enqueueFrame pushes frame onto the outbound queue and waits for the send
// to finish (success or error) or for ctx to end.
func (r *Relay) enqueueFrame(ctx context.Context, frame []byte) error {
	if r.State() != StateConnected {
		return ErrNotConnected
	}
	done := make(chan error, 1)
	select {
	case r.outboundCh <- outgoing{frame: frame, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers filters under a fresh subscription id and sends REQ.
func (r *Relay) Subscribe(ctx context.Context, filters nostr.Filters, policy ExitPolicy) (*Subscription, error) {
	if !r.capabilities.Read {
		return nil, ErrCapabilityDenied
	}
	if max := r.options.Limits.MaxSubscriptions; max > 0 && r.subs.Size() >= max {
		return nil, fmt.Errorf("relay: subscription limit of %d reached", max)
	}
	sub := NewSubscription(uuid.NewString(), filters, policy)
	r.subs.Store(sub.ID, sub)

	if err := r.sendReq(ctx, sub); err != nil {
		r.subs.Delete(sub.ID)
		return nil, err
	}
	return sub, nil
}

func (r *Relay) sendReq(ctx context.Context, sub *Subscription) error {
	payload := []interface{}{"REQ", sub.ID}
	for _, f := range sub.Filters {
		payload = append(payload, f)
	}
	frame, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay: marshal REQ: %w", err)
	}
	return r.enqueueFrame(ctx, frame)
}

// Unsubscribe sends CLOSE and removes the local entry. The drop path always
// emits CLOSE before removing the table entry, never after Terminated.
func (r *Relay) Unsubscribe(ctx context.Context, id string) error {
	sub, ok := r.subs.Load(id)
	if !ok {
		return nil
	}
	defer r.subs.Delete(id)
	sub.SetStatus(SubClosed)
	if r.State() == StateTerminated {
		return nil
	}
	frame, err := json.Marshal([]interface{}{"CLOSE", id})
	if err != nil {
		return err
	}
	return r.enqueueFrame(ctx, frame)
}

// resubscribeAll re-issues REQ verbatim for every still-open subscription,
// called when the FSM enters Connected after a reconnect.
func (r *Relay) resubscribeAll(ctx context.Context) {
	r.subs.Range(func(_ string, sub *Subscription) bool {
		if sub.Status() == SubClosed {
			return true
		}
		if err := r.sendReq(ctx, sub); err != nil {
			r.logger.Warn("resubscribe failed", "subscription", sub.ID, "error", err)
		}
		return true
	})
}

// Publish sends EVENT and awaits the matching OK up to send_timeout. If the
// relay demands auth first, Publish performs one AUTH round trip and
// retries once before giving up and returning the rejection as-is.
func (r *Relay) Publish(ctx context.Context, ev nostr.Event) (PublishOutcome, error) {
	if !r.capabilities.Write {
		return PublishOutcome{}, ErrCapabilityDenied
	}

	outcome, err := r.publishOnce(ctx, ev)
	if err == nil && !outcome.Accepted && isAuthRequired(outcome.Reason) {
		challenge, _ := r.lastChallenge.Load().(string)
		if r.signer != nil && challenge != "" {
			if authErr := r.performAuth(ctx, challenge); authErr == nil {
				return r.publishOnce(ctx, ev)
			}
			return outcome, &AuthFailedError{Reason: "retry after auth-required failed"}
		}
	}
	return outcome, err
}

func isAuthRequired(reason string) bool {
	return len(reason) >= len("auth-required:") && reason[:len("auth-required:")] == "auth-required:"
}

func (r *Relay) publishOnce(ctx context.Context, ev nostr.Event) (PublishOutcome, error) {
	frame, err := json.Marshal([]interface{}{"EVENT", ev})
	if err != nil {
		return PublishOutcome{}, fmt.Errorf("relay: marshal EVENT: %w", err)
	}

	pending := &pendingPublish{result: make(chan PublishOutcome, 1)}
	r.pendingPublishes.Store(ev.ID, pending)
	defer r.pendingPublishes.Delete(ev.ID)

	sendCtx, cancel := context.WithTimeout(ctx, r.options.SendTimeout)
	defer cancel()

	if err := r.enqueueFrame(sendCtx, frame); err != nil {
		return PublishOutcome{}, err
	}

	select {
	case outcome := <-pending.result:
		return outcome, nil
	case <-sendCtx.Done():
		return PublishOutcome{}, ErrTimedOut
	}
}
