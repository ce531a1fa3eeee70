package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/identity"
	"ecliptix/internal/log"
	protocol "ecliptix/internal/protocol/channel"
	"ecliptix/internal/securemem"
)

// establishPollInterval is how often EstablishChannel re-checks the relay
// for the responder's reply.
const establishPollInterval = 200 * time.Millisecond

// channelRecord is what the state store holds per connection, CBOR-encoded
// and sealed: the peer's relay name and the channel snapshot.
type channelRecord struct {
	Peer  domain.Username `cbor:"peer"`
	State []byte          `cbor:"state"`
}

// Service drives handshakes and message flow between the local endpoint and
// its peers over the relay.
//
// High-level flow:
//   - EstablishChannel: open a key exchange, post it, poll the relay until
//     the responder's reply arrives, then finalize.
//   - Send: seal plaintext on the channel, persist the advanced ratchet
//     state, then post the envelope.
//   - Receive: collect queued envelopes in order, answer handshakes and
//     decrypt cipher payloads, then ack what was handled.
//
// Channel state is snapshotted after every state-changing step and written
// to the state store sealed under a key derived from the local identity, so
// an endpoint can restart and pick up its conversations.
type Service struct {
	me     domain.Username
	system *protocol.System
	states domain.StateStore
	relay  domain.RelayClient
	logger *logging.Logger

	sealKey *securemem.Handle

	mu     sync.Mutex
	peers  map[domain.ConnectID]domain.Username
	inbox  []domain.DecryptedMessage
	closed bool
}

// New constructs a channel Service for the given identity, stores and relay
// client. rotateEvery configures ratchet key rotation on new channels; zero
// means the default interval.
func New(
	me domain.Username,
	keys *identity.Keys,
	states domain.StateStore,
	relay domain.RelayClient,
	backend *log.Backend,
	rotateEvery uint64,
) (*Service, error) {
	if me == "" {
		return nil, failure.New(failure.InvalidInput, "empty username")
	}
	sealKey, err := deriveSealKey(keys)
	if err != nil {
		return nil, err
	}
	return &Service{
		me:      me,
		system:  protocol.NewSystem(keys, rotateEvery),
		states:  states,
		relay:   relay,
		logger:  backend.GetLogger("channel"),
		sealKey: sealKey,
		peers:   make(map[domain.ConnectID]domain.Username),
	}, nil
}

// EstablishChannel runs the initiator side of the key exchange with peer.
//
// It posts the opening message, then polls the relay until the responder's
// reply for this connection arrives or ctx expires. Envelopes queued ahead
// of the reply are handled exactly as in Receive; any messages decrypted
// along the way surface on the next Receive call.
func (s *Service) EstablishChannel(ctx context.Context, connect domain.ConnectID, peer domain.Username) error {
	if peer == "" {
		return failure.New(failure.InvalidInput, "empty peer")
	}
	msg, err := s.system.BeginKeyExchange(connect, domain.ExchangeDataCenterEphemeral)
	if err != nil {
		return err
	}
	s.bindPeer(connect, peer)

	env := domain.RelayEnvelope{From: s.me, To: peer, ConnectID: connect, Handshake: &msg}
	if err := s.relay.Post(ctx, env); err != nil {
		return fmt.Errorf("post handshake to %q: %w", peer, err)
	}
	s.logger.Debugf("connection %s: handshake sent to %q, waiting for reply", connect, peer)

	ticker := time.NewTicker(establishPollInterval)
	defer ticker.Stop()
	for {
		done, err := s.collectReply(ctx, connect, peer)
		if err != nil {
			return err
		}
		if done {
			s.logger.Infof("connection %s: established with %q (%s)", connect, peer, s.system.PeerFingerprint(connect))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for handshake reply from %q: %w", peer, ctx.Err())
		case <-ticker.C:
		}
	}
}

// collectReply walks the queue once looking for the responder's reply. It
// returns true once the reply has been consumed and the exchange finalized.
func (s *Service) collectReply(ctx context.Context, connect domain.ConnectID, peer domain.Username) (bool, error) {
	envs, err := s.relay.Collect(ctx, s.me, 0)
	if err != nil {
		return false, fmt.Errorf("collect: %w", err)
	}
	processed := 0
	for i := range envs {
		env := &envs[i]
		if env.Handshake != nil && env.Handshake.State == domain.StatePending &&
			env.ConnectID == connect && env.From == peer {
			ferr := s.system.FinalizeKeyExchange(connect, env.Handshake)
			if ferr == nil {
				if perr := s.persist(connect); perr != nil {
					s.logger.Errorf("connection %s: saving state: %v", connect, perr)
				}
			}
			// The reply is consumed either way; a bad one cannot succeed on
			// a retry because finalizing resets the exchange.
			if aerr := s.relay.Ack(ctx, s.me, i+1); aerr != nil {
				s.logger.Errorf("ack %d envelopes: %v", i+1, aerr)
			}
			return ferr == nil, ferr
		}
		msg, derr := s.dispatch(ctx, env)
		if msg != nil {
			s.pushInbox(*msg)
		}
		if derr != nil {
			if processed > 0 {
				if aerr := s.relay.Ack(ctx, s.me, processed); aerr != nil {
					s.logger.Errorf("ack %d envelopes: %v", processed, aerr)
				}
			}
			return false, derr
		}
		processed = i + 1
	}
	if processed > 0 {
		if err := s.relay.Ack(ctx, s.me, processed); err != nil {
			return false, fmt.Errorf("ack %d envelopes: %w", processed, err)
		}
	}
	return false, nil
}

// RestoreChannel rebuilds an established channel from its sealed snapshot in
// the state store.
func (s *Service) RestoreChannel(ctx context.Context, connect domain.ConnectID) error {
	sealed, ok, err := s.states.LoadState(connect)
	if err != nil {
		return err
	}
	if !ok {
		return failure.Newf(failure.StateMissing, "no stored state for connection %s", connect)
	}
	plain, err := s.openSealed(connect, sealed)
	if err != nil {
		return err
	}
	var rec channelRecord
	uerr := cbor.Unmarshal(plain, &rec)
	securemem.Wipe(plain)
	if uerr != nil {
		return failure.Wrap(failure.Decode, "decode channel record", uerr)
	}
	if rec.Peer == "" {
		securemem.Wipe(rec.State)
		return failure.New(failure.Decode, "channel record has no peer")
	}
	if err := s.system.RestoreChannel(connect, rec.State); err != nil {
		return err
	}
	s.bindPeer(connect, rec.Peer)
	s.logger.Infof("connection %s: restored channel with %q", connect, rec.Peer)
	return nil
}

// Send encrypts plaintext on the channel and posts it to the relay. When the
// channel is not in memory but a snapshot exists, it is restored first.
//
// The advanced ratchet state is persisted before the envelope is posted so a
// crash between the two can never reuse a message key.
func (s *Service) Send(ctx context.Context, connect domain.ConnectID, plaintext []byte) error {
	p, err := s.system.ProduceOutboundMessage(connect, plaintext)
	if failure.Is(err, failure.StateMissing) {
		if rerr := s.RestoreChannel(ctx, connect); rerr == nil {
			p, err = s.system.ProduceOutboundMessage(connect, plaintext)
		}
	}
	if err != nil {
		return err
	}
	peer, ok := s.peer(connect)
	if !ok {
		return failure.Newf(failure.StateMissing, "no peer bound to connection %s", connect)
	}
	if err := s.persist(connect); err != nil {
		return err
	}
	env := domain.RelayEnvelope{From: s.me, To: peer, ConnectID: connect, Cipher: p}
	if err := s.relay.Post(ctx, env); err != nil {
		return fmt.Errorf("post message to %q: %w", peer, err)
	}
	return nil
}

// Receive collects queued envelopes in order, answering handshakes and
// decrypting cipher payloads. Only fully handled envelopes are acked;
// envelopes that fail protocol checks are dropped with a warning so one bad
// frame cannot wedge the mailbox.
func (s *Service) Receive(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	out := s.drainInbox()
	envs, err := s.relay.Collect(ctx, s.me, limit)
	if err != nil {
		return out, fmt.Errorf("collect: %w", err)
	}
	processed := 0
	for i := range envs {
		msg, derr := s.dispatch(ctx, &envs[i])
		if msg != nil {
			out = append(out, *msg)
		}
		if derr != nil {
			if processed > 0 {
				if aerr := s.relay.Ack(ctx, s.me, processed); aerr != nil {
					s.logger.Errorf("ack %d envelopes: %v", processed, aerr)
				}
			}
			return out, derr
		}
		processed = i + 1
	}
	if processed > 0 {
		if err := s.relay.Ack(ctx, s.me, processed); err != nil {
			return out, fmt.Errorf("ack %d envelopes: %w", processed, err)
		}
	}
	return out, nil
}

// dispatch handles one envelope. It returns a message for cipher payloads
// that decrypted, nil for handshakes and dropped envelopes, and an error
// only for infrastructure faults that should stop the batch.
func (s *Service) dispatch(ctx context.Context, env *domain.RelayEnvelope) (*domain.DecryptedMessage, error) {
	switch {
	case env.Handshake != nil:
		return nil, s.dispatchHandshake(ctx, env)
	case env.Cipher != nil:
		return s.dispatchCipher(ctx, env)
	default:
		s.logger.Warningf("connection %s: dropping empty envelope %s from %q", env.ConnectID, env.ID, env.From)
		return nil, nil
	}
}

func (s *Service) dispatchHandshake(ctx context.Context, env *domain.RelayEnvelope) error {
	switch env.Handshake.State {
	case domain.StateInit:
		reply, err := s.system.RespondKeyExchange(env.ConnectID, env.Handshake)
		if err != nil {
			if _, ok := failure.KindOf(err); ok {
				s.logger.Warningf("connection %s: dropping handshake from %q: %v", env.ConnectID, env.From, err)
				return nil
			}
			return err
		}
		s.bindPeer(env.ConnectID, env.From)
		// Persist before the reply goes out: if the post fails the envelope
		// stays queued and the whole exchange is redone from a clean slate.
		if err := s.persist(env.ConnectID); err != nil {
			return err
		}
		renv := domain.RelayEnvelope{From: s.me, To: env.From, ConnectID: env.ConnectID, Handshake: &reply}
		if err := s.relay.Post(ctx, renv); err != nil {
			return fmt.Errorf("post handshake reply to %q: %w", env.From, err)
		}
		s.logger.Infof("connection %s: answered handshake from %q (%s)", env.ConnectID, env.From, s.system.PeerFingerprint(env.ConnectID))
		return nil

	case domain.StatePending:
		// EstablishChannel consumes replies inline, so one seen here is
		// almost always a stale duplicate.
		if s.system.State(env.ConnectID) != domain.StatePending {
			s.logger.Warningf("connection %s: dropping stale handshake reply from %q", env.ConnectID, env.From)
			return nil
		}
		if err := s.system.FinalizeKeyExchange(env.ConnectID, env.Handshake); err != nil {
			if _, ok := failure.KindOf(err); ok {
				s.logger.Warningf("connection %s: dropping handshake reply from %q: %v", env.ConnectID, env.From, err)
				return nil
			}
			return err
		}
		s.bindPeer(env.ConnectID, env.From)
		if err := s.persist(env.ConnectID); err != nil {
			s.logger.Errorf("connection %s: saving state: %v", env.ConnectID, err)
		}
		return nil

	default:
		s.logger.Warningf("connection %s: dropping handshake in state %s from %q", env.ConnectID, env.Handshake.State, env.From)
		return nil
	}
}

func (s *Service) dispatchCipher(ctx context.Context, env *domain.RelayEnvelope) (*domain.DecryptedMessage, error) {
	plaintext, err := s.system.ProcessInboundMessage(env.ConnectID, env.Cipher)
	if failure.Is(err, failure.StateMissing) {
		// The channel may live only in the state store after a restart.
		if rerr := s.RestoreChannel(ctx, env.ConnectID); rerr == nil {
			plaintext, err = s.system.ProcessInboundMessage(env.ConnectID, env.Cipher)
		}
	}
	if err != nil {
		if _, ok := failure.KindOf(err); ok {
			s.logger.Warningf("connection %s: dropping envelope %s from %q: %v", env.ConnectID, env.ID, env.From, err)
			return nil, nil
		}
		return nil, err
	}
	s.bindPeer(env.ConnectID, env.From)
	// A failed save leaves a stale snapshot on disk; the next successful
	// save heals it, so the message is still delivered.
	if err := s.persist(env.ConnectID); err != nil {
		s.logger.Errorf("connection %s: saving state: %v", env.ConnectID, err)
	}
	return &domain.DecryptedMessage{
		From:      env.From,
		ConnectID: env.ConnectID,
		Plaintext: plaintext,
		CreatedAt: env.Cipher.CreatedAt,
	}, nil
}

// Close snapshots every established channel, tears the system down and
// disposes the sealing key. The service is unusable afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	connects := make([]domain.ConnectID, 0, len(s.peers))
	for c := range s.peers {
		connects = append(connects, c)
	}
	s.mu.Unlock()

	var firstErr error
	for _, c := range connects {
		if s.system.State(c) != domain.StateComplete {
			continue
		}
		if err := s.persist(c); err != nil {
			s.logger.Errorf("connection %s: saving state on close: %v", c, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.system.Close()
	s.sealKey.Dispose()
	return firstErr
}

// persist snapshots the connection's channel, seals it together with the
// peer binding and writes it to the state store.
func (s *Service) persist(connect domain.ConnectID) error {
	peer, ok := s.peer(connect)
	if !ok {
		return failure.Newf(failure.StateMissing, "no peer bound to connection %s", connect)
	}
	snap, err := s.system.SnapshotChannel(connect)
	if err != nil {
		return err
	}
	plain, merr := cbor.Marshal(channelRecord{Peer: peer, State: snap})
	securemem.Wipe(snap)
	if merr != nil {
		return failure.Wrap(failure.Decode, "encode channel record", merr)
	}
	sealed, serr := s.sealRecord(connect, plain)
	securemem.Wipe(plain)
	if serr != nil {
		return serr
	}
	return s.states.SaveState(connect, sealed)
}

func (s *Service) bindPeer(connect domain.ConnectID, peer domain.Username) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.peers[connect] = peer
}

func (s *Service) peer(connect domain.ConnectID) (domain.Username, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[connect]
	return p, ok
}

func (s *Service) pushInbox(msg domain.DecryptedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, msg)
}

func (s *Service) drainInbox() []domain.DecryptedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inbox
	s.inbox = nil
	return out
}

// Compile-time assertion that Service implements domain.ChannelService.
var _ domain.ChannelService = (*Service)(nil)
