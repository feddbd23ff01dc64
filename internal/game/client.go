package game

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ascension-relay/innkeeper/internal/codec"
	"github.com/ascension-relay/innkeeper/internal/realm"
)

// Periodic intervals the steady-state loop runs on.
const (
	KeepAliveInterval     = 30 * time.Second
	PingInterval          = 30 * time.Second
	RosterRefreshInterval = 60 * time.Second
	pendingSweepInterval  = 5 * time.Second

	authStepTimeout   = 10 * time.Second
	logoutWaitTimeout = 5 * time.Second

	// addonInfoSize is the fixed width of the zeroed ADDON_INFO blob the
	// client appends to AUTH_SESSION.
	addonInfoSize = 685
)

var (
	// ErrNotInWorld is returned by SendChat outside the InWorld phase.
	ErrNotInWorld = errors.New("game: not in world")
	// ErrCharacterNotFound marks CHAR_ENUM not containing the configured
	// character name.
	ErrCharacterNotFound = errors.New("game: character not found")
	// ErrProtocolViolation marks an opcode or phase sequencing that
	// violates the expected handshake order.
	ErrProtocolViolation = errors.New("game: protocol violation")
)

// ClientConfig carries the identity needed to complete the post-realm
// handshake and select a character.
type ClientConfig struct {
	Build     uint16
	Account   string
	Character string
}

// character is a CHAR_ENUM roster entry.
type character struct {
	GUID  uint64
	Name  string
	Level uint8
}

// Client drives the long-lived game-server session: handshake, steady-state
// dispatch, and periodic keepalive/ping/roster work.
type Client struct {
	conn   net.Conn
	cfg    ClientConfig
	key    realm.SessionKey
	logger *slog.Logger

	mu    sync.RWMutex
	phase Phase

	sendMu sync.Mutex

	nameCache *NameCache
	pending   *PendingByGuid
	roster    *Roster

	pingSeq      atomic.Uint32
	lastPingSent atomic.Int64 // unix nano
	lastLatency  atomic.Int64 // nanoseconds

	// OnChatMessage fires once a message's SenderName is resolved. For
	// whispers, TargetName is filled only when the target GUID is already in
	// the name cache; no NAME_QUERY is sent for it.
	OnChatMessage func(ChatMessage)
	// OnGuildEvent fires for each parsed GUILD_EVENT.
	OnGuildEvent func(GuildEvent)
	// OnRosterEvent fires for the online/offline diff computed on each
	// GUILD_ROSTER refresh.
	OnRosterEvent func(GuildEvent)
	// OnPhaseChange fires on every phase transition.
	OnPhaseChange func(Phase)
	// OnServerText fires for SERVER_MESSAGE, NOTIFICATION and MOTD.
	OnServerText func(kind, text string)
	// OnWhisperFailed fires when CHAT_PLAYER_NOT_FOUND is received.
	OnWhisperFailed func(guid uint64)
}

// NewClient wraps an authenticated TCP connection. key is the session key
// produced by realm.Client.Authenticate.
func NewClient(conn net.Conn, cfg ClientConfig, key realm.SessionKey, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:      conn,
		cfg:       cfg,
		key:       key,
		logger:    logger.With("component", "game"),
		phase:     Connecting,
		nameCache: NewNameCache(DefaultNameCacheCapacity),
		pending:   NewPendingByGuid(),
		roster:    NewRoster(),
	}
}

// Phase returns the current connection phase.
func (c *Client) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

func (c *Client) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	c.logger.Info("phase transition", "phase", p.String())
	if c.OnPhaseChange != nil {
		c.OnPhaseChange(p)
	}
}

// Latency returns the last measured round-trip ping time.
func (c *Client) Latency() time.Duration {
	return time.Duration(c.lastLatency.Load())
}

// NameCache exposes the GUID-to-name cache to the bridge layer.
func (c *Client) NameCache() *NameCache { return c.nameCache }

// Roster exposes the current guild roster snapshot.
func (c *Client) Roster() *Roster { return c.roster }

// Run performs the post-realm handshake and then blocks, running the
// steady-state dispatch and periodic loops until ctx is cancelled or an
// unrecoverable error occurs.
func (c *Client) Run(ctx context.Context) error {
	if err := c.handshake(ctx); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return c.readLoop(gctx) })
	group.Go(func() error { return c.keepAliveLoop(gctx) })
	group.Go(func() error { return c.pingLoop(gctx) })
	group.Go(func() error { return c.rosterRefreshLoop(gctx) })
	group.Go(func() error { return c.pendingSweepLoop(gctx) })

	// readLoop blocks in a plain conn.Read with no deadline; closing the
	// connection is the only way to unblock it once the caller cancels ctx.
	go func() {
		<-gctx.Done()
		_ = c.conn.Close()
	}()

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) handshake(ctx context.Context) error {
	c.setPhase(AwaitingAuthChallenge)
	c.applyDeadline(ctx, authStepTimeout)

	serverSeed, err := c.recvAuthChallenge()
	if err != nil {
		return fmt.Errorf("game: recv auth challenge: %w", err)
	}

	c.setPhase(Authenticating)
	c.applyDeadline(ctx, authStepTimeout)
	clientSeed := make([]byte, 4)
	if _, err := rand.Read(clientSeed); err != nil {
		return fmt.Errorf("game: generating client seed: %w", err)
	}
	if err := c.sendAuthSession(clientSeed, serverSeed); err != nil {
		return fmt.Errorf("game: send auth session: %w", err)
	}

	if err := c.recvAuthResponse(); err != nil {
		return err
	}

	c.setPhase(AwaitingCharEnum)
	c.applyDeadline(ctx, authStepTimeout)
	if err := c.sendFrame(OpCharEnum, nil); err != nil {
		return fmt.Errorf("game: send char enum request: %w", err)
	}
	chosen, err := c.recvCharEnum()
	if err != nil {
		return err
	}

	c.setPhase(LoggingIn)
	c.applyDeadline(ctx, authStepTimeout)
	if err := c.sendPlayerLogin(chosen.GUID); err != nil {
		return fmt.Errorf("game: send player login: %w", err)
	}
	if err := c.recvLoginVerifyWorld(); err != nil {
		return err
	}

	c.conn.SetDeadline(time.Time{})
	c.setPhase(InWorld)
	return nil
}

func (c *Client) applyDeadline(ctx context.Context, fallback time.Duration) {
	deadline := time.Now().Add(fallback)
	if ctxDeadline, has := ctx.Deadline(); has && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = c.conn.SetDeadline(deadline)
}

// --- handshake wire steps ---

func (c *Client) recvAuthChallenge() (serverSeed []byte, err error) {
	pkt, err := codec.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if pkt.Opcode != uint16(OpAuthChallenge) {
		return nil, fmt.Errorf("%w: expected AUTH_CHALLENGE, got 0x%04x", ErrProtocolViolation, pkt.Opcode)
	}
	cur := codec.NewCursor(pkt.Payload)
	seed, err := cur.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, seed...), nil
}

func (c *Client) sendAuthSession(clientSeed, serverSeed []byte) error {
	digest := authSessionDigest(c.cfg.Account, clientSeed, serverSeed, c.key)

	var buf bytes.Buffer
	var buildBytes [4]byte
	binary.LittleEndian.PutUint32(buildBytes[:], uint32(c.cfg.Build))
	buf.Write(buildBytes[:])

	buf.Write([]byte{0, 0, 0, 0}) // login server id, unused

	buf.WriteString(c.cfg.Account)
	buf.WriteByte(0)

	buf.Write([]byte{0, 0, 0, 0}) // login server type, unused
	buf.Write(clientSeed)
	buf.Write(digest)

	var addonSize [4]byte
	binary.LittleEndian.PutUint32(addonSize[:], addonInfoSize)
	buf.Write(addonSize[:])
	buf.Write(make([]byte, addonInfoSize))

	return c.sendFrame(OpAuthSession, buf.Bytes())
}

// authSessionDigest computes the SHA-1 proof the server checks against its
// own copy of the session key: account name,
// both seeds, and the 40-byte session key, in that order.
func authSessionDigest(account string, clientSeed, serverSeed []byte, key realm.SessionKey) []byte {
	h := sha1.New()
	h.Write([]byte(account))
	h.Write(clientSeed)
	h.Write(serverSeed)
	h.Write(key[:])
	return h.Sum(nil)
}

func (c *Client) recvAuthResponse() error {
	pkt, err := codec.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	if pkt.Opcode != uint16(OpAuthResponse) {
		return fmt.Errorf("%w: expected AUTH_RESPONSE, got 0x%04x", ErrProtocolViolation, pkt.Opcode)
	}
	cur := codec.NewCursor(pkt.Payload)
	resultByte, err := cur.ReadByte()
	if err != nil {
		return err
	}
	result := AuthResultCode(resultByte)
	if result != AuthResultOK {
		return &AuthSessionError{Code: result}
	}
	return nil
}

// AuthSessionError wraps a non-OK AUTH_RESPONSE result code.
type AuthSessionError struct {
	Code AuthResultCode
}

func (e *AuthSessionError) Error() string {
	return fmt.Sprintf("game: auth session rejected: code=0x%02x", byte(e.Code))
}

func (c *Client) recvCharEnum() (*character, error) {
	pkt, err := codec.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if pkt.Opcode != uint16(OpCharEnum) {
		return nil, fmt.Errorf("%w: expected CHAR_ENUM, got 0x%04x", ErrProtocolViolation, pkt.Opcode)
	}

	cur := codec.NewCursor(pkt.Payload)
	count, err := cur.ReadByte()
	if err != nil {
		return nil, err
	}

	var chosen *character
	for i := byte(0); i < count; i++ {
		guid, err := cur.ReadUint64LE()
		if err != nil {
			return nil, err
		}
		name, err := cur.ReadCString(64)
		if err != nil {
			return nil, err
		}
		level, err := cur.ReadByte()
		if err != nil {
			return nil, err
		}
		if equalFoldASCII(name, c.cfg.Character) {
			chosen = &character{GUID: guid, Name: name, Level: level}
		}
	}

	if chosen == nil {
		return nil, ErrCharacterNotFound
	}
	return chosen, nil
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (c *Client) sendPlayerLogin(guid uint64) error {
	var buf bytes.Buffer
	var guidBytes [8]byte
	binary.LittleEndian.PutUint64(guidBytes[:], guid)
	buf.Write(guidBytes[:])
	return c.sendFrame(OpPlayerLogin, buf.Bytes())
}

func (c *Client) recvLoginVerifyWorld() error {
	pkt, err := codec.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	if pkt.Opcode != uint16(OpLoginVerifyWorld) {
		return fmt.Errorf("%w: expected LOGIN_VERIFY_WORLD, got 0x%04x", ErrProtocolViolation, pkt.Opcode)
	}
	return nil
}

// --- steady state ---

func (c *Client) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pkt, err := codec.ReadFrame(c.conn)
		if err != nil {
			if ctx.Err() != nil || c.Phase() == Draining || c.Phase() == Closed {
				return ctx.Err()
			}
			return fmt.Errorf("game: read frame: %w", err)
		}
		if err := c.dispatch(ctx, pkt); err != nil {
			var malformed *codec.MalformedPacketError
			if errors.As(err, &malformed) {
				c.logger.Warn("dropping malformed packet", "opcode", pkt.Opcode, "error", err)
				continue
			}
			c.logger.Error("dispatch error", "opcode", pkt.Opcode, "error", err)
		}
	}
}

// dispatch handles one steady-state inbound opcode.
func (c *Client) dispatch(ctx context.Context, pkt *codec.Packet) error {
	switch Opcode(pkt.Opcode) {
	case OpTimeSyncReq:
		return c.handleTimeSyncReq(pkt.Payload)

	case OpMessageChat, OpGMMessageChat:
		return c.handleMessageChat(pkt.Payload)

	case OpNameQueryReply:
		return c.handleNameQueryReply(pkt.Payload)

	case OpChannelNotify:
		c.logger.Debug("channel notify", "bytes", len(pkt.Payload))
		return nil

	case OpNotification:
		return c.handleServerText("notification", pkt.Payload)

	case OpServerMessage:
		return c.handleServerText("server_message", pkt.Payload)

	case OpMotd:
		return c.handleMotd(pkt.Payload)

	case OpInvalidatePlayer:
		return c.handleInvalidatePlayer(pkt.Payload)

	case OpGuildQueryReply:
		return c.handleGuildQueryReply(pkt.Payload)

	case OpGuildRoster:
		return c.handleGuildRoster(pkt.Payload)

	case OpGuildEvent:
		return c.handleGuildEvent(pkt.Payload)

	case OpChatPlayerNotFound:
		return c.handleChatPlayerNotFound(pkt.Payload)

	case OpPong:
		return c.handlePong(pkt.Payload)

	case OpLogoutComplete:
		c.setPhase(Closed)
		return nil

	case OpUpdateObject, OpInitWorldStates:
		// Consumed and skipped: this client never tracks world object state.
		return nil

	default:
		c.logger.Debug("unhandled opcode", "opcode", fmt.Sprintf("0x%04x", pkt.Opcode))
		return nil
	}
}

func (c *Client) handleTimeSyncReq(payload []byte) error {
	cur := codec.NewCursor(payload)
	counter, err := cur.ReadUint32LE()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	var counterBytes, ticksBytes [4]byte
	binary.LittleEndian.PutUint32(counterBytes[:], counter)
	binary.LittleEndian.PutUint32(ticksBytes[:], uint32(time.Now().UnixMilli()))
	buf.Write(counterBytes[:])
	buf.Write(ticksBytes[:])
	return c.sendFrame(OpTimeSyncResp, buf.Bytes())
}

func (c *Client) handleMessageChat(payload []byte) error {
	msg, err := ParseMessageChat(payload)
	if err != nil {
		return err
	}
	c.resolveAndEmit(*msg)
	return nil
}

// resolveAndEmit fills in SenderName (and TargetName for whispers) from the
// name cache, deferring the emit and issuing NAME_QUERY when unresolved.
func (c *Client) resolveAndEmit(msg ChatMessage) {
	now := time.Now()

	if name, ok := c.nameCache.Get(msg.SenderGUID); ok {
		msg.SenderName = name
	} else {
		shouldQuery, dropped := c.pending.Enqueue(msg, now)
		if dropped {
			c.logger.Warn("pending queue full, dropped oldest message", "guid", msg.SenderGUID)
		}
		if shouldQuery {
			if err := c.sendNameQuery(msg.SenderGUID); err != nil {
				c.logger.Error("send name query failed", "guid", msg.SenderGUID, "error", err)
			}
		}
		return
	}

	if msg.Type.hasTargetGUID() && msg.TargetGUID != 0 {
		if name, ok := c.nameCache.Get(msg.TargetGUID); ok {
			msg.TargetName = name
		}
	}

	if c.OnChatMessage != nil {
		c.OnChatMessage(msg)
	}
}

func (c *Client) sendNameQuery(guid uint64) error {
	var buf bytes.Buffer
	var guidBytes [8]byte
	binary.LittleEndian.PutUint64(guidBytes[:], guid)
	buf.Write(guidBytes[:])
	return c.sendFrame(OpNameQuery, buf.Bytes())
}

func (c *Client) handleNameQueryReply(payload []byte) error {
	cur := codec.NewCursor(payload)
	guid, err := cur.ReadUint64LE()
	if err != nil {
		return err
	}
	found, err := cur.ReadByte()
	if err != nil {
		return err
	}
	if found == 0 {
		c.pending.Drain(guid)
		return nil
	}
	name, err := cur.ReadCString(64)
	if err != nil {
		return err
	}

	c.nameCache.Put(guid, name)
	for _, queued := range c.pending.Drain(guid) {
		c.resolveAndEmit(queued)
	}
	return nil
}

func (c *Client) handleServerText(kind string, payload []byte) error {
	cur := codec.NewCursor(payload)
	text, err := cur.ReadCString(512)
	if err != nil {
		return err
	}
	if c.OnServerText != nil {
		c.OnServerText(kind, text)
	}
	return nil
}

func (c *Client) handleMotd(payload []byte) error {
	cur := codec.NewCursor(payload)
	text, err := cur.ReadCString(512)
	if err != nil {
		return err
	}
	c.roster.SetMOTD(text)
	if c.OnServerText != nil {
		c.OnServerText("motd", text)
	}
	return nil
}

func (c *Client) handleInvalidatePlayer(payload []byte) error {
	cur := codec.NewCursor(payload)
	guid, err := cur.ReadUint64LE()
	if err != nil {
		return err
	}
	c.nameCache.Evict(guid)
	return nil
}

func (c *Client) handleGuildQueryReply(payload []byte) error {
	cur := codec.NewCursor(payload)
	_, err := cur.ReadCString(64) // guild name, unused beyond logging
	if err != nil {
		return err
	}
	motd, err := cur.ReadCString(256)
	if err != nil {
		return err
	}
	c.roster.SetMOTD(motd)
	return nil
}

func (c *Client) handleGuildRoster(payload []byte) error {
	members, err := ParseGuildRoster(payload)
	if err != nil {
		return err
	}
	events := c.roster.Replace(members)
	for _, ev := range events {
		if c.OnRosterEvent != nil {
			c.OnRosterEvent(ev)
		}
	}
	return nil
}

func (c *Client) handleGuildEvent(payload []byte) error {
	ev, err := ParseGuildEvent(payload)
	if err != nil {
		return err
	}
	if c.OnGuildEvent != nil {
		c.OnGuildEvent(*ev)
	}
	return nil
}

func (c *Client) handleChatPlayerNotFound(payload []byte) error {
	cur := codec.NewCursor(payload)
	guid, err := cur.ReadUint64LE()
	if err != nil {
		return err
	}
	if c.OnWhisperFailed != nil {
		c.OnWhisperFailed(guid)
	}
	return nil
}

func (c *Client) handlePong(payload []byte) error {
	cur := codec.NewCursor(payload)
	seq, err := cur.ReadUint32LE()
	if err != nil {
		return err
	}
	if seq != c.pingSeq.Load() {
		return nil // stale pong, ignore
	}
	sentAt := c.lastPingSent.Load()
	if sentAt != 0 {
		c.lastLatency.Store(time.Since(time.Unix(0, sentAt)).Nanoseconds())
	}
	return nil
}

// SendChat sends an outbound chat frame. target holds the channel name for
// Channel messages or the recipient's character name for Whisper messages;
// it is ignored for every other chat type. Only valid while InWorld.
func (c *Client) SendChat(chatType ChatType, target, text string) error {
	if !c.Phase().CanSendChat() {
		return ErrNotInWorld
	}
	frame := BuildMessageChatFrame(chatType, target, text)
	return c.writeRaw(frame)
}

// Close begins the Draining sequence: send LOGOUT_REQUEST, wait (bounded)
// for LOGOUT_COMPLETE, then close the connection.
func (c *Client) Close() error {
	if c.Phase() == Closed {
		return nil
	}
	c.setPhase(Draining)
	_ = c.sendFrame(OpLogoutRequest, nil)

	deadline := time.Now().Add(logoutWaitTimeout)
	for c.Phase() != Closed && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	c.setPhase(Closed)
	return c.conn.Close()
}

func (c *Client) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.sendFrame(OpKeepAlive, nil); err != nil {
				return fmt.Errorf("game: keepalive: %w", err)
			}
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			seq := c.pingSeq.Add(1)
			var buf bytes.Buffer
			var seqBytes, latBytes [4]byte
			binary.LittleEndian.PutUint32(seqBytes[:], seq)
			binary.LittleEndian.PutUint32(latBytes[:], uint32(c.Latency().Milliseconds()))
			buf.Write(seqBytes[:])
			buf.Write(latBytes[:])
			c.lastPingSent.Store(time.Now().UnixNano())
			if err := c.sendFrame(OpPing, buf.Bytes()); err != nil {
				return fmt.Errorf("game: ping: %w", err)
			}
		}
	}
}

func (c *Client) rosterRefreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(RosterRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.sendFrame(OpGuildRoster, nil); err != nil {
				return fmt.Errorf("game: roster refresh: %w", err)
			}
		}
	}
}

func (c *Client) pendingSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(pendingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, result := range c.pending.Sweep(time.Now()) {
				c.logger.Warn("dropped unresolved deferred messages", "guid", result.GUID, "dropped", result.Dropped)
			}
		}
	}
}

func (c *Client) sendFrame(opcode Opcode, payload []byte) error {
	return c.writeRaw(codec.EncodeFrame(uint16(opcode), payload))
}

func (c *Client) writeRaw(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.conn.Write(frame)
	return err
}
