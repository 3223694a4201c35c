package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// Channel names understood by the remote streaming endpoint.
const (
	ChannelMain           = "main"
	ChannelHomeTimeline   = "homeTimeline"
	ChannelLocalTimeline  = "localTimeline"
	ChannelHybridTimeline = "hybridTimeline"
	ChannelGlobalTimeline = "globalTimeline"
)

var errMissingStreamURL = errors.New("streaming: base url is required")

// WebSocketConfig describes one streaming connection.
type WebSocketConfig struct {
	BaseURL  string
	Token    string
	Channels []string
}

// WebSocketSource reads remote streaming frames and yields them as envelopes.
type WebSocketSource struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  sync.Once
}

type wireFrame struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

type channelMessage struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// StreamURL derives the streaming endpoint from an instance base url.
func StreamURL(baseURL, token string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Host == "" {
		return "", errMissingStreamURL
	}
	switch parsed.Scheme {
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed = parsed.JoinPath("streaming")
	if token != "" {
		query := parsed.Query()
		query.Set("i", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// DialWebSocket connects and subscribes to every configured channel.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketSource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingStreamURL
	}
	target, err := StreamURL(cfg.BaseURL, cfg.Token)
	if err != nil {
		return nil, err
	}
	wsConfig, err := websocket.NewConfig(target, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("streaming: config: %w", err)
	}
	conn, err := wsConfig.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("streaming: dial: %w", err)
	}
	source := &WebSocketSource{conn: conn}
	for _, channel := range cfg.Channels {
		if err := source.connect(channel); err != nil {
			_ = source.Close()
			return nil, err
		}
	}
	return source, nil
}

func (s *WebSocketSource) send(frameType string, body any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return websocket.JSON.Send(s.conn, map[string]any{"type": frameType, "body": body})
}

func (s *WebSocketSource) connect(channel string) error {
	err := s.send("connect", map[string]any{
		"channel": channel,
		"id":      uuid.NewString(),
		"params":  map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("streaming: connect %s: %w", channel, err)
	}
	return nil
}

// Capture asks the remote to stream updates for one note.
func (s *WebSocketSource) Capture(noteID string) error {
	return s.send("subNote", map[string]string{"id": noteID})
}

// Decapture stops note updates for noteID.
func (s *WebSocketSource) Decapture(noteID string) error {
	return s.send("unsubNote", map[string]string{"id": noteID})
}

// Next blocks until a frame translates into an envelope. Frames with no local meaning are
// skipped. Cancelling ctx closes the connection.
func (s *WebSocketSource) Next(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	for {
		var raw []byte
		if err := websocket.Message.Receive(s.conn, &raw); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		envelope, ok, err := TranslateFrame(raw)
		if err != nil || !ok {
			continue
		}
		return envelope, nil
	}
}

// Close terminates the connection.
func (s *WebSocketSource) Close() error {
	var err error
	s.closed.Do(func() { err = s.conn.Close() })
	return err
}

// TranslateFrame maps a remote streaming frame onto an envelope. Frames already shaped as
// envelopes pass through unchanged.
func TranslateFrame(raw []byte) ([]byte, bool, error) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch frame.Type {
	case TagUserUpdated, TagNoteCreated, TagNoteUpdated, TagNoteDeleted,
		TagNotificationCreated, TagNoteReacted, TagNoteUnreacted, TagPollVoted:
		return raw, true, nil
	case "channel":
		var message channelMessage
		if err := json.Unmarshal(frame.Body, &message); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		switch message.Type {
		case "note":
			return wrap(TagNoteCreated, message.Body)
		case "notification":
			return wrap(TagNotificationCreated, message.Body)
		case "meUpdated":
			return wrap(TagUserUpdated, message.Body)
		}
		return nil, false, nil
	case "noteUpdated":
		return translateNoteUpdate(frame.Body)
	}
	return nil, false, nil
}

func translateNoteUpdate(raw json.RawMessage) ([]byte, bool, error) {
	var message channelMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	var detail struct {
		Reaction string `json:"reaction"`
		UserID   string `json:"userId"`
		Choice   int    `json:"choice"`
	}
	if len(message.Body) > 0 {
		if err := json.Unmarshal(message.Body, &detail); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}
	ref := NoteRef{ID: message.ID}
	switch message.Type {
	case "reacted":
		return encode(TagNoteReacted, ReactionBody{NoteRef: ref, Reaction: detail.Reaction, UserID: detail.UserID})
	case "unreacted":
		return encode(TagNoteUnreacted, ReactionBody{NoteRef: ref, Reaction: detail.Reaction, UserID: detail.UserID})
	case "pollVoted":
		return encode(TagPollVoted, PollVoteBody{NoteRef: ref, Choice: detail.Choice, UserID: detail.UserID})
	case "deleted":
		return encode(TagNoteDeleted, ref)
	}
	return nil, false, nil
}

func wrap(tag string, body json.RawMessage) ([]byte, bool, error) {
	out, err := json.Marshal(Envelope{Type: tag, Body: body})
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func encode(tag string, body any) ([]byte, bool, error) {
	out, err := Encode(tag, body)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
