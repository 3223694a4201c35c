// Package streaming routes push events into the entity stores through the same ingest path
// used by pagination.
package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/MarcoPoloResearchLab/feedsync/internal/api"
	"github.com/MarcoPoloResearchLab/feedsync/internal/ingest"
	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"github.com/MarcoPoloResearchLab/feedsync/internal/store"
	"go.uber.org/zap"
)

const opDispatch = "streaming.dispatch"

var (
	errMissingIngestor = errors.New("streaming: ingestor and note store are required")
	// ErrMalformedEvent wraps envelopes that cannot be decoded.
	ErrMalformedEvent = errors.New("streaming: malformed event")
)

// Source delivers raw envelopes in order. Next returns io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// ChannelSource adapts a channel of raw envelopes to Source.
type ChannelSource <-chan []byte

// Next receives the next envelope.
func (c ChannelSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw, ok := <-c:
		if !ok {
			return nil, io.EOF
		}
		return raw, nil
	}
}

// Config wires a Dispatcher. ViewerID is the remote id of the signed-in user, used to tell
// the viewer's own reactions and votes apart.
type Config struct {
	Ingestor *ingest.Ingestor
	Notes    *store.NoteStore
	ViewerID string
	Logger   *zap.Logger
}

// Dispatcher applies push envelopes to the stores.
type Dispatcher struct {
	ingestor *ingest.Ingestor
	notes    *store.NoteStore
	account  model.AccountID
	viewerID string
	logger   *zap.Logger
}

// NewDispatcher validates cfg.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Ingestor == nil || cfg.Notes == nil {
		return nil, errMissingIngestor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		ingestor: cfg.Ingestor,
		notes:    cfg.Notes,
		account:  cfg.Ingestor.Account(),
		viewerID: cfg.ViewerID,
		logger:   logger,
	}, nil
}

// Dispatch applies one envelope. Unknown tags are ignored. An update for an id that is not
// cached stores the note; an update for a deleted note is dropped. Reaction and vote deltas
// apply only to cached notes.
func (d *Dispatcher) Dispatch(_ context.Context, raw []byte) error {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch envelope.Type {
	case TagUserUpdated:
		var body api.UserDTO
		if err := decodeBody(envelope, &body); err != nil {
			return err
		}
		_, err := d.ingestor.User(body)
		return err
	case TagNoteCreated:
		var body api.NoteDTO
		if err := decodeBody(envelope, &body); err != nil {
			return err
		}
		_, err := d.ingestor.Note(body, ingest.ReviveDeleted)
		return err
	case TagNoteUpdated:
		var body api.NoteDTO
		if err := decodeBody(envelope, &body); err != nil {
			return err
		}
		_, err := d.ingestor.UpdateNote(body)
		if errors.Is(err, model.ErrDeleted) {
			return nil
		}
		return err
	case TagNoteDeleted:
		var body NoteRef
		if err := decodeBody(envelope, &body); err != nil {
			return err
		}
		id, err := model.NewNoteID(d.account, body.remote())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		d.notes.Remove(id)
		return nil
	case TagNotificationCreated:
		var body api.NotificationDTO
		if err := decodeBody(envelope, &body); err != nil {
			return err
		}
		_, err := d.ingestor.Notification(body)
		return err
	case TagNoteReacted, TagNoteUnreacted:
		var body ReactionBody
		if err := decodeBody(envelope, &body); err != nil {
			return err
		}
		byViewer := d.viewerID != "" && body.UserID == d.viewerID
		return d.applyDelta(body.remote(), func(note model.Note) model.Note {
			if envelope.Type == TagNoteReacted {
				return note.Reacted(body.Reaction, byViewer)
			}
			return note.Unreacted(body.Reaction, byViewer)
		})
	case TagPollVoted:
		var body PollVoteBody
		if err := decodeBody(envelope, &body); err != nil {
			return err
		}
		byViewer := d.viewerID != "" && body.UserID == d.viewerID
		return d.applyDelta(body.remote(), func(note model.Note) model.Note {
			return note.PollVoted(body.Choice, byViewer)
		})
	default:
		d.logger.Debug("ignoring push event", zap.String("event_type", envelope.Type))
		return nil
	}
}

func (d *Dispatcher) applyDelta(remote string, fn func(model.Note) model.Note) error {
	id, err := model.NewNoteID(d.account, remote)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if _, err := d.notes.Update(id, fn); err != nil && !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrDeleted) {
		return err
	}
	return nil
}

func decodeBody(envelope Envelope, target any) error {
	if len(envelope.Body) == 0 {
		return fmt.Errorf("%w: %s without body", ErrMalformedEvent, envelope.Type)
	}
	if err := json.Unmarshal(envelope.Body, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, envelope.Type, err)
	}
	return nil
}

// Run dispatches envelopes from source until ctx ends or the source is exhausted. A failing
// event is logged and skipped.
func (d *Dispatcher) Run(ctx context.Context, source Source) error {
	for {
		raw, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: source: %w", opDispatch, err)
		}
		if err := d.Dispatch(ctx, raw); err != nil {
			d.logger.Warn("push event failed",
				zap.String("operation", opDispatch),
				zap.Error(err))
		}
	}
}
