// Package redis keeps current room documents in Redis as JSON values.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/document"
)

const (
	keyPrefix = "stylesync:room:"
	roomsKey  = "stylesync:rooms"
)

// NewClient connects to Redis and verifies it answers within cfg.DialTimeout.
//
// Postcondition: Returns a live client or a non-nil error; nothing is leaked on error.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// DocumentStore reads and writes current room documents.
type DocumentStore struct {
	rdb goredis.UniversalClient
}

// NewDocumentStore wraps rdb.
func NewDocumentStore(rdb goredis.UniversalClient) *DocumentStore {
	return &DocumentStore{rdb: rdb}
}

func roomKey(roomID string) string {
	return keyPrefix + roomID
}

// LoadCurrent returns the current document of roomID.
//
// Postcondition: Returns document.ErrNotFound if the key is absent.
func (s *DocumentStore) LoadCurrent(ctx context.Context, roomID string) (document.RoomDocument, error) {
	raw, err := s.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return document.RoomDocument{}, fmt.Errorf("room %q: %w", roomID, document.ErrNotFound)
	}
	if err != nil {
		return document.RoomDocument{}, fmt.Errorf("loading room %q: %w", roomID, err)
	}
	return decode(roomID, raw)
}

// LoadAll returns every indexed room ordered by room id. Index entries whose
// document has disappeared are skipped.
func (s *DocumentStore) LoadAll(ctx context.Context) ([]document.RoomDocument, error) {
	ids, err := s.rdb.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading rooms: %w", err)
	}

	docs := make([]document.RoomDocument, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		d, err := decode(ids[i], []byte(str))
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// PutCurrent stores doc and indexes its room id atomically.
//
// Precondition: doc must be valid.
func (s *DocumentStore) PutCurrent(ctx context.Context, doc document.RoomDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.PageDoc.Overrides == nil {
		doc.PageDoc.Overrides = []document.PageOverride{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding room %q: %w", doc.RoomID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, roomKey(doc.RoomID), raw, 0)
		pipe.SAdd(ctx, roomsKey, doc.RoomID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing room %q: %w", doc.RoomID, err)
	}
	return nil
}

// Delete removes a room and its index entry.
func (s *DocumentStore) Delete(ctx context.Context, roomID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, roomKey(roomID))
		pipe.SRem(ctx, roomsKey, roomID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting room %q: %w", roomID, err)
	}
	return nil
}

// Health pings Redis.
func (s *DocumentStore) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func decode(roomID string, raw []byte) (document.RoomDocument, error) {
	var d document.RoomDocument
	if err := json.Unmarshal(raw, &d); err != nil {
		return document.RoomDocument{}, fmt.Errorf("decoding room %q: %w", roomID, err)
	}
	if d.PageDoc.Overrides == nil {
		d.PageDoc.Overrides = []document.PageOverride{}
	}
	return d, nil
}
