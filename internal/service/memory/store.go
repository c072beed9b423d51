// Package memory persists conversation turns and session metadata in
// MongoDB, degrading transparently to an in-process fallback when the
// durable backend is unreachable.
package memory

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nebulaai/nebula/backend/internal/config"
	"github.com/nebulaai/nebula/backend/internal/model/conversation"
)

const (
	conversationsCollection = "conversations"
	sessionsCollection      = "sessions"
)

// Store is the dual-tier conversation store. Connectivity is probed once
// at construction; a failed probe pins the store to the fallback tier for
// its lifetime, while a connected store degrades per call on durable
// errors. Each call writes to exactly one tier, never both.
type Store struct {
	client        *mongo.Client
	database      string
	conversations *mongo.Collection
	sessions      *mongo.Collection
	connected     bool
	fallback      *fallbackStore
}

// NewStore dials the durable backend and probes it with a ping. A probe
// failure is logged, not returned: the store is still usable through the
// fallback tier.
func NewStore(ctx context.Context, cfg config.MongoConfig) *Store {
	s := &Store{database: cfg.Database, fallback: newFallbackStore()}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.SelectionTimeout).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, opts)
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.SelectionTimeout)
		defer cancel()
		err = client.Ping(pingCtx, nil)
	}
	if err != nil {
		log.Printf("[memory] durable backend unavailable, using in-process fallback: %v", err)
		return s
	}

	db := client.Database(cfg.Database)
	s.client = client
	s.conversations = db.Collection(conversationsCollection)
	s.sessions = db.Collection(sessionsCollection)
	s.connected = true
	s.ensureIndexes(ctx)

	log.Printf("[memory] connected to %s", cfg.Database)
	return s
}

func (s *Store) ensureIndexes(ctx context.Context) {
	convIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if _, err := s.conversations.Indexes().CreateMany(ctx, convIndexes); err != nil {
		log.Printf("[memory] warning: could not create conversation indexes: %v", err)
	}

	sessionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "last_activity", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := s.sessions.Indexes().CreateMany(ctx, sessionIndexes); err != nil {
		log.Printf("[memory] warning: could not create session indexes: %v", err)
	}
}

// Connected reports the result of the construction-time probe.
func (s *Store) Connected() bool {
	return s.connected
}

// SaveTurn records one conversation turn and upserts the owning session
// as a single logical write. The assigned turn id is always returned; a
// durable failure before the turn lands routes the whole write to the
// fallback tier instead.
func (s *Store) SaveTurn(ctx context.Context, sessionID, userID, userMessage, aiResponse string, metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	turn := conversation.Turn{
		TurnID:      uuid.NewString(),
		SessionID:   sessionID,
		UserID:      userID,
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		Timestamp:   time.Now().UTC(),
		Metadata:    metadata,
	}

	if !s.connected {
		s.fallback.saveTurn(turn)
		return turn.TurnID, nil
	}

	if _, err := s.conversations.InsertOne(ctx, turn); err != nil {
		log.Printf("[memory] durable save failed, using fallback: %v", err)
		s.fallback.saveTurn(turn)
		return turn.TurnID, nil
	}

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"session_id":    sessionID,
			"user_id":       userID,
			"last_activity": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	if _, err := s.sessions.UpdateOne(ctx, bson.M{"session_id": sessionID}, update, options.Update().SetUpsert(true)); err != nil {
		// The turn is already durable; writing the fallback now would
		// double-count it. Surface the partial write loudly instead.
		log.Printf("[memory] session upsert failed after durable turn insert (session=%s turn=%s): %v", sessionID, turn.TurnID, err)
	}

	return turn.TurnID, nil
}

// History returns the session's turns as chronological role/content
// pairs, one user and one assistant exchange per turn. limit and offset
// select the most recent turns before the reversal.
func (s *Store) History(ctx context.Context, sessionID string, limit, offset int64) []conversation.Exchange {
	turns := s.recentTurns(ctx, sessionID, limit, offset)

	history := make([]conversation.Exchange, 0, len(turns)*2)
	for i := len(turns) - 1; i >= 0; i-- {
		history = append(history, turns[i].Expand()...)
	}
	return history
}

// recentTurns fetches up to limit turns newest first so bounded retrieval
// favors recent context.
func (s *Store) recentTurns(ctx context.Context, sessionID string, limit, offset int64) []conversation.Turn {
	if s.connected {
		opts := options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetSkip(offset).
			SetLimit(limit)

		cursor, err := s.conversations.Find(ctx, bson.M{"session_id": sessionID}, opts)
		if err == nil {
			var turns []conversation.Turn
			if err = cursor.All(ctx, &turns); err == nil {
				return turns
			}
		}
		log.Printf("[memory] durable history query failed, using fallback: %v", err)
	}

	return s.fallback.recentTurns(sessionID, limit, offset)
}

// SessionSummary aggregates statistics for one session.
func (s *Store) SessionSummary(ctx context.Context, sessionID string) conversation.SessionSummary {
	if s.connected {
		if summary, err := s.mongoSessionSummary(ctx, sessionID); err == nil {
			return summary
		} else {
			log.Printf("[memory] durable summary query failed, using fallback: %v", err)
		}
	}
	return s.fallback.sessionSummary(sessionID)
}

func (s *Store) mongoSessionSummary(ctx context.Context, sessionID string) (conversation.SessionSummary, error) {
	filter := bson.M{"session_id": sessionID}

	count, err := s.conversations.CountDocuments(ctx, filter)
	if err != nil {
		return conversation.SessionSummary{}, err
	}

	summary := conversation.SessionSummary{
		SessionID:   sessionID,
		TurnCount:   count,
		StorageType: conversation.StorageMongo,
	}
	if count == 0 {
		summary.StorageType = conversation.StorageNone
		return summary, nil
	}

	var first, last conversation.Turn
	if err := s.conversations.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: 1}})).Decode(&first); err != nil {
		return conversation.SessionSummary{}, err
	}
	if err := s.conversations.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})).Decode(&last); err != nil {
		return conversation.SessionSummary{}, err
	}
	summary.FirstMessage = &first.Timestamp
	summary.LastMessage = &last.Timestamp

	var session conversation.Session
	switch err := s.sessions.FindOne(ctx, filter).Decode(&session); err {
	case nil:
		summary.UserID = session.UserID
		summary.CreatedAt = &session.CreatedAt
	case mongo.ErrNoDocuments:
		// Turns without a session row can happen after a partial write.
	default:
		return conversation.SessionSummary{}, err
	}

	return summary, nil
}

// UserSessions lists a user's sessions ordered by most recent activity.
func (s *Store) UserSessions(ctx context.Context, userID string, limit int64) []conversation.SessionInfo {
	if s.connected {
		if infos, err := s.mongoUserSessions(ctx, userID, limit); err == nil {
			return infos
		} else {
			log.Printf("[memory] durable session listing failed, using fallback: %v", err)
		}
	}
	return s.fallback.userSessions(userID, limit)
}

func (s *Store) mongoUserSessions(ctx context.Context, userID string, limit int64) ([]conversation.SessionInfo, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "last_activity", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.sessions.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}

	var sessions []conversation.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}

	infos := make([]conversation.SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		count, err := s.conversations.CountDocuments(ctx, bson.M{"session_id": session.SessionID})
		if err != nil {
			return nil, err
		}
		infos = append(infos, conversation.SessionInfo{
			SessionID:    session.SessionID,
			CreatedAt:    session.CreatedAt,
			LastActivity: session.LastActivity,
			TurnCount:    count,
			Metadata:     session.Metadata,
		})
	}
	return infos, nil
}

// CleanupBefore deletes turns timestamped strictly before cutoff and
// sessions idle since before cutoff.
func (s *Store) CleanupBefore(ctx context.Context, cutoff time.Time) conversation.CleanupResult {
	if s.connected {
		result, err := s.mongoCleanupBefore(ctx, cutoff)
		if err == nil {
			log.Printf("[memory] cleaned up %d turns and %d sessions older than %s", result.TurnsDeleted, result.SessionsDeleted, cutoff.Format(time.RFC3339))
			return result
		}
		log.Printf("[memory] durable cleanup failed, using fallback: %v", err)
	}
	return s.fallback.cleanupBefore(cutoff)
}

func (s *Store) mongoCleanupBefore(ctx context.Context, cutoff time.Time) (conversation.CleanupResult, error) {
	turns, err := s.conversations.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return conversation.CleanupResult{}, err
	}
	sessions, err := s.sessions.DeleteMany(ctx, bson.M{"last_activity": bson.M{"$lt": cutoff}})
	if err != nil {
		return conversation.CleanupResult{TurnsDeleted: turns.DeletedCount}, err
	}
	return conversation.CleanupResult{
		TurnsDeleted:    turns.DeletedCount,
		SessionsDeleted: sessions.DeletedCount,
	}, nil
}

// Stats reports connectivity and document counts for the active tier.
func (s *Store) Stats(ctx context.Context) conversation.StoreStats {
	if s.connected {
		stats, err := s.mongoStats(ctx)
		if err == nil {
			return stats
		}
		log.Printf("[memory] durable stats query failed, using fallback counts: %v", err)
	}

	turns, sessions := s.fallback.counts()
	return conversation.StoreStats{
		Connected:     s.connected,
		TotalTurns:    turns,
		TotalSessions: sessions,
		StorageType:   conversation.StorageMemory,
	}
}

func (s *Store) mongoStats(ctx context.Context) (conversation.StoreStats, error) {
	turns, err := s.conversations.EstimatedDocumentCount(ctx)
	if err != nil {
		return conversation.StoreStats{}, err
	}
	sessions, err := s.sessions.EstimatedDocumentCount(ctx)
	if err != nil {
		return conversation.StoreStats{}, err
	}
	return conversation.StoreStats{
		Connected:     true,
		Database:      s.database,
		TotalTurns:    turns,
		TotalSessions: sessions,
		StorageType:   conversation.StorageMongo,
	}, nil
}

// Close releases the durable connection if one was established.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
