package database

import (
	"context"
	"errors"
	"fmt"
	"linkgate/entity"
	"linkgate/impl/session"
	"linkgate/internal/config"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionLinks      = "protected_links"
	collectionSessions   = "webapp_sessions"
	collectionChallenges = "challenges"
	collectionUsers      = "users"
	collectionAnalytics  = "analytics"

	connectTimeout = 10 * time.Second
)

type MongoDB struct {
	client   *mongo.Client
	database string
}

func NewMongoClient(ctx context.Context, conf *config.Config) (*MongoDB, error) {
	connectionUri := conf.Mongo.Uri
	if connectionUri == "" {
		connectionUri = fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	}
	clientOptions := options.Client().ApplyURI(connectionUri).SetServerSelectionTimeout(connectTimeout)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}
	m := &MongoDB{
		client:   client,
		database: conf.Mongo.Database,
	}
	if err = m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *MongoDB) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := map[string][]mongo.IndexModel{
		collectionLinks: {
			{Keys: bson.D{{"owner", 1}, {"created_at", -1}}},
			{Keys: bson.D{{"created_at", 1}}},
		},
		collectionSessions: {
			{Keys: bson.D{{"token", 1}}, Options: unique},
			{Keys: bson.D{{"principal", 1}, {"link_id", 1}}, Options: unique},
			{Keys: bson.D{{"expires_at", 1}}},
		},
		collectionChallenges: {
			{Keys: bson.D{{"principal", 1}, {"link_id", 1}}, Options: unique},
			{Keys: bson.D{{"expires_at", 1}}},
		},
		collectionUsers: {
			{Keys: bson.D{{"user_id", 1}}, Options: unique},
			{Keys: bson.D{{"last_active", -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := m.collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongodb indexes %s: %w", name, err)
		}
	}
	return nil
}

func (m *MongoDB) Durable() bool {
	return true
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) findError(err error, notFound error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notFound
	}
	return fmt.Errorf("mongodb find: %w", err)
}

// missOrConflict tells an absent document from a failed condition.
func (m *MongoDB) missOrConflict(ctx context.Context, name string, filter bson.D, notFound error) error {
	n, err := m.collection(name).CountDocuments(ctx, filter)
	if err != nil {
		return fmt.Errorf("mongodb count: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return entity.ErrConflict
}

// --- Links ---

func (m *MongoDB) InsertLink(ctx context.Context, link *entity.LinkRecord) error {
	_, err := m.collection(collectionLinks).InsertOne(ctx, link)
	if mongo.IsDuplicateKeyError(err) {
		return entity.ErrDuplicate
	}
	return err
}

func (m *MongoDB) GetLink(ctx context.Context, id string) (*entity.LinkRecord, error) {
	var link entity.LinkRecord
	err := m.collection(collectionLinks).FindOne(ctx, bson.D{{"_id", id}}).Decode(&link)
	if err != nil {
		return nil, m.findError(err, entity.ErrLinkNotFound)
	}
	return &link, nil
}

func (m *MongoDB) RecordLinkAccess(ctx context.Context, id string, principal int64, at time.Time) error {
	update := bson.D{
		{"$inc", bson.D{{"access_count", 1}}},
		{"$addToSet", bson.D{{"unique_principals", principal}}},
		{"$set", bson.D{{"last_accessed", at}}},
	}
	res, err := m.collection(collectionLinks).UpdateOne(ctx, bson.D{{"_id", id}}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return entity.ErrLinkNotFound
	}
	return nil
}

func (m *MongoDB) DeactivateLink(ctx context.Context, id string, at time.Time) (*entity.LinkRecord, error) {
	filter := bson.D{{"_id", id}, {"active", true}}
	update := bson.D{{"$set", bson.D{
		{"active", false},
		{"revoked_at", at},
	}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var link entity.LinkRecord
	err := m.collection(collectionLinks).FindOneAndUpdate(ctx, filter, update, opts).Decode(&link)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, m.missOrConflict(ctx, collectionLinks, bson.D{{"_id", id}}, entity.ErrLinkNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (m *MongoDB) LinksByOwner(ctx context.Context, owner int64) ([]*entity.LinkRecord, error) {
	opts := options.Find().SetSort(bson.D{{"created_at", -1}})
	cursor, err := m.collection(collectionLinks).Find(ctx, bson.D{{"owner", owner}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var links []*entity.LinkRecord
	if err = cursor.All(ctx, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (m *MongoDB) DeleteLinksBefore(ctx context.Context, createdBefore time.Time) (int64, error) {
	res, err := m.collection(collectionLinks).DeleteMany(ctx, bson.D{{"created_at", bson.D{{"$lt", createdBefore}}}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// --- Sessions ---

func (m *MongoDB) ReplaceSession(ctx context.Context, s *entity.AccessSession) error {
	filter := bson.D{{"principal", s.Principal}, {"link_id", s.LinkId}}
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection(collectionSessions).ReplaceOne(ctx, filter, s, opts)
	return err
}

func (m *MongoDB) GetSession(ctx context.Context, token string) (*entity.AccessSession, error) {
	var s entity.AccessSession
	err := m.collection(collectionSessions).FindOne(ctx, bson.D{{"token", token}}).Decode(&s)
	if err != nil {
		return nil, m.findError(err, entity.ErrSessionNotFound)
	}
	return &s, nil
}

func (m *MongoDB) UpdateSession(ctx context.Context, token string, cond session.Condition, change session.Change) (*entity.AccessSession, error) {
	filter := bson.D{{"token", token}, {"state", cond.State}}
	if !cond.LiveAt.IsZero() {
		filter = append(filter, bson.E{Key: "expires_at", Value: bson.D{{"$gt", cond.LiveAt}}})
	}
	if cond.MaxAttempts > 0 {
		filter = append(filter, bson.E{Key: "attempts", Value: bson.D{{"$lt", cond.MaxAttempts}}})
	}

	set := bson.D{}
	if change.State != "" {
		set = append(set, bson.E{Key: "state", Value: change.State})
	}
	switch change.State {
	case entity.SessionVerified:
		set = append(set, bson.E{Key: "verified_at", Value: change.At})
	case entity.SessionConsumed:
		set = append(set, bson.E{Key: "consumed_at", Value: change.At})
	}
	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if change.IncAttempts {
		update = append(update, bson.E{Key: "$inc", Value: bson.D{{"attempts", 1}}})
	}
	if len(update) == 0 {
		return nil, fmt.Errorf("empty session update")
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var s entity.AccessSession
	err := m.collection(collectionSessions).FindOneAndUpdate(ctx, filter, update, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, m.missOrConflict(ctx, collectionSessions, bson.D{{"token", token}}, entity.ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MongoDB) DeleteSessionsBefore(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.collection(collectionSessions).DeleteMany(ctx, bson.D{{"expires_at", bson.D{{"$lte", now}}}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// --- Challenges ---

func (m *MongoDB) ReplaceChallenge(ctx context.Context, c *entity.Challenge) error {
	filter := bson.D{{"principal", c.Principal}, {"link_id", c.LinkId}}
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection(collectionChallenges).ReplaceOne(ctx, filter, c, opts)
	return err
}

func (m *MongoDB) TakeChallenge(ctx context.Context, principal int64, linkId string) (*entity.Challenge, error) {
	filter := bson.D{{"principal", principal}, {"link_id", linkId}}
	var c entity.Challenge
	err := m.collection(collectionChallenges).FindOneAndDelete(ctx, filter).Decode(&c)
	if err != nil {
		return nil, m.findError(err, entity.ErrChallengeNotFound)
	}
	return &c, nil
}

func (m *MongoDB) DeleteChallengesBefore(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.collection(collectionChallenges).DeleteMany(ctx, bson.D{{"expires_at", bson.D{{"$lte", now}}}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// --- Principals ---

func (m *MongoDB) TouchPrincipal(ctx context.Context, p *entity.Principal, at time.Time) error {
	set := bson.D{{"last_active", at}}
	if p.Username != "" {
		set = append(set, bson.E{Key: "username", Value: p.Username})
	}
	if p.FirstName != "" {
		set = append(set, bson.E{Key: "first_name", Value: p.FirstName})
	}
	update := bson.D{
		{"$set", set},
		{"$inc", bson.D{{"message_count", 1}}},
		{"$setOnInsert", bson.D{{"joined_at", at}}},
	}
	opts := options.Update().SetUpsert(true)
	_, err := m.collection(collectionUsers).UpdateOne(ctx, bson.D{{"user_id", p.Id}}, update, opts)
	return err
}

func (m *MongoDB) IncrementCounter(ctx context.Context, principal int64, counter string) error {
	update := bson.D{{"$inc", bson.D{{counter, 1}}}}
	opts := options.Update().SetUpsert(true)
	_, err := m.collection(collectionUsers).UpdateOne(ctx, bson.D{{"user_id", principal}}, update, opts)
	return err
}

func (m *MongoDB) GetPrincipal(ctx context.Context, id int64) (*entity.Principal, error) {
	var p entity.Principal
	err := m.collection(collectionUsers).FindOne(ctx, bson.D{{"user_id", id}}).Decode(&p)
	if err != nil {
		return nil, m.findError(err, entity.ErrPrincipalNotFound)
	}
	return &p, nil
}

func (m *MongoDB) RecentPrincipals(ctx context.Context, limit int) ([]*entity.Principal, error) {
	opts := options.Find().SetSort(bson.D{{"last_active", -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := m.collection(collectionUsers).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*entity.Principal
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (m *MongoDB) SaveAccessEvent(ctx context.Context, e *entity.AccessEvent) error {
	_, err := m.collection(collectionAnalytics).InsertOne(ctx, e)
	return err
}

func (m *MongoDB) Stats(ctx context.Context, now time.Time) (*entity.Stats, error) {
	var err error
	stats := &entity.Stats{}
	if stats.Users, err = m.collection(collectionUsers).CountDocuments(ctx, bson.D{}); err != nil {
		return nil, err
	}
	activeFilter := bson.D{{"last_active", bson.D{{"$gt", now.Add(-24 * time.Hour)}}}}
	if stats.ActiveToday, err = m.collection(collectionUsers).CountDocuments(ctx, activeFilter); err != nil {
		return nil, err
	}
	if stats.Links, err = m.collection(collectionLinks).CountDocuments(ctx, bson.D{}); err != nil {
		return nil, err
	}
	liveFilter := bson.D{
		{"state", bson.D{{"$in", bson.A{entity.SessionPending, entity.SessionVerified}}}},
		{"expires_at", bson.D{{"$gt", now}}},
	}
	if stats.Sessions, err = m.collection(collectionSessions).CountDocuments(ctx, liveFilter); err != nil {
		return nil, err
	}
	return stats, nil
}
