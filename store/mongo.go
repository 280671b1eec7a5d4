package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"auto_blog_publisher/metrics"
	"auto_blog_publisher/model"
	"auto_blog_publisher/payload"
)

const (
	topicsCollection   = "topics"
	draftsCollection   = "drafts"
	accountsCollection = "accounts"
)

// MongoStore keeps topics, drafts and accounts in MongoDB. State
// transitions are single-document conditional updates, so concurrent
// passes in different processes cannot both claim a topic.
type MongoStore struct {
	client   *mongo.Client
	topics   *mongo.Collection
	drafts   *mongo.Collection
	accounts *mongo.Collection
	logger   *slog.Logger
}

// draftDoc adds the stored publish response, kept as raw BSON, to the
// draft mapping.
type draftDoc struct {
	model.Draft      `bson:",inline"`
	ExternalResponse bson.Raw `bson:"externalResponse,omitempty"`
}

// ConnectMongo dials uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoStore(client, client.Database(database), logger), nil
}

func NewMongoStore(client *mongo.Client, db *mongo.Database, logger *slog.Logger) *MongoStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoStore{
		client:   client,
		topics:   db.Collection(topicsCollection),
		drafts:   db.Collection(draftsCollection),
		accounts: db.Collection(accountsCollection),
		logger:   logger.With(slog.String("component", "mongo_store")),
	}
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes behind the due query, the per-account
// pending query and the monthly counts.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.topics.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "schedulingState", Value: 1}, {Key: "generationState", Value: 1}, {Key: "dueAt", Value: 1}}},
		{Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "schedulingState", Value: 1}, {Key: "createdAt", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create topic indexes: %w", err)
	}
	if _, err := s.drafts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "publishedAt", Value: 1}}},
		{Keys: bson.D{{Key: "topicId", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create draft indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateTopic(ctx context.Context, t model.Topic) (model.Topic, error) {
	t = prepareTopic(t, msTime(time.Now()))
	_, err := s.topics.InsertOne(ctx, t)
	observe("insert", topicsCollection, err)
	if err != nil {
		return model.Topic{}, fmt.Errorf("insert topic: %w", err)
	}
	return t, nil
}

func (s *MongoStore) GetTopic(ctx context.Context, id string) (model.Topic, error) {
	var t model.Topic
	err := s.topics.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	observe("find_one", topicsCollection, ignoreNoDocuments(err))
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Topic{}, model.ErrNotFound
	}
	if err != nil {
		return model.Topic{}, fmt.Errorf("get topic %s: %w", id, err)
	}
	return t, nil
}

func (s *MongoStore) FindDue(ctx context.Context, now, staleBefore time.Time) ([]model.Topic, error) {
	filter := bson.M{
		"generationState": model.GenerationPending,
		"$or": bson.A{
			bson.M{"schedulingState": model.SchedulingScheduled, "dueAt": bson.M{"$lte": now}},
			bson.M{"schedulingState": model.SchedulingRunning, "claimedAt": bson.M{"$lt": staleBefore}},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "dueAt", Value: 1}, {Key: "createdAt", Value: 1}})
	return s.findTopics(ctx, "find_due", filter, opts)
}

func (s *MongoStore) FindPending(ctx context.Context, accountID string, now time.Time, limit int) ([]model.Topic, error) {
	dueOpts := options.Find().SetSort(bson.D{{Key: "dueAt", Value: 1}, {Key: "createdAt", Value: 1}})
	if limit > 0 {
		dueOpts.SetLimit(int64(limit))
	}
	due, err := s.findTopics(ctx, "find_pending", bson.M{
		"accountId":       accountID,
		"generationState": model.GenerationPending,
		"schedulingState": model.SchedulingScheduled,
		"dueAt":           bson.M{"$lte": now},
	}, dueOpts)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(due) >= limit {
		return due, nil
	}

	restOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		restOpts.SetLimit(int64(limit - len(due)))
	}
	unscheduled, err := s.findTopics(ctx, "find_pending", bson.M{
		"accountId":       accountID,
		"generationState": model.GenerationPending,
		"schedulingState": model.SchedulingNone,
	}, restOpts)
	if err != nil {
		return nil, err
	}
	return append(due, unscheduled...), nil
}

func (s *MongoStore) findTopics(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]model.Topic, error) {
	cursor, err := s.topics.Find(ctx, filter, opts)
	observe(op, topicsCollection, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var out []model.Topic
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%s: decode topics: %w", op, err)
	}
	return out, nil
}

// Claim sets RUNNING only when state and claim stamp still match what the
// caller read.
func (s *MongoStore) Claim(ctx context.Context, c model.Claim) (bool, error) {
	filter := bson.M{"_id": c.TopicID, "schedulingState": c.State}
	if c.ClaimedAt != nil {
		filter["claimedAt"] = msTime(*c.ClaimedAt)
	} else {
		filter["claimedAt"] = nil
	}
	update := bson.M{"$set": bson.M{
		"schedulingState": model.SchedulingRunning,
		"claimedAt":       msTime(c.At),
		"claimedFrom":     c.From,
		"updatedAt":       msTime(c.At),
	}}
	res, err := s.topics.UpdateOne(ctx, filter, update)
	observe("claim", topicsCollection, err)
	if err != nil {
		return false, fmt.Errorf("claim topic %s: %w", c.TopicID, err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStore) Finish(ctx context.Context, f model.Finish) (bool, error) {
	filter := bson.M{
		"_id":             f.TopicID,
		"schedulingState": model.SchedulingRunning,
		"claimedAt":       msTime(f.ClaimedAt),
	}
	set := bson.M{
		"schedulingState": f.To,
		"attempts":        f.Attempts,
		"updatedAt":       msTime(f.At),
	}
	if f.Generated {
		set["generationState"] = model.GenerationGenerated
	}
	unset := bson.M{"claimedAt": "", "claimedFrom": ""}
	if f.LastError != "" {
		set["lastError"] = f.LastError
	} else {
		unset["lastError"] = ""
	}
	res, err := s.topics.UpdateOne(ctx, filter, bson.M{"$set": set, "$unset": unset})
	observe("finish", topicsCollection, err)
	if err != nil {
		return false, fmt.Errorf("finish topic %s: %w", f.TopicID, err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStore) RetryTopic(ctx context.Context, id string, at time.Time) error {
	filter := bson.M{"_id": id, "schedulingState": model.SchedulingFailed}
	update := bson.A{
		bson.M{"$set": bson.M{
			"schedulingState": model.SchedulingScheduled,
			"attempts":        0,
			"updatedAt":       msTime(at),
			"dueAt":           bson.M{"$ifNull": bson.A{"$dueAt", msTime(at)}},
		}},
		bson.M{"$unset": "lastError"},
	}
	res, err := s.topics.UpdateOne(ctx, filter, update)
	observe("retry", topicsCollection, err)
	if err != nil {
		return fmt.Errorf("retry topic %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *MongoStore) UpsertAccount(ctx context.Context, a model.Account) error {
	_, err := s.accounts.ReplaceOne(ctx, bson.M{"_id": a.ID}, a, options.Replace().SetUpsert(true))
	observe("upsert", accountsCollection, err)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", a.ID, err)
	}
	return nil
}

func (s *MongoStore) GetAccount(ctx context.Context, id string) (model.Account, error) {
	var a model.Account
	err := s.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	observe("find_one", accountsCollection, ignoreNoDocuments(err))
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Account{}, model.ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (s *MongoStore) CreateDraft(ctx context.Context, d model.Draft) (model.Draft, error) {
	d = prepareDraft(d, msTime(time.Now()))
	doc := draftDoc{Draft: d}
	if d.ExternalResponse != nil {
		raw, err := toRaw(d.ExternalResponse)
		if err != nil {
			return model.Draft{}, err
		}
		doc.ExternalResponse = raw
	}
	_, err := s.drafts.InsertOne(ctx, doc)
	observe("insert", draftsCollection, err)
	if err != nil {
		return model.Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	return d, nil
}

func (s *MongoStore) GetDraft(ctx context.Context, id string) (model.Draft, error) {
	var doc draftDoc
	err := s.drafts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	observe("find_one", draftsCollection, ignoreNoDocuments(err))
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Draft{}, model.ErrNotFound
	}
	if err != nil {
		return model.Draft{}, fmt.Errorf("get draft %s: %w", id, err)
	}
	return s.fromDoc(doc), nil
}

func (s *MongoStore) ListDrafts(ctx context.Context, topicID string) ([]model.Draft, error) {
	cursor, err := s.drafts.Find(ctx, bson.M{"topicId": topicID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	observe("find", draftsCollection, err)
	if err != nil {
		return nil, fmt.Errorf("list drafts for topic %s: %w", topicID, err)
	}
	defer cursor.Close(ctx)

	var docs []draftDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode drafts: %w", err)
	}
	out := make([]model.Draft, 0, len(docs))
	for _, doc := range docs {
		out = append(out, s.fromDoc(doc))
	}
	return out, nil
}

func (s *MongoStore) SaveContent(ctx context.Context, d model.Draft) error {
	return s.updateDraft(ctx, "save_content", d.ID, bson.M{"$set": bson.M{
		"title":           d.Title,
		"metaDescription": d.MetaDescription,
		"slug":            d.Slug,
		"body":            d.Body,
		"tags":            d.Tags,
		"imageUrl":        d.ImageURL,
		"updatedAt":       msTime(d.UpdatedAt),
	}})
}

func (s *MongoStore) MarkPublished(ctx context.Context, id string, response payload.Object, at time.Time) error {
	raw, err := toRaw(response)
	if err != nil {
		return err
	}
	return s.updateDraft(ctx, "mark_published", id, bson.M{"$set": bson.M{
		"status":           model.DraftPublished,
		"publishedAt":      msTime(at),
		"externalResponse": raw,
		"updatedAt":        msTime(at),
	}})
}

func (s *MongoStore) MarkRejected(ctx context.Context, id, comment string, at time.Time) error {
	return s.updateDraft(ctx, "mark_rejected", id, bson.M{"$set": bson.M{
		"status":    model.DraftRejected,
		"comment":   comment,
		"updatedAt": msTime(at),
	}})
}

func (s *MongoStore) updateDraft(ctx context.Context, op, id string, update bson.M) error {
	res, err := s.drafts.UpdateOne(ctx, bson.M{"_id": id}, update)
	observe(op, draftsCollection, err)
	if err != nil {
		return fmt.Errorf("%s draft %s: %w", op, id, err)
	}
	if res.MatchedCount == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *MongoStore) CountGenerated(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	return s.count(ctx, "count_generated", bson.M{
		"accountId": accountID,
		"status":    bson.M{"$ne": model.DraftRejected},
		"createdAt": bson.M{"$gte": from, "$lt": to},
	})
}

func (s *MongoStore) CountPublished(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	return s.count(ctx, "count_published", bson.M{
		"accountId":   accountID,
		"publishedAt": bson.M{"$gte": from, "$lt": to},
	})
}

func (s *MongoStore) count(ctx context.Context, op string, filter bson.M) (int, error) {
	n, err := s.drafts.CountDocuments(ctx, filter)
	observe(op, draftsCollection, err)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(n), nil
}

// fromDoc decodes the stored response through relaxed extended JSON, so
// driver-assigned ids surface as {"$oid": ...} wrappers.
func (s *MongoStore) fromDoc(doc draftDoc) model.Draft {
	d := doc.Draft
	if len(doc.ExternalResponse) == 0 {
		return d
	}
	data, err := bson.MarshalExtJSON(doc.ExternalResponse, false, false)
	if err != nil {
		s.logger.Warn("stored response unreadable", slog.String("draft_id", d.ID), slog.Any("error", err))
		return d
	}
	obj, err := payload.Parse(data)
	if err != nil {
		s.logger.Warn("stored response unreadable", slog.String("draft_id", d.ID), slog.Any("error", err))
		return d
	}
	d.ExternalResponse = obj
	return d
}

func toRaw(obj payload.Object) (bson.Raw, error) {
	if obj == nil {
		obj = payload.Object{}
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("convert response to bson: %w", err)
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert response to bson: %w", err)
	}
	return raw, nil
}

// msTime truncates to the millisecond precision BSON dates keep, so a
// claim stamp written here compares equal when read back.
func msTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func ignoreNoDocuments(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	return err
}

func observe(op, collection string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOperations.WithLabelValues(op, collection, status).Inc()
}
