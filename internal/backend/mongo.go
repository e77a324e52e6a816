package backend

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/kverrors"
	"github.com/neogan74/quickkv/internal/logger"
)

// DefaultMongoDatabase is used when no database name is configured
const DefaultMongoDatabase = "quickkv"

type mongoDoc struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
	Type  string `bson:"type"`
	TTL   *int64 `bson:"ttl"`
}

// MongoBackend stores a table as a MongoDB collection with one document per key
type MongoBackend struct {
	uri      string
	database string
	table    string
	timeout  time.Duration
	log      logger.Logger

	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoBackend creates a MongoDB backend
func NewMongoBackend(uri, database, table string, timeout time.Duration, log logger.Logger) *MongoBackend {
	if database == "" {
		database = DefaultMongoDatabase
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MongoBackend{
		uri:      uri,
		database: database,
		table:    table,
		timeout:  timeout,
		log:      logger.OrDefault(log).WithFields(logger.String("database", database), logger.String("table", table)),
	}
}

func (m *MongoBackend) Name() string { return DriverMongoDB }

func (m *MongoBackend) Connect(ctx context.Context) error {
	if m.client != nil {
		return nil
	}

	opts := options.Client().ApplyURI(m.uri).SetConnectTimeout(m.timeout).SetTimeout(m.timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return kverrors.Backend(DriverMongoDB, "connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return kverrors.Backend(DriverMongoDB, "connect", err)
	}

	m.client = client
	m.coll = client.Database(m.database).Collection(m.table)
	m.log.Info("MongoDB backend connected")
	return nil
}

func (m *MongoBackend) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	err := m.client.Disconnect(ctx)
	m.client = nil
	m.coll = nil
	return kverrors.Backend(DriverMongoDB, "close", err)
}

func (m *MongoBackend) Set(ctx context.Context, key string, e Entry) error {
	update := bson.M{"$set": bson.M{
		"value": e.Value,
		"type":  string(e.Type),
		"ttl":   e.TTL,
	}}
	coll, err := m.conn("set")
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
	return kverrors.Backend(DriverMongoDB, "set", err)
}

func (m *MongoBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	coll, err := m.conn("get")
	if err != nil {
		return Entry{}, false, err
	}
	var doc mongoDoc
	err = coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, kverrors.Backend(DriverMongoDB, "get", err)
	}
	return doc.entry(), true, nil
}

func (m *MongoBackend) Delete(ctx context.Context, key string) error {
	coll, err := m.conn("delete")
	if err != nil {
		return err
	}
	_, err = coll.DeleteOne(ctx, bson.M{"_id": key})
	return kverrors.Backend(DriverMongoDB, "delete", err)
}

func (m *MongoBackend) Clear(ctx context.Context) error {
	coll, err := m.conn("clear")
	if err != nil {
		return err
	}
	_, err = coll.DeleteMany(ctx, bson.M{})
	return kverrors.Backend(DriverMongoDB, "clear", err)
}

func (m *MongoBackend) Has(ctx context.Context, key string) (bool, error) {
	coll, err := m.conn("has")
	if err != nil {
		return false, err
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": key}, options.Count().SetLimit(1))
	if err != nil {
		return false, kverrors.Backend(DriverMongoDB, "has", err)
	}
	return n > 0, nil
}

func (m *MongoBackend) All(ctx context.Context) ([]Item, error) {
	coll, err := m.conn("all")
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, kverrors.Backend(DriverMongoDB, "all", err)
	}

	var docs []mongoDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, kverrors.Backend(DriverMongoDB, "all", err)
	}

	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, Item{Key: doc.Key, Entry: doc.entry()})
	}
	sortItems(items)
	return items, nil
}

func (d mongoDoc) entry() Entry {
	return Entry{Value: d.Value, Type: codec.TypeTag(d.Type), TTL: d.TTL}
}

func (m *MongoBackend) conn(op string) (*mongo.Collection, error) {
	if m.coll == nil {
		return nil, kverrors.Backend(DriverMongoDB, op, kverrors.ErrClosed)
	}
	return m.coll, nil
}
