package todo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DatabaseName   = "my_database"
	CollectionName = "todos"

	connectTimeout = 10 * time.Second
)

var _ Store = (*MongoStore)(nil)

type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type document struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Title     string             `bson:"title"`
	Completed bool               `bson:"completed"`
}

func (d document) todo() Todo {
	return Todo{ID: d.ID.Hex(), Title: d.Title, Completed: d.Completed}
}

// MongoURI turns a host[:port] address into a connection string; the
// default port is 27017.
func MongoURI(address string) string {
	if strings.HasPrefix(address, "mongodb://") || strings.HasPrefix(address, "mongodb+srv://") {
		return address
	}
	if !strings.Contains(address, ":") {
		address += ":27017"
	}

	return "mongodb://" + address
}

// NewMongoStore connects to the MongoDB server at address and verifies the
// connection before returning.
func NewMongoStore(ctx context.Context, address string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(MongoURI(address)))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb at %s: %w", address, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb at %s: %w", address, err)
	}

	return newMongoStore(client, client.Database(DatabaseName).Collection(CollectionName)), nil
}

func newMongoStore(client *mongo.Client, collection *mongo.Collection) *MongoStore {
	return &MongoStore{client: client, collection: collection}
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return oid, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return oid, nil
}

func (s *MongoStore) Create(ctx context.Context, title string, completed bool) (Todo, error) {
	doc := document{ID: primitive.NewObjectID(), Title: title, Completed: completed}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return Todo{}, fmt.Errorf("inserting todo: %w", err)
	}

	return doc.todo(), nil
}

func (s *MongoStore) GetAll(ctx context.Context) ([]Todo, error) {
	cursor, err := s.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("finding todos: %w", err)
	}

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding todos: %w", err)
	}

	todos := make([]Todo, 0, len(docs))
	for _, doc := range docs {
		todos = append(todos, doc.todo())
	}

	return todos, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (Todo, error) {
	oid, err := objectID(id)
	if err != nil {
		return Todo{}, err
	}

	var doc document
	err = s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Todo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	} else if err != nil {
		return Todo{}, fmt.Errorf("finding todo %s: %w", id, err)
	}

	return doc.todo(), nil
}

func (s *MongoStore) Update(ctx context.Context, id, title string, completed bool) (Todo, error) {
	oid, err := objectID(id)
	if err != nil {
		return Todo{}, err
	}

	var doc document
	err = s.collection.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "title", Value: title},
			{Key: "completed", Value: completed},
		}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Todo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	} else if err != nil {
		return Todo{}, fmt.Errorf("updating todo %s: %w", id, err)
	}

	return doc.todo(), nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) (int64, error) {
	if id == All {
		res, err := s.collection.DeleteMany(ctx, bson.D{})
		if err != nil {
			return 0, fmt.Errorf("deleting todos: %w", err)
		}
		return res.DeletedCount, nil
	}

	oid, err := objectID(id)
	if err != nil {
		return 0, err
	}

	res, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return 0, fmt.Errorf("deleting todo %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return res.DeletedCount, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
