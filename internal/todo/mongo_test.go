package todo

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"gotest.tools/v3/assert"
)

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func todoDocument(id primitive.ObjectID, title string, completed bool) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "title", Value: title},
		{Key: "completed", Value: completed},
	}
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("create", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		created, err := store.Create(ctx, "write tests", false)
		assert.NilError(mt, err)
		assert.Equal(mt, created.Title, "write tests")
		assert.Assert(mt, primitive.IsValidObjectID(created.ID))

		command := mt.GetStartedEvent().Command
		assert.Equal(mt, command.Lookup("documents", "0", "title").StringValue(), "write tests")
		assert.Equal(mt, command.Lookup("documents", "0", "_id").ObjectID().Hex(), created.ID)
	})

	mt.Run("create rejected", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		_, err := store.Create(ctx, "twice", false)
		assert.ErrorContains(mt, err, "inserting todo")
		assert.ErrorContains(mt, err, "duplicate key")
	})

	mt.Run("get all", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		first, second := primitive.NewObjectID(), primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			todoDocument(first, "a", false),
			todoDocument(second, "b", true)))

		todos, err := store.GetAll(ctx)
		assert.NilError(mt, err)
		assert.DeepEqual(mt, todos, []Todo{
			{ID: first.Hex(), Title: "a"},
			{ID: second.Hex(), Title: "b", Completed: true},
		})
	})

	mt.Run("get all empty", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		todos, err := store.GetAll(ctx)
		assert.NilError(mt, err)
		assert.Equal(mt, len(todos), 0)
		assert.Assert(mt, todos != nil)
	})

	mt.Run("get", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			todoDocument(id, "a", true)))

		got, err := store.Get(ctx, id.Hex())
		assert.NilError(mt, err)
		assert.Equal(mt, got, Todo{ID: id.Hex(), Title: "a", Completed: true})
	})

	mt.Run("get missing", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := store.Get(ctx, primitive.NewObjectID().Hex())
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("malformed id", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)

		_, err := store.Get(ctx, "not-an-id")
		assert.ErrorIs(mt, err, ErrNotFound)
		_, err = store.Update(ctx, "not-an-id", "x", true)
		assert.ErrorIs(mt, err, ErrNotFound)
		_, err = store.Delete(ctx, "not-an-id")
		assert.ErrorIs(mt, err, ErrNotFound)
		assert.Equal(mt, len(mt.GetAllStartedEvents()), 0)
	})

	mt.Run("update", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: todoDocument(id, "renamed", true)}))

		updated, err := store.Update(ctx, id.Hex(), "renamed", true)
		assert.NilError(mt, err)
		assert.Equal(mt, updated, Todo{ID: id.Hex(), Title: "renamed", Completed: true})

		command := mt.GetStartedEvent().Command
		assert.Equal(mt, command.Lookup("query", "_id").ObjectID(), id)
		assert.Equal(mt, command.Lookup("update", "$set", "title").StringValue(), "renamed")
	})

	mt.Run("update missing", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))

		_, err := store.Update(ctx, primitive.NewObjectID().Hex(), "x", false)
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("delete", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		deleted, err := store.Delete(ctx, primitive.NewObjectID().Hex())
		assert.NilError(mt, err)
		assert.Equal(mt, deleted, int64(1))
	})

	mt.Run("delete missing", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))

		_, err := store.Delete(ctx, primitive.NewObjectID().Hex())
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("delete all", func(mt *mtest.T) {
		store := newMongoStore(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}))

		deleted, err := store.Delete(ctx, All)
		assert.NilError(mt, err)
		assert.Equal(mt, deleted, int64(3))

		command := mt.GetStartedEvent().Command
		assert.Equal(mt, command.Lookup("deletes", "0", "limit").AsInt64(), int64(0))
	})
}
