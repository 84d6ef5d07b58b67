package user

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"blind_relay/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	UserRepo struct {
		collection *mongo.Collection
	}
)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

// EnsureIndexes creates the unique index that makes duplicate names fail
// inside mongo rather than in a check-then-insert race.
func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name_lower", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return storageError("create index", err)
	}
	return nil
}

func (r *UserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	filter := bson.M{
		"name_lower": model.NormalizeName(name),
	}

	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, name)
	}

	if err != nil {
		return nil, storageError("find user", err)
	}

	return &user, nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	user.NameLower = model.NormalizeName(user.DisplayName)
	_, err := r.collection.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", model.ErrConflict, user.DisplayName)
	}
	if err != nil {
		return storageError("insert user", err)
	}
	return nil
}

func (r *UserRepo) Search(ctx context.Context, query string, limit int) ([]model.Identity, error) {
	filter := bson.M{
		"name_lower": bson.M{"$regex": regexp.QuoteMeta(model.NormalizeName(query))},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "name_lower", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"password_hash": 0})

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageError("search users", err)
	}
	defer cur.Close(ctx)

	var users []model.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, storageError("decode users", err)
	}

	res := make([]model.Identity, 0, len(users))
	for _, u := range users {
		res = append(res, u.Identity)
	}
	return res, nil
}

var _ Store = (*UserRepo)(nil)
