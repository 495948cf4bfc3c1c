package repositories

import (
	"context"
	"errors"
	"time"

	"storefront/internal/apperrors"
	"storefront/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoOrderRepository stores orders as documents in a MongoDB collection.
type MongoOrderRepository struct {
	col *mongo.Collection
}

// NewMongoOrderRepository wraps col and ensures its indexes exist.
func NewMongoOrderRepository(ctx context.Context, col *mongo.Collection) (*MongoOrderRepository, error) {
	r := &MongoOrderRepository{col: col}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *MongoOrderRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "gatewayId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "sessionId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "customerEmail", Value: 1}}},
		{Keys: bson.D{{Key: "paymentStatus", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return apperrors.Persistence("Failed to create order indexes", err)
	}
	return nil
}

// Create inserts a new order document.
func (r *MongoOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.ApplyDefaults()
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	if _, err := r.col.InsertOne(ctx, order); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.Persistence("Order with this gateway or session id already exists", err)
		}
		return apperrors.Persistence("Failed to create order", err)
	}
	return nil
}

func (r *MongoOrderRepository) findOne(ctx context.Context, filter bson.D) (*models.Order, error) {
	var order models.Order
	if err := r.col.FindOne(ctx, filter).Decode(&order); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("Order not found")
		}
		return nil, apperrors.Persistence("Failed to get order", err)
	}
	return &order, nil
}

// GetByID retrieves an order by its internal id.
func (r *MongoOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

// GetByGatewayID retrieves an order by its gateway id.
func (r *MongoOrderRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*models.Order, error) {
	return r.findOne(ctx, bson.D{{Key: "gatewayId", Value: gatewayID}})
}

// GetBySessionID retrieves an order by its checkout session id.
func (r *MongoOrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, apperrors.NotFound("Order not found")
	}
	return r.findOne(ctx, bson.D{{Key: "sessionId", Value: sessionID}})
}

func (r *MongoOrderRepository) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]models.Order, error) {
	cur, err := r.col.Find(ctx, filter, opts.SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, apperrors.Persistence("Failed to query orders", err)
	}
	orders := make([]models.Order, 0)
	if err := cur.All(ctx, &orders); err != nil {
		return nil, apperrors.Persistence("Failed to decode orders", err)
	}
	return orders, nil
}

// GetByEmail retrieves a customer's orders, newest first.
func (r *MongoOrderRepository) GetByEmail(ctx context.Context, email string) ([]models.Order, error) {
	return r.find(ctx, bson.D{{Key: "customerEmail", Value: models.NormalizeEmail(email)}}, options.Find())
}

func filterDoc(filter models.OrderFilter) bson.D {
	doc := bson.D{}
	if filter.PaymentStatus != "" {
		doc = append(doc, bson.E{Key: "paymentStatus", Value: filter.PaymentStatus})
	}
	if filter.OrderStatus != "" {
		doc = append(doc, bson.E{Key: "orderStatus", Value: filter.OrderStatus})
	}
	return doc
}

// List returns one page of orders, newest first.
func (r *MongoOrderRepository) List(ctx context.Context, filter models.OrderFilter, offset, limit int) ([]models.Order, error) {
	opts := options.Find().SetSkip(int64(offset)).SetLimit(int64(limit))
	return r.find(ctx, filterDoc(filter), opts)
}

// Count returns the number of orders matching filter.
func (r *MongoOrderRepository) Count(ctx context.Context, filter models.OrderFilter) (int64, error) {
	n, err := r.col.CountDocuments(ctx, filterDoc(filter))
	if err != nil {
		return 0, apperrors.Persistence("Failed to count orders", err)
	}
	return n, nil
}

func (r *MongoOrderRepository) updateOne(ctx context.Context, filter bson.D, patch models.OrderPatch) (*models.Order, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range patch.Fields() {
		set[k] = v
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var order models.Order
	err := r.col.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("Order not found")
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Persistence("Order with this gateway id already exists", err)
		}
		return nil, apperrors.Persistence("Failed to update order", err)
	}
	return &order, nil
}

// Update applies patch to the order with the given id while it still has the
// expected statuses.
func (r *MongoOrderRepository) Update(ctx context.Context, id string, expected models.OrderState, patch models.OrderPatch) (*models.Order, error) {
	order, err := r.updateOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "paymentStatus", Value: expected.PaymentStatus},
		{Key: "orderStatus", Value: expected.OrderStatus},
	}, patch)
	if apperrors.Is(err, apperrors.KindNotFound) {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperrors.Conflict("Order was modified concurrently", ErrStaleOrder)
	}
	return order, err
}

// UpdateByGatewayID applies patch to the order carrying gatewayID. The filter
// matches nothing for an unknown id, so nothing is written.
func (r *MongoOrderRepository) UpdateByGatewayID(ctx context.Context, gatewayID string, patch models.OrderPatch) (*models.Order, error) {
	return r.updateOne(ctx, bson.D{{Key: "gatewayId", Value: gatewayID}}, patch)
}

// Delete removes an order by its id.
func (r *MongoOrderRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return apperrors.Persistence("Failed to delete order", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound("Order not found")
	}
	return nil
}
