package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/fleet-telemetry/internal/telemetry"
)

// ThresholdStore reads and writes stored threshold rules. Stored rules
// replace the defaults for their parameter when the catalog is built.
type ThresholdStore struct {
	Collection *mongo.Collection
}

// LoadRules returns every stored rule.
func (s *ThresholdStore) LoadRules(ctx context.Context) ([]telemetry.ThresholdRule, error) {
	if s.Collection == nil {
		return nil, errNilCollection
	}
	cursor, err := s.Collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find thresholds: %w", err)
	}
	defer cursor.Close(ctx)

	var rules []telemetry.ThresholdRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("decode thresholds: %w", err)
	}
	return rules, nil
}

// SaveRule upserts the rule for its parameter.
func (s *ThresholdStore) SaveRule(ctx context.Context, rule telemetry.ThresholdRule) error {
	if s.Collection == nil {
		return errNilCollection
	}
	_, err := s.Collection.ReplaceOne(ctx,
		bson.M{"parameter": rule.Parameter},
		rule,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save threshold %s: %w", rule.Parameter, err)
	}
	return nil
}

// Catalog layers the stored rules over base.
func (s *ThresholdStore) Catalog(ctx context.Context, base *telemetry.Catalog) (*telemetry.Catalog, error) {
	rules, err := s.LoadRules(ctx)
	if err != nil {
		return nil, err
	}
	return base.WithOverrides(rules...), nil
}
