// Package qdrant provides a vector store backed by a Qdrant collection.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// pointNamespace derives stable point ids from source ids.
var pointNamespace = uuid.MustParse("6f1c7a4e-31b5-4c55-9a55-0d1f0b8e2a17")

// Config holds the Qdrant store configuration.
type Config struct {
	// Addr is the gRPC endpoint, host:port.
	Addr       string
	Collection string
	APIKey     string
	// Dimension creates the collection up front. Zero defers creation to the first upsert.
	Dimension int
}

// Store keeps one point per source id. Searches are exact, and ties at the
// top-k boundary are resolved by fetching until the boundary score group is
// complete.
type Store struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	coll       pb.CollectionsClient
	collection string
	apiKey     string
	logger     *slog.Logger

	mu    sync.Mutex
	ready bool
}

// New connects to Qdrant and ensures the collection when the dimension is known.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "firefly_transactions"
	}

	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := &Store{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		coll:       pb.NewCollectionsClient(conn),
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		logger:     logger,
	}

	if err := s.checkCollection(ctx, cfg.Dimension); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Info("connected to qdrant", "addr", cfg.Addr, "collection", cfg.Collection)
	return s, nil
}

func (s *Store) withAuth(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

// checkCollection marks the store ready if the collection exists, creating it
// when dim is known.
func (s *Store) checkCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ctx, dim)
}

func (s *Store) ensureLocked(ctx context.Context, dim int) error {
	if s.ready {
		return nil
	}

	_, err := s.coll.Get(s.withAuth(ctx), &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err == nil {
		s.ready = true
		return nil
	}
	if status.Code(err) != codes.NotFound && !strings.Contains(err.Error(), "doesn't exist") {
		return fmt.Errorf("getting collection %s: %w", s.collection, err)
	}
	if dim == 0 {
		return nil
	}

	s.logger.Info("creating qdrant collection", "collection", s.collection, "dimension", dim)
	_, err = s.coll.Create(s.withAuth(ctx), &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	s.ready = true
	return nil
}

// isReady reports whether the collection exists, checking again if another
// process may have created it since.
func (s *Store) isReady(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(ctx, 0); err != nil {
		return false, err
	}
	return s.ready, nil
}

// Upsert inserts or replaces rec by source id.
func (s *Store) Upsert(ctx context.Context, rec *api.TransactionRecord) error {
	return s.UpsertMany(ctx, []*api.TransactionRecord{rec})
}

// UpsertMany writes all records in one request. Each point is replaced whole.
func (s *Store) UpsertMany(ctx context.Context, recs []*api.TransactionRecord) error {
	if s == nil || s.conn == nil {
		return api.NewStorageError("upsert", api.ErrNotInitialized)
	}
	if len(recs) == 0 {
		return nil
	}

	dim := 0
	points := make([]*pb.PointStruct, 0, len(recs))
	for _, rec := range recs {
		if err := store.Validate(rec); err != nil {
			return api.NewStorageError("upsert", err)
		}
		if err := store.CheckDim(dim, len(rec.Embedding)); err != nil {
			return api.NewStorageError("upsert", err)
		}
		dim = len(rec.Embedding)
		points = append(points, toPoint(rec))
	}

	s.mu.Lock()
	err := s.ensureLocked(ctx, dim)
	s.mu.Unlock()
	if err != nil {
		return api.NewStorageError("upsert", err)
	}

	wait := true
	_, err = s.points.Upsert(s.withAuth(ctx), &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return api.NewStorageError("upsert", fmt.Errorf("qdrant upsert: %w", err))
	}
	return nil
}

// Query runs an exact search with the filter pushed down to Qdrant.
func (s *Store) Query(ctx context.Context, v vector.Vector, k int, f *store.Filter) ([]api.SuggestionCandidate, error) {
	if s == nil || s.conn == nil {
		return nil, api.NewStorageError("query", api.ErrNotInitialized)
	}
	if k <= 0 {
		return []api.SuggestionCandidate{}, nil
	}
	ready, err := s.isReady(ctx)
	if err != nil {
		return nil, api.NewStorageError("query", err)
	}
	if !ready {
		return []api.SuggestionCandidate{}, nil
	}

	exact := true
	limit := k + 1
	for {
		res, err := s.points.Search(s.withAuth(ctx), &pb.SearchPoints{
			CollectionName: s.collection,
			Vector:         v,
			Limit:          uint64(limit),
			Filter:         buildFilter(f),
			Params:         &pb.SearchParams{Exact: &exact},
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return nil, api.NewStorageError("query", fmt.Errorf("qdrant search: %w", err))
		}

		cands := make([]api.SuggestionCandidate, 0, len(res.Result))
		for _, p := range res.Result {
			rec, err := fromPayload(p.Payload)
			if err != nil {
				return nil, api.NewStorageError("query", err)
			}
			cands = append(cands, api.SuggestionCandidate{Record: rec, Score: vector.Clip01(float64(p.Score))})
		}

		// Done when the collection is exhausted or the last fetched score lies
		// strictly below the k-th, so no tied candidate was cut off.
		if len(cands) < limit || len(cands) <= k || cands[len(cands)-1].Score < cands[k-1].Score {
			return store.Rank(cands, k), nil
		}
		limit *= 2
	}
}

// Count returns the exact number of points in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.conn == nil {
		return 0, api.NewStorageError("count", api.ErrNotInitialized)
	}
	ready, err := s.isReady(ctx)
	if err != nil {
		return 0, api.NewStorageError("count", err)
	}
	if !ready {
		return 0, nil
	}
	exact := true
	res, err := s.points.Count(s.withAuth(ctx), &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, api.NewStorageError("count", fmt.Errorf("qdrant count: %w", err))
	}
	return int(res.GetResult().GetCount()), nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.logger.Info("closed qdrant connection")
	return err
}

// PointID returns the deterministic point id for a source id.
func PointID(sourceID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(sourceID)).String()
}

func toPoint(rec *api.TransactionRecord) *pb.PointStruct {
	n := store.Normalize(rec)
	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(n.SourceID)},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: n.Embedding},
			},
		},
		Payload: toPayload(&n),
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: i}}
}

func toPayload(rec *api.TransactionRecord) map[string]*pb.Value {
	tags := make([]*pb.Value, len(rec.Tags))
	for i, t := range rec.Tags {
		tags[i] = stringValue(t)
	}
	return map[string]*pb.Value{
		"source_id":    stringValue(rec.SourceID),
		"type":         stringValue(rec.Type),
		"amount":       stringValue(rec.Amount.String()),
		"currency":     stringValue(rec.Currency),
		"description":  stringValue(rec.Description),
		"category":     stringValue(rec.Category),
		"category_key": stringValue(strings.ToLower(rec.Category)),
		"payee":        stringValue(rec.Payee),
		"account":      stringValue(rec.Account),
		"account_id":   stringValue(rec.AccountID),
		"tags":         {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: tags}}},
		"timestamp":    stringValue(rec.Timestamp.Format(time.RFC3339Nano)),
		"timestamp_us": intValue(rec.Timestamp.UnixMicro()),
		"updated_at":   stringValue(rec.UpdatedAt.Format(time.RFC3339Nano)),
	}
}

func fromPayload(p map[string]*pb.Value) (api.TransactionRecord, error) {
	str := func(key string) string { return p[key].GetStringValue() }

	rec := api.TransactionRecord{
		SourceID:    str("source_id"),
		Type:        str("type"),
		Currency:    str("currency"),
		Description: str("description"),
		Category:    str("category"),
		Payee:       str("payee"),
		Account:     str("account"),
		AccountID:   str("account_id"),
	}

	var err error
	if rec.Amount, err = decimal.NewFromString(str("amount")); err != nil {
		return rec, fmt.Errorf("parsing amount of %s: %w", rec.SourceID, err)
	}
	if rec.Timestamp, err = time.Parse(time.RFC3339Nano, str("timestamp")); err != nil {
		return rec, fmt.Errorf("parsing timestamp of %s: %w", rec.SourceID, err)
	}
	if u := str("updated_at"); u != "" {
		if t, err := time.Parse(time.RFC3339Nano, u); err == nil {
			rec.UpdatedAt = t
		}
	}
	for _, v := range p["tags"].GetListValue().GetValues() {
		rec.Tags = append(rec.Tags, v.GetStringValue())
	}
	return rec, nil
}

func buildFilter(f *store.Filter) *pb.Filter {
	if f == nil {
		return nil
	}

	var must []*pb.Condition
	if f.Category != "" {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "category_key",
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: strings.ToLower(f.Category)},
					},
				},
			},
		})
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		r := &pb.Range{}
		if !f.From.IsZero() {
			from := float64(f.From.UnixMicro())
			r.Gte = &from
		}
		if !f.To.IsZero() {
			to := float64(f.To.UnixMicro())
			r.Lte = &to
		}
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{Key: "timestamp_us", Range: r},
			},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}
