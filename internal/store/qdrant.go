package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// Payload keys written for every point.
const (
	payloadPackageID     = "package_id"
	payloadEmbeddingType = "embedding_type"
	payloadTextContent   = "text_content"
	payloadCreatedAt     = "created_at"
	payloadMetadata      = "metadata"
)

const scrollPageSize = 256

// QdrantOptions configures OpenQdrant.
type QdrantOptions struct {
	Host       string
	Port       int
	Collection string
	Dimensions int
	Timeout    time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// QdrantStore is the remote Store backend. The collection uses cosine
// distance; scores are recomputed locally so ordering and tie-breaks match
// the embedded backend. Metadata filters match string, numeric and boolean
// payload values by their ValueString rendering.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
	timer       opTimer
	logger      *slog.Logger
	now         func() time.Time
}

var _ Store = (*QdrantStore)(nil)

// OpenQdrant connects and creates the collection if it is missing.
func OpenQdrant(ctx context.Context, opts QdrantOptions) (*QdrantStore, error) {
	if opts.Dimensions <= 0 {
		return nil, terrors.ConfigError("embedding dimension must be positive", nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, terrors.StoreError("qdrant connect", err)
	}

	s := &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  opts.Collection,
		dims:        opts.Dimensions,
		timer:       opTimer{timeout: opts.Timeout},
		logger:      opts.Logger,
		now:         opts.Now,
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	return s.timer.run(ctx, "store.ensure_collection", func(ctx context.Context) error {
		exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
		if err != nil {
			return err
		}
		if exists.GetResult().GetExists() {
			return nil
		}
		_, err = s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
				Size:     uint64(s.dims),
				Distance: pb.Distance_Cosine,
			}}},
		})
		if err == nil {
			s.logger.Info("qdrant_collection_created",
				slog.String("collection", s.collection),
				slog.Int("dimensions", s.dims))
		}
		return err
	})
}

// Dimensions implements Store.
func (s *QdrantStore) Dimensions() int { return s.dims }

// Upsert implements Store.
func (s *QdrantStore) Upsert(ctx context.Context, rec *EmbeddingRecord) error {
	if err := prepare(rec, s.dims, s.now()); err != nil {
		return err
	}
	meta, err := toValue(rec.Metadata)
	if err != nil {
		return terrors.ValidationError("metadata is not representable", err)
	}

	wait := true
	return s.timer.run(ctx, "store.upsert", func(ctx context.Context) error {
		_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points: []*pb.PointStruct{{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: rec.ID}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Vector}}},
				Payload: map[string]*pb.Value{
					payloadPackageID:     stringValue(rec.PackageID),
					payloadEmbeddingType: stringValue(rec.EmbeddingType),
					payloadTextContent:   stringValue(rec.TextContent),
					payloadCreatedAt:     stringValue(rec.CreatedAt.Format(time.RFC3339Nano)),
					payloadMetadata:      meta,
				},
			}},
		})
		return err
	})
}

// Query implements Store. The filter is pushed down to Qdrant, so the
// returned candidates already satisfy it.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	if len(vector) != s.dims {
		return nil, terrors.InvalidVectorDimension(s.dims, len(vector))
	}
	if topK <= 0 {
		return []ScoredRecord{}, nil
	}

	var results []ScoredRecord
	err := s.timer.run(ctx, "store.query", func(ctx context.Context) error {
		resp, err := s.points.Search(ctx, &pb.SearchPoints{
			CollectionName: s.collection,
			Vector:         vector,
			Limit:          uint64(searchLimit(topK)),
			Filter:         buildFilter(filter),
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return err
		}
		results = make([]ScoredRecord, 0, len(resp.GetResult()))
		for _, pt := range resp.GetResult() {
			rec, err := s.recordFrom(pt.GetId().GetUuid(), pt.GetPayload(), pt.GetVectors().GetVector().GetData())
			if err != nil {
				return err
			}
			results = append(results, ScoredRecord{Record: rec, Similarity: CosineSimilarity(vector, rec.Vector)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return TopK(results, topK), nil
}

// GetByPackage implements Store.
func (s *QdrantStore) GetByPackage(ctx context.Context, packageID string) ([]*EmbeddingRecord, error) {
	out := []*EmbeddingRecord{}
	err := s.timer.run(ctx, "store.get_by_package", func(ctx context.Context) error {
		var offset *pb.PointId
		limit := uint32(scrollPageSize)
		for {
			resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
				CollectionName: s.collection,
				Filter:         packageFilter(packageID),
				Offset:         offset,
				Limit:          &limit,
				WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
				WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
			})
			if err != nil {
				return err
			}
			for _, pt := range resp.GetResult() {
				rec, err := s.recordFrom(pt.GetId().GetUuid(), pt.GetPayload(), pt.GetVectors().GetVector().GetData())
				if err != nil {
					return err
				}
				out = append(out, rec)
			}
			offset = resp.GetNextPageOffset()
			if offset == nil {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

// DeleteByPackage implements Store.
func (s *QdrantStore) DeleteByPackage(ctx context.Context, packageID string) (int, error) {
	var n int
	err := s.timer.run(ctx, "store.delete_by_package", func(ctx context.Context) error {
		count, err := s.points.Count(ctx, &pb.CountPoints{
			CollectionName: s.collection,
			Filter:         packageFilter(packageID),
		})
		if err != nil {
			return err
		}
		n = int(count.GetResult().GetCount())

		wait := true
		_, err = s.points.Delete(ctx, &pb.DeletePoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: packageFilter(packageID),
			}},
		})
		return err
	})
	return n, err
}

// Count implements Store.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.timer.run(ctx, "store.count", func(ctx context.Context) error {
		resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection})
		if err != nil {
			return err
		}
		n = int(resp.GetResult().GetCount())
		return nil
	})
	return n, err
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func (s *QdrantStore) recordFrom(id string, payload map[string]*pb.Value, vec []float32) (*EmbeddingRecord, error) {
	if len(vec) != s.dims {
		return nil, terrors.InvalidVectorDimension(s.dims, len(vec)).WithDetail("record_id", id)
	}
	rec := &EmbeddingRecord{
		ID:            id,
		PackageID:     payload[payloadPackageID].GetStringValue(),
		EmbeddingType: payload[payloadEmbeddingType].GetStringValue(),
		TextContent:   payload[payloadTextContent].GetStringValue(),
		Vector:        vec,
	}
	if created, err := time.Parse(time.RFC3339Nano, payload[payloadCreatedAt].GetStringValue()); err == nil {
		rec.CreatedAt = created
	}
	if m, ok := fromValue(payload[payloadMetadata]).(map[string]any); ok {
		rec.Metadata = m
	}
	return rec, nil
}

func sortRecords(recs []*EmbeddingRecord) {
	scored := make([]ScoredRecord, len(recs))
	for i, r := range recs {
		scored[i] = ScoredRecord{Record: r}
	}
	SortScored(scored)
	for i := range scored {
		recs[i] = scored[i].Record
	}
}

func packageFilter(packageID string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{keywordCondition(payloadPackageID, []string{packageID})}}
}

// buildFilter translates a metadata Filter into Qdrant conditions on the
// nested metadata payload. "Any of" keyword matching covers array values.
func buildFilter(f Filter) *pb.Filter {
	active := f.Active()
	if len(active) == 0 {
		return nil
	}
	conds := make([]*pb.Condition, 0, len(active))
	for key, allowed := range active {
		field := payloadMetadata + "." + key
		if key == FieldEmbeddingType {
			field = payloadEmbeddingType
		}
		conds = append(conds, valueCondition(field, allowed))
	}
	return &pb.Filter{Must: conds}
}

// valueCondition matches key against allowed values the way ValueString
// renders them: as keywords, and also as numbers or booleans when a value
// is the canonical rendering of one. Numbers use a closed range so integer
// and double payloads both match.
func valueCondition(key string, allowed []string) *pb.Condition {
	alts := []*pb.Condition{keywordCondition(key, allowed)}
	for _, v := range allowed {
		switch v {
		case "true", "false":
			alts = append(alts, fieldCondition(&pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: v == "true"}},
			}))
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || ValueString(f) != v {
			continue
		}
		alts = append(alts, fieldCondition(&pb.FieldCondition{Key: key, Range: &pb.Range{Gte: &f, Lte: &f}}))
	}
	if len(alts) == 1 {
		return alts[0]
	}
	return &pb.Condition{ConditionOneOf: &pb.Condition_Filter{Filter: &pb.Filter{Should: alts}}}
}

func fieldCondition(fc *pb.FieldCondition) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: fc}}
}

func keywordCondition(key string, values []string) *pb.Condition {
	match := &pb.Match{MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}}}
	if len(values) == 1 {
		match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: values[0]}}
	}
	return fieldCondition(&pb.FieldCondition{Key: key, Match: match})
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// toValue converts JSON-like Go values into a Qdrant payload value.
func toValue(v any) (*pb.Value, error) {
	switch t := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}, nil
	case string:
		return stringValue(t), nil
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}, nil
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}, nil
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}, nil
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}, nil
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(t)}}, nil
	case []string:
		list := make([]*pb.Value, len(t))
		for i, s := range t {
			list[i] = stringValue(s)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: list}}}, nil
	case []any:
		list := make([]*pb.Value, len(t))
		for i, elem := range t {
			val, err := toValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = val
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: list}}}, nil
	case map[string]any:
		fields := make(map[string]*pb.Value, len(t))
		for k, elem := range t {
			val, err := toValue(elem)
			if err != nil {
				return nil, err
			}
			fields[k] = val
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}, nil
	default:
		return nil, fmt.Errorf("unsupported metadata value type %T", v)
	}
}

// fromValue is the inverse of toValue. Integers come back as float64 to
// match JSON decoding in the embedded backend.
func fromValue(v *pb.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return float64(k.IntegerValue)
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_ListValue:
		out := make([]any, len(k.ListValue.GetValues()))
		for i, elem := range k.ListValue.GetValues() {
			out[i] = fromValue(elem)
		}
		return out
	case *pb.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for key, elem := range k.StructValue.GetFields() {
			out[key] = fromValue(elem)
		}
		return out
	default:
		return nil
	}
}
