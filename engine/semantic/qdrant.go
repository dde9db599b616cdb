package semantic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/pkg/logger"
)

// DefaultDescription is attached to every collection this package creates.
const DefaultDescription = "University knowledge base"

// pointIDNamespace derives stable point UUIDs from caller ids.
var pointIDNamespace = uuid.MustParse("6f0c2a6e-4d8b-5b7a-9a53-2f1d0c8e7b41")

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantOptions configures the Qdrant backend.
type QdrantOptions struct {
	// Addr is the gRPC host:port.
	Addr       string
	APIKey     string
	UseTLS     bool
	Dimensions int
	// Description is stored as collection metadata. Defaults to
	// DefaultDescription.
	Description string
	Logger      *zap.Logger
}

// QdrantStore is the sole owner of all Qdrant operations.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	addr        string
	dims        int
	description string
	log         *zap.Logger

	mu    sync.Mutex
	known map[string]bool
}

var _ Store = (*QdrantStore)(nil)

// NewQdrant creates a store connected to Qdrant over gRPC. The connection is
// established lazily by the first call.
func NewQdrant(opts QdrantOptions) (*QdrantStore, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("semantic: dimensions must be positive, got %d", opts.Dimensions)
	}
	creds := insecure.NewCredentials()
	if opts.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}
	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, &domain.StoreConnectionError{Addr: opts.Addr, Err: err}
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), opts)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a store over existing gRPC clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, opts QdrantOptions) *QdrantStore {
	if opts.Description == "" {
		opts.Description = DefaultDescription
	}
	return &QdrantStore{
		points:      points,
		collections: collections,
		addr:        opts.Addr,
		dims:        opts.Dimensions,
		description: opts.Description,
		log:         logger.OrNop(opts.Logger).Named("qdrant"),
		known:       map[string]bool{},
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// wrap turns transport failures into StoreConnectionError and annotates the rest.
func (s *QdrantStore) wrap(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.Unavailable {
		return &domain.StoreConnectionError{Addr: s.addr, Err: fmt.Errorf("%s %s: %w", op, collection, err)}
	}
	return fmt.Errorf("semantic: %s %s: %w", op, collection, err)
}

func (s *QdrantStore) exists(ctx context.Context, name string) (bool, error) {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, s.wrap("list collections", "", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// GetOrCreateCollection creates the collection if it doesn't exist.
func (s *QdrantStore) GetOrCreateCollection(ctx context.Context, name string) error {
	if name == "" {
		return domain.NewInputError("collection", name, domain.ErrEmptyText)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[name] {
		return nil
	}

	ok, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		_, err = s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(s.dims),
						Distance: pb.Distance_Cosine,
					},
				},
			},
			Metadata: map[string]*pb.Value{
				"description": {Kind: &pb.Value_StringValue{StringValue: s.description}},
			},
		})
		// Another writer may have won the race.
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return s.wrap("create collection", name, err)
		}
		s.log.Info("collection created", zap.String("collection", name), zap.Int("dims", s.dims))
	}
	s.known[name] = true
	return nil
}

// AddDocuments upserts one point per document and waits for the write.
func (s *QdrantStore) AddDocuments(ctx context.Context, collection string, ids []string, vectors [][]float32, contents []string, metadatas []domain.Metadata) error {
	if err := checkBatch(ids, vectors, contents, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != s.dims {
			return domain.NewInputError("vectors["+strconv.Itoa(i)+"]",
				fmt.Sprintf("len=%d want=%d", len(v), s.dims), domain.ErrDimension)
		}
	}
	if err := s.GetOrCreateCollection(ctx, collection); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(ids))
	for i, id := range ids {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(collection, id)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: toPayload(id, contents[i], metadatas[i]),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return s.wrap(fmt.Sprintf("upsert %d points into", len(points)), collection, err)
	}
	return nil
}

// QueryCollection performs filtered k-NN search under cosine distance.
func (s *QdrantStore) QueryCollection(ctx context.Context, collection string, vector []float32, limit int, where domain.MetadataFilter, whereDocument domain.DocumentFilter) ([]domain.RetrievalResult, error) {
	if err := checkQuery(collection, vector, limit, where); err != nil {
		return nil, err
	}
	if err := s.GetOrCreateCollection(ctx, collection); err != nil {
		return nil, err
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         buildFilter(where, whereDocument),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, s.wrap("search", collection, err)
	}

	results := make([]domain.RetrievalResult, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		results[i] = fromScoredPoint(p)
	}
	return results, nil
}

// Count returns the exact number of points in collection.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	if err := s.GetOrCreateCollection(ctx, collection); err != nil {
		return 0, err
	}
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: collection, Exact: &exact})
	if err != nil {
		return 0, s.wrap("count", collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// DeleteCollection drops the collection when it exists.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.known, name)

	ok, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return s.wrap("delete collection", name, err)
	}
	s.log.Info("collection deleted", zap.String("collection", name))
	return nil
}

// pointID maps a caller id onto the UUID space Qdrant accepts.
func pointID(collection, id string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(collection+"/"+id)).String()
}

// IsConnectionError reports whether err means the store could not be reached.
func IsConnectionError(err error) bool {
	return errors.Is(err, domain.ErrStoreConnection)
}
