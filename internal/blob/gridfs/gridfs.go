package gridfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/avstrong/bnb/internal/blob"
	"github.com/avstrong/bnb/internal/logger"
)

type Config struct {
	L          *logger.Logger
	URI        string
	Database   string
	BucketName string
	PublicURL  string
}

// Store keeps blobs in a MongoDB GridFS bucket, one file per key.
type Store struct {
	l         *logger.Logger
	client    *mongo.Client
	bucket    *gridfs.Bucket
	publicURL string
}

type fileDoc struct {
	ID any `bson:"_id"`
}

func New(ctx context.Context, conf Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(conf.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))

		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	name := conf.BucketName
	if name == "" {
		name = "media"
	}

	bucket, err := gridfs.NewBucket(client.Database(conf.Database), options.GridFSBucket().SetName(name))
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))

		return nil, fmt.Errorf("open gridfs bucket %s: %w", name, err)
	}

	return &Store{l: conf.L, client: client, bucket: bucket, publicURL: conf.PublicURL}, nil
}

func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect from mongo: %w", err)
	}

	return nil
}

func (s *Store) ids(ctx context.Context, key string) ([]any, error) {
	cursor, err := s.bucket.FindContext(ctx, bson.D{{Key: "filename", Value: key}})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", key, err)
	}

	var docs []fileDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode files of %s: %w", key, err)
	}

	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}

	return ids, nil
}

// Put replaces whatever is stored under key.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	key, err := blob.CleanKey(key)
	if err != nil {
		return "", err
	}

	old, err := s.ids(ctx, key)
	if err != nil {
		return "", err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(deadline); err != nil {
			return "", fmt.Errorf("set write deadline: %w", err)
		}
	} else {
		_ = s.bucket.SetWriteDeadline(time.Time{})
	}

	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "contentType", Value: contentType}})

	if _, err := s.bucket.UploadFromStream(key, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	for _, id := range old {
		if err := s.bucket.DeleteContext(ctx, id); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			s.l.LogWarnf("Could not delete previous revision of %s: %v", key, err.Error())
		}
	}

	return blob.URL(s.publicURL, key), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := blob.CleanKey(key)
	if err != nil {
		return err
	}

	ids, err := s.ids(ctx, key)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		return fmt.Errorf("delete %s: %w", key, blob.ErrNotFound)
	}

	for _, id := range ids {
		if err := s.bucket.DeleteContext(ctx, id); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}

	return nil
}

func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := blob.CleanKey(strings.TrimPrefix(r.URL.Path, blob.MediaPrefix))
		if err != nil {
			http.NotFound(w, r)

			return
		}

		stream, err := s.bucket.OpenDownloadStreamByName(key)
		if errors.Is(err, gridfs.ErrFileNotFound) {
			http.NotFound(w, r)

			return
		}

		if err != nil {
			s.l.LogErrorf("Failed to open blob %s: %v", key, err.Error())
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)

			return
		}
		defer stream.Close()

		file := stream.GetFile()
		if ct, ok := file.Metadata.Lookup("contentType").StringValueOK(); ok {
			w.Header().Set("Content-Type", ct)
		}

		w.Header().Set("Cache-Control", "public, max-age=86400")

		if _, err := io.Copy(w, stream); err != nil {
			s.l.LogWarnf("Failed to stream blob %s: %v", key, err.Error())
		}
	})
}
