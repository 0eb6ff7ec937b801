package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/stancemap/internal/pathutil"
	"github.com/keithlinneman/stancemap/internal/xerrors"
)

// maxSummaryBytes caps a summary object read from S3
const maxSummaryBytes = 1 << 20

// S3API is the subset of the S3 client used for summary snapshots
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Summaries stores summary snapshots as JSON in S3:
//
//	s3://{bucket}/{prefix}/{room}/latest.json
//	s3://{bucket}/{prefix}/{room}/{20060102T150405Z}.json
//
// latest.json is overwritten on every save, the timestamped copy is the history.
type S3Summaries struct {
	client S3API
	bucket string
	prefix string
}

var _ SummaryStore = (*S3Summaries)(nil)

func NewS3Summaries(client S3API, bucket, prefix string) (*S3Summaries, error) {
	if client == nil {
		return nil, xerrors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, xerrors.New("summaries bucket is required")
	}
	return &S3Summaries{client: client, bucket: bucket, prefix: prefix}, nil
}

// objectKey refuses room ids and names that are not a single safe segment
// and any joined key that would leave the prefix
func (s *S3Summaries) objectKey(roomID, name string) (string, error) {
	if !pathutil.IsSafeSegment(roomID) {
		return "", xerrors.Newf("invalid room id %q for summary key", roomID)
	}
	if name == "" || strings.Contains(name, "/") || pathutil.HasDotSegments(name) {
		return "", xerrors.Newf("invalid summary object name %q", name)
	}
	key := path.Join(s.prefix, roomID, name)
	if !pathutil.Within(s.prefix, key) {
		return "", xerrors.Newf("summary key %q escapes prefix %q", key, s.prefix)
	}
	return key, nil
}

func (s *S3Summaries) LatestSummary(ctx context.Context, roomID string) (RoomSummary, error) {
	key, err := s.objectKey(roomID, "latest.json")
	if err != nil {
		return RoomSummary{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return RoomSummary{}, ErrNotFound
		}
		return RoomSummary{}, xerrors.Wrapf(err, "get s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxSummaryBytes+1))
	if err != nil {
		return RoomSummary{}, xerrors.Wrapf(err, "read s3://%s/%s", s.bucket, key)
	}
	if len(data) > maxSummaryBytes {
		return RoomSummary{}, xerrors.Newf("s3://%s/%s exceeds size limit (max %d bytes)", s.bucket, key, maxSummaryBytes)
	}
	var sum RoomSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return RoomSummary{}, xerrors.Wrapf(err, "decode s3://%s/%s", s.bucket, key)
	}
	return sum, nil
}

func (s *S3Summaries) SaveSummary(ctx context.Context, sum RoomSummary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return xerrors.Wrap(err, "encode summary")
	}
	at := sum.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	// archive copy first, then latest.json. both keys are checked before either write.
	names := []string{at.UTC().Format("20060102T150405Z") + ".json", "latest.json"}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		key, err := s.objectKey(sum.RoomID, name)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	for _, key := range keys {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return xerrors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
		}
	}
	return nil
}
