package usage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
	"github.com/dmitrymomot/clinicbilling/pkg/usage"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*s3.ListObjectsV2Output), args.Error(1)
	}
	return nil, args.Error(1)
}

func object(key string, size int64) types.Object {
	return types.Object{Key: aws.String(key), Size: aws.Int64(size)}
}

func TestS3Meter_StorageUsed(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	prefix := "clinics/" + tenantID.String() + "/"
	client := &mockS3{}

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Prefix) == prefix && in.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		Contents:              []types.Object{object(prefix+"xray.png", 1000), object(prefix+"scans/", 0)},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("page-2"),
	}, nil).Once()

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "page-2"
	})).Return(&s3.ListObjectsV2Output{
		Contents:    []types.Object{object(prefix+"scans/mri.dcm", 2500)},
		IsTruncated: aws.Bool(false),
	}, nil).Once()

	meter, err := usage.NewS3Meter(context.Background(), usage.S3Config{
		Bucket: "clinic-files",
		Region: "eu-west-1",
		Prefix: "clinics",
	}, usage.WithS3Client(client))
	require.NoError(t, err)

	got, err := meter.StorageUsed(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, billing.StorageUsage{Bytes: 3500, Files: 2}, got)
	client.AssertExpectations(t)
}

func TestS3Meter_Errors(t *testing.T) {
	t.Parallel()

	_, err := usage.NewS3Meter(context.Background(), usage.S3Config{Region: "eu-west-1"})
	assert.ErrorIs(t, err, usage.ErrInvalidConfig)

	client := &mockS3{}
	client.On("ListObjectsV2", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	meter, err := usage.NewS3Meter(context.Background(), usage.S3Config{Bucket: "b", Region: "r"}, usage.WithS3Client(client))
	require.NoError(t, err)

	_, err = meter.StorageUsed(context.Background(), uuid.New())
	assert.ErrorIs(t, err, usage.ErrListObjects)
}
