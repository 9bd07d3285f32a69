package s3

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittomds/pkg/fid"
)

func TestKeys(t *testing.T) {
	s := &S3Store{keyPrefix: "mds/"}
	f := fid.FID{Seq: 0x200000401, Oid: 1}

	assert.Equal(t, "mds/[0x200000401:0x1:0x0]/object", s.objectKey(f))
	assert.Equal(t, "mds/[0x200000401:0x1:0x0]/x/", s.attrPrefix(f))
	assert.Equal(t, "mds/[0x200000401:0x1:0x0]/x/user.a%2Fb", s.attrKey(f, "user.a/b"))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &types.NotFound{})))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))

	assert.True(t, isPreconditionFailed(&smithy.GenericAPIError{Code: "PreconditionFailed"}))
	assert.False(t, isPreconditionFailed(&types.NoSuchKey{}))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "b"}, nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(ctx, Config{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
