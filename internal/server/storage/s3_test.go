package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	putIn  *s3.PutObjectInput
	putErr error

	getOut *s3.GetObjectOutput
	getErr error

	copyIn  *s3.CopyObjectInput
	copyErr error

	headErr error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putIn = in
	return &s3.PutObjectOutput{}, f.putErr
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.getOut, f.getErr
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.copyIn = in
	return &s3.CopyObjectOutput{}, f.copyErr
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{}, f.headErr
}

type fakePresign struct {
	ttl time.Duration
	err error
}

func (f *fakePresign) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	o := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(o)
	}
	f.ttl = o.Expires
	return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + *in.Bucket + "/" + *in.Key}, nil
}

func (f *fakePresign) PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	o := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(o)
	}
	f.ttl = o.Expires
	return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + *in.Bucket + "/" + *in.Key + "?put", Method: "PUT"}, nil
}

func TestPut_SetsContentTypeAndLength(t *testing.T) {
	api := &fakeS3{}
	s := newStore(api, &fakePresign{}, "photos")

	require.NoError(t, s.Put(context.Background(), "in/a.png", []byte("abc"), "image/png"))
	assert.Equal(t, "photos", *api.putIn.Bucket)
	assert.Equal(t, "in/a.png", *api.putIn.Key)
	assert.Equal(t, "image/png", *api.putIn.ContentType)
	assert.EqualValues(t, 3, *api.putIn.ContentLength)
}

func TestGet_ReturnsBodyAndType(t *testing.T) {
	api := &fakeS3{getOut: &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader("jpeg")),
		ContentType:   aws.String("image/jpeg"),
		ContentLength: aws.Int64(4),
	}}
	s := newStore(api, &fakePresign{}, "photos")

	obj, err := s.Get(context.Background(), "out/a.jpg")
	require.NoError(t, err)
	defer obj.Body.Close()

	b, _ := io.ReadAll(obj.Body)
	assert.Equal(t, "jpeg", string(b))
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.EqualValues(t, 4, obj.ContentLength)
}

func TestGet_NoSuchKeyIsNotFound(t *testing.T) {
	s := newStore(&fakeS3{getErr: &types.NoSuchKey{}}, &fakePresign{}, "photos")

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestCopy_EscapesSource(t *testing.T) {
	api := &fakeS3{}
	s := newStore(api, &fakePresign{}, "photos")

	require.NoError(t, s.Copy(context.Background(), "in/a b.png", "out/a.jpg"))
	assert.Equal(t, "photos%2Fin%2Fa%20b.png", *api.copyIn.CopySource)
	assert.Equal(t, "out/a.jpg", *api.copyIn.Key)
}

func TestExists(t *testing.T) {
	s := newStore(&fakeS3{}, &fakePresign{}, "photos")
	ok, err := s.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)

	s = newStore(&fakeS3{headErr: &types.NotFound{}}, &fakePresign{}, "photos")
	ok, err = s.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)

	s = newStore(&fakeS3{headErr: errors.New("boom")}, &fakePresign{}, "photos")
	_, err = s.Exists(context.Background(), "k")
	assert.Error(t, err)
}

func TestPresign_PassesTTL(t *testing.T) {
	p := &fakePresign{}
	s := newStore(&fakeS3{}, p, "photos")

	u, err := s.Presign(context.Background(), "out/a.jpg", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/photos/out/a.jpg", u)
	assert.Equal(t, 10*time.Minute, p.ttl)
}

func TestPresignPut(t *testing.T) {
	p := &fakePresign{}
	s := newStore(&fakeS3{}, p, "photos")

	u, err := s.PresignPut(context.Background(), "out/a.jpg", "image/jpeg", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/photos/out/a.jpg?put", u)
	assert.Equal(t, 15*time.Minute, p.ttl)

	s = newStore(&fakeS3{}, &fakePresign{err: errors.New("sign")}, "photos")
	_, err = s.PresignPut(context.Background(), "k", "image/jpeg", time.Minute)
	assert.Error(t, err)
}

func TestPresign_Error(t *testing.T) {
	s := newStore(&fakeS3{}, &fakePresign{err: errors.New("sign")}, "photos")
	_, err := s.Presign(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"api not found", &smithy.GenericAPIError{Code: "NotFound"}, common.ErrorNotFound},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, common.ErrTransient},
		{"deadline", context.DeadlineExceeded, common.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.in), tt.want)
		})
	}

	plain := errors.New("plain")
	assert.Same(t, plain, mapError(plain))
}

func TestNewS3Store_LoadConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	defer func() { loadDefaultAWSConfig = orig }()

	_, err := NewS3Store(context.Background(), Options{Bucket: "photos"})
	assert.Error(t, err)
}

func TestNewS3Store_CustomEndpointIsPathStyle(t *testing.T) {
	origNew := newS3ClientFromConfig
	var got s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&got)
		}
		return s3.NewFromConfig(cfg, optFns...)
	}
	defer func() { newS3ClientFromConfig = origNew }()

	s, err := NewS3Store(context.Background(), Options{
		Region:       "ap-northeast-1",
		AccessKey:    "a",
		SecretKey:    "b",
		Bucket:       "photos",
		BaseEndpoint: "http://127.0.0.1:9000",
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, got.UsePathStyle)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(got.BaseEndpoint))
}
