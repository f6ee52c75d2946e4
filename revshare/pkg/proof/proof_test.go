package proof

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	revsharetesting "github.com/ziswaf/revshare/utils/pkg/testing"
)

type fakeS3 struct {
	objects map[string]bool
	err     error
	keys    []string
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	if f.err != nil {
		return nil, f.err
	}
	if !f.objects[aws.ToString(in.Key)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func newVerifier(t *testing.T, client HeadObjectAPI) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Logger: revsharetesting.NewLogger(), Client: client, Bucket: "proofs", Prefix: "disbursements/"})
	require.NoError(t, err)
	return v
}

func TestRevShare_Proof_Verify_ResolvesReferences(t *testing.T) {
	t.Parallel()
	fake := &fakeS3{objects: map[string]bool{"disbursements/d-1.pdf": true, "other/d-2.jpg": true}}
	v := newVerifier(t, fake)

	require.NoError(t, v.Verify(t.Context(), "d-1.pdf"))
	require.NoError(t, v.Verify(t.Context(), "s3://proofs/other/d-2.jpg"))
	require.Equal(t, []string{"proofs/disbursements/d-1.pdf", "proofs/other/d-2.jpg"}, fake.keys)
}

func TestRevShare_Proof_Verify_MissingObject(t *testing.T) {
	t.Parallel()
	v := newVerifier(t, &fakeS3{})

	err := v.Verify(t.Context(), "d-9.pdf")
	require.ErrorIs(t, err, ErrProofNotFound)

	v = newVerifier(t, &fakeS3{err: &smithy.GenericAPIError{Code: "NoSuchKey"}})
	require.ErrorIs(t, v.Verify(t.Context(), "d-9.pdf"), ErrProofNotFound)
}

func TestRevShare_Proof_Verify_RejectsForeignReferences(t *testing.T) {
	t.Parallel()
	fake := &fakeS3{}
	v := newVerifier(t, fake)

	for _, ref := range []string{"", "  ", "s3://elsewhere/d-1.pdf", "s3://proofs/", "https://cdn.example/d-1.pdf"} {
		require.ErrorIs(t, v.Verify(t.Context(), ref), ErrProofInvalid, ref)
	}
	require.Empty(t, fake.keys)
}

func TestRevShare_Proof_Verify_TransportErrorIsNotNotFound(t *testing.T) {
	t.Parallel()
	v := newVerifier(t, &fakeS3{err: errors.New("dial tcp: connection refused")})

	err := v.Verify(t.Context(), "d-1.pdf")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrProofNotFound)
}

func TestRevShare_Proof_Config_Validate(t *testing.T) {
	t.Parallel()
	_, err := NewVerifier(Config{Logger: revsharetesting.NewLogger(), Client: &fakeS3{}})
	require.Error(t, err)
	_, err = NewVerifier(Config{Logger: revsharetesting.NewLogger(), Bucket: "b"})
	require.Error(t, err)
}
