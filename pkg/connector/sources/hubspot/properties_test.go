package hubspot

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/pkg/config"
	"github.com/crmflow/crmflow/pkg/errors"
)

func TestResolvePropsDefaults(t *testing.T) {
	client := &fakeClient{}

	props, err := resolveProps(context.Background(), client, ObjectTypeDeal, nil, false)
	require.NoError(t, err)

	assert.Equal(t,
		"amount,closedate,createdate,dealname,dealstage,hs_lastmodifieddate,hs_object_id,pipeline",
		props)
}

func TestResolvePropsConfiguredNames(t *testing.T) {
	client := &fakeClient{}
	spec := &config.PropertySpec{Names: []string{"dealname", "amount", "dealname"}}

	props, err := resolveProps(context.Background(), client, ObjectTypeDeal, spec, false)
	require.NoError(t, err)

	assert.Equal(t, "amount,dealname", props, "names are deduplicated and sorted")
}

func TestResolvePropsAllSentinel(t *testing.T) {
	client := &fakeClient{
		listPropertyNames: func(ctx context.Context, objectType ObjectType) ([]string, error) {
			assert.Equal(t, ObjectTypeContact, objectType)
			return []string{"zeta", "alpha", "hs_internal"}, nil
		},
	}
	spec := &config.PropertySpec{All: true}

	props, err := resolveProps(context.Background(), client, ObjectTypeContact, spec, false)
	require.NoError(t, err)

	assert.Equal(t, "alpha,hs_internal,zeta", props)
}

func TestResolvePropsIncludesCustom(t *testing.T) {
	client := &fakeClient{
		listPropertyNames: func(ctx context.Context, objectType ObjectType) ([]string, error) {
			return []string{"hs_reserved", "custom_score", "amount"}, nil
		},
	}
	spec := &config.PropertySpec{Names: []string{"amount"}}

	props, err := resolveProps(context.Background(), client, ObjectTypeDeal, spec, true)
	require.NoError(t, err)

	assert.Equal(t, "amount,custom_score", props,
		"catalog names with the reserved prefix are not custom properties")
}

func TestResolvePropsCatalogError(t *testing.T) {
	client := &fakeClient{
		listPropertyNames: func(ctx context.Context, objectType ObjectType) ([]string, error) {
			return nil, errors.New(errors.ErrorTypeConnection, "boom")
		},
	}
	spec := &config.PropertySpec{All: true}

	_, err := resolveProps(context.Background(), client, ObjectTypeDeal, spec, false)
	require.Error(t, err)
}

func TestResolvePropsTooLong(t *testing.T) {
	names := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		names = append(names, fmt.Sprintf("custom_property_number_%04d", i))
	}
	spec := &config.PropertySpec{Names: names}

	_, err := resolveProps(context.Background(), &fakeClient{}, ObjectTypeDeal, spec, false)
	require.Error(t, err)

	var tooLong *PropsTooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, maxPropsLength, tooLong.Limit)
	assert.Greater(t, tooLong.Length, maxPropsLength)
	assert.LessOrEqual(t, len(tooLong.Preview), 200)
	assert.Contains(t, err.Error(), "too long to request")
}

func TestChunkPropsSmallInput(t *testing.T) {
	assert.Nil(t, chunkProps("", maxPropsLength))
	assert.Equal(t, []string{"a,b,c"}, chunkProps("a,b,c", maxPropsLength))
}

func TestChunkPropsRejoinsToOriginal(t *testing.T) {
	names := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		names = append(names, fmt.Sprintf("hs_date_entered_stage_%04d", i))
	}
	original := strings.Join(names, ",")
	require.Greater(t, len(original), maxPropsLength)

	chunks := chunkProps(original, maxPropsLength)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), maxPropsLength, "chunk %d over budget", i)
		assert.False(t, strings.HasPrefix(chunk, ","), "chunk %d starts mid-separator", i)
		assert.False(t, strings.HasSuffix(chunk, ","), "chunk %d ends mid-separator", i)
	}
	assert.Equal(t, original, strings.Join(chunks, ","),
		"no property may be lost or truncated by chunking")
}

func TestChunkPropsOversizedName(t *testing.T) {
	long := strings.Repeat("x", 30)
	original := "a," + long + ",b"

	chunks := chunkProps(original, 10)

	assert.Equal(t, original, strings.Join(chunks, ","))
	assert.Contains(t, chunks, long, "a name longer than the limit is emitted whole")
}
