package restmodel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restmodel-io/restmodel/pkg/restmodel"
)

func TestLoadSplitsPrefixOptions(t *testing.T) {
	t.Parallel()

	class := restmodel.NewClass("LoaderComment",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("comment"),
		restmodel.WithPrefix("/posts/:post_id/"),
	)

	resource, err := class.New(map[string]any{
		"post_id": 7,
		"text":    "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"post_id": 7}, resource.PrefixOptions())
	assert.False(t, resource.Attributes().Has("post_id"))
	assert.Equal(t, "hello", resource.GetString("text"))
}

func TestLoadRootUnwrap(t *testing.T) {
	t.Parallel()

	class := restmodel.NewClass("LoaderPerson",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("loader_person"),
	)

	resource, err := class.New(nil)
	require.NoError(t, err)

	err = restmodel.Load(resource, map[string]any{
		"loader_person": map[string]any{"id": float64(1), "name": "Matz"},
	}, true, true)
	require.NoError(t, err)

	assert.Equal(t, "Matz", resource.GetString("name"))
	assert.True(t, resource.Persisted())
}

// A single attribute whose key happens to equal the element name and whose
// value is a map is indistinguishable from a wrapped payload; the wrapper
// interpretation wins.
func TestLoadRootUnwrapAmbiguity(t *testing.T) {
	t.Parallel()

	class := restmodel.NewClass("LoaderGroup",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("loader_group"),
	)

	resource, err := class.New(nil)
	require.NoError(t, err)

	err = restmodel.Load(resource, map[string]any{
		"loader_group": map[string]any{"size": float64(3)},
	}, true, false)
	require.NoError(t, err)

	assert.EqualValues(t, 3, resource.GetInt("size"))
	assert.False(t, resource.Attributes().Has("loader_group"))
}

func TestLoadNoUnwrapWhenMultipleKeys(t *testing.T) {
	t.Parallel()

	class := restmodel.NewClass("LoaderTag",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("loader_tag"),
	)

	resource, err := class.New(nil)
	require.NoError(t, err)

	err = restmodel.Load(resource, map[string]any{
		"loader_tag": map[string]any{"x": float64(1)},
		"other":      "y",
	}, true, false)
	require.NoError(t, err)

	assert.True(t, resource.Attributes().Has("loader_tag"))
	assert.Equal(t, "y", resource.GetString("other"))
}

func TestLoadNestedHasOne(t *testing.T) {
	t.Parallel()

	class := restmodel.NewClass("LoaderCustomer",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("loader_customer"),
	)

	resource, err := class.New(map[string]any{
		"name": "Ada",
		"address": map[string]any{
			"street": "12 Main St",
		},
	})
	require.NoError(t, err)

	address, ok := resource.GetResource("address")
	require.True(t, ok)
	assert.Equal(t, "12 Main St", address.GetString("street"))
}

func TestLoadNestedHasMany(t *testing.T) {
	t.Parallel()

	class := restmodel.NewClass("LoaderOrder",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("loader_order"),
	)

	resource, err := class.New(map[string]any{
		"line_items": []any{
			map[string]any{"sku": "a"},
			map[string]any{"sku": "b"},
		},
	})
	require.NoError(t, err)

	items, ok := resource.GetResources("line_items")
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].GetString("sku"))
	assert.Equal(t, "b", items[1].GetString("sku"))

	// Nested classes derive from the singularized key.
	assert.Equal(t, "LineItem", items[0].Class().Name())
}

func TestLoadDeclaredReflectionWins(t *testing.T) {
	t.Parallel()

	target := restmodel.NewClass("LoaderPostalAddress",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("postal_address"),
	)

	class := restmodel.NewClass("LoaderContact",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("loader_contact"),
	)
	class.HasOne("address", restmodel.WithClass(target))

	resource, err := class.New(map[string]any{
		"address": map[string]any{"street": "1 Elm"},
	})
	require.NoError(t, err)

	address, ok := resource.GetResource("address")
	require.True(t, ok)
	assert.Equal(t, "LoaderPostalAddress", address.Class().Name())
}

func TestAssociationAccess(t *testing.T) {
	t.Parallel()

	class := restmodel.NewClass("LoaderBand",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("loader_band"),
	)
	class.HasMany("members")

	resource, err := class.New(map[string]any{
		"members": []any{map[string]any{"name": "Ringo"}},
	})
	require.NoError(t, err)

	value, err := resource.Association("members")
	require.NoError(t, err)

	members, ok := value.([]*restmodel.Resource)
	require.True(t, ok)
	require.Len(t, members, 1)

	_, err = resource.Association("roadies")
	assert.ErrorIs(t, err, restmodel.ErrUnknownAssociation)
}

func TestLoadScalarSliceDuplicated(t *testing.T) {
	t.Parallel()

	class := restmodel.NewClass("LoaderDoc",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("loader_doc"),
	)

	payload := []any{"a", "b"}

	resource, err := class.New(map[string]any{"tags": payload})
	require.NoError(t, err)

	payload[0] = "mutated"

	stored, ok := resource.Get("tags")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, stored)
}

func TestLoadStoresKeysInSortedOrder(t *testing.T) {
	t.Parallel()

	class := restmodel.NewClass("LoaderSorted",
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName("loader_sorted"),
	)

	resource, err := class.New(map[string]any{"zeta": 1, "alpha": 2, "mid": 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, resource.Attributes().Keys())
}

func TestAttrsOrderAndDup(t *testing.T) {
	t.Parallel()

	attrs := restmodel.NewAttrs()
	attrs.Set("b", 1)
	attrs.Set("a", 2)
	attrs.Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, attrs.Keys())

	dup := attrs.Dup()
	dup.Set("c", 4)

	assert.Equal(t, 2, attrs.Len())
	assert.Equal(t, 3, dup.Len())

	attrs.Delete("b")
	assert.Equal(t, []string{"a"}, attrs.Keys())
}
