package restmodel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restmodel-io/restmodel/pkg/restmodel"
)

func TestFind(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "FindPerson", "find_person")
	registry.On("GET", "/find_people/1.json").
		Respond(200, []byte(`{"find_person":{"id":1,"name":"Matz"}}`), nil)

	resource, err := class.Find(context.Background(), 1, nil)
	require.NoError(t, err)

	assert.Equal(t, "Matz", resource.GetString("name"))
	assert.True(t, resource.Persisted())
}

func TestFindNotFound(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "FindGhost", "find_ghost")
	registry.On("GET", "/find_ghosts/404.json").Respond(404, nil, nil)

	_, err := class.Find(context.Background(), 404, nil)
	require.Error(t, err)
	assert.True(t, restmodel.IsNotFound(err))
}

func TestFindWithPrefixAndQueryOptions(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "FindAddress", "find_address")
	class.SetPrefix("/people/:person_id/")

	registry.On("GET", "/people/5/find_addresses/1.json?deep=true").
		Respond(200, []byte(`{"find_address":{"id":1}}`), nil)

	resource, err := class.Find(context.Background(), 1, restmodel.Options{
		"person_id": 5,
		"deep":      true,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"person_id": 5}, resource.PrefixOptions())
}

func TestFindMissingPrefixParam(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "FindComment", "find_comment")
	class.SetPrefix("/posts/:post_id/")

	_, err := class.Find(context.Background(), 1, nil)
	require.Error(t, err)
	assert.True(t, restmodel.IsMissingPrefixParam(err))

	// The failure happens before any request is dispatched.
	assert.Empty(t, registry.Requests())
}

func TestFindAllUnwrapsCollectionRoot(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "ListSong", "list_song")
	registry.On("GET", "/list_songs.json").
		Respond(200, []byte(`{"list_songs":[{"id":1},{"id":2}]}`), nil)

	songs, err := class.FindAll(nil).All(context.Background())
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.True(t, songs[0].Persisted())
}

func TestFindAllBareList(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "ListAlbum", "list_album")
	registry.On("GET", "/list_albums.json").
		Respond(200, []byte(`[{"id":1},{"id":2},{"id":3}]`), nil)

	size, err := class.FindAll(nil).Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func TestFindFirstAndLast(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "ListTrack", "list_track")
	registry.On("GET", "/list_tracks.json").IgnoreQuery().
		Respond(200, []byte(`[{"id":1},{"id":2}]`), nil)

	first, err := class.FindFirst(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.GetInt("id"))

	last, err := class.FindLast(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, last.GetInt("id"))
}

func TestFindOneCustomMethod(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "FindLeader", "find_leader")
	registry.On("GET", "/find_leaders/current.json").
		Respond(200, []byte(`{"find_leader":{"id":7}}`), nil)

	resource, err := class.FindOne(context.Background(), "current", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 7, resource.GetInt("id"))
}

func TestFindOneLiteralPath(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "FindWinner", "find_winner")
	registry.On("GET", "/contest/winner.json?year=2026").
		Respond(200, []byte(`{"find_winner":{"id":9}}`), nil)

	resource, err := class.FindOne(context.Background(), "/contest/winner.json", restmodel.Options{"year": 2026})
	require.NoError(t, err)
	assert.EqualValues(t, 9, resource.GetInt("id"))
}

func TestExists(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "ExistsThing", "exists_thing")
	registry.On("HEAD", "/exists_things/1.json").Respond(200, nil, nil)
	registry.On("HEAD", "/exists_things/2.json").Respond(404, nil, nil)
	registry.On("HEAD", "/exists_things/3.json").Respond(500, nil, nil)

	exists, err := class.Exists(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = class.Exists(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = class.Exists(context.Background(), 3, nil)
	require.Error(t, err)
}

func TestClassDelete(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "DeleteThing", "delete_thing")
	stub := registry.On("DELETE", "/delete_things/4.json").Respond(204, nil, nil)

	require.NoError(t, class.Delete(context.Background(), 4, nil))
	assert.Equal(t, 1, stub.Calls())
}
