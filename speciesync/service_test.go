package speciesync_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
	"github.com/ZB1234D/Species-Database-App-123/speciesync/memstore"
)

// rowsParser ignores its input and returns fixed rows
type rowsParser struct {
	rows []speciesync.SpeciesFields
	err  error
}

func (p rowsParser) Parse(string, io.Reader) ([]speciesync.SpeciesFields, error) {
	return p.rows, p.err
}

// prefixTranslator prefixes every input; inputs listed in blank come back empty
type prefixTranslator struct {
	blank map[string]bool
	err   error
}

func (tr prefixTranslator) Translate(_ context.Context, text string) (string, error) {
	if tr.err != nil {
		return "", tr.err
	}
	if text == "" || tr.blank[text] {
		return "", nil
	}
	return "tet:" + text, nil
}

func newService(t *testing.T, store speciesync.Store, parser speciesync.SheetParser, tr speciesync.Translator, threshold int) *speciesync.SyncService {
	t.Helper()
	svc, err := speciesync.NewSyncService(store, parser, tr, &speciesync.ServiceConfig{
		AppName:         "speciesync-test",
		ChangeThreshold: threshold,
		Hasher:          speciesync.BcryptHasher{Cost: bcrypt.MinCost},
	}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestPlan_FollowsChangelog(t *testing.T) {
	svc := newService(t, memstore.New(nil), nil, nil, 2)
	ctx := context.Background()

	d, err := svc.Plan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, speciesync.DecisionUpToDate, d.Kind)

	a, err := svc.CreateSpecies(ctx, pair("A"))
	require.NoError(t, err)
	_, err = svc.CreateSpecies(ctx, pair("B"))
	require.NoError(t, err)

	d, err = svc.Plan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, speciesync.DecisionIncremental, d.Kind)
	assert.Equal(t, int64(2), d.LatestVersion)

	_, err = svc.UpdateSpecies(ctx, a.SpeciesID, pair("A"))
	require.NoError(t, err)
	d, err = svc.Plan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, speciesync.DecisionIncremental, d.Kind, "an entity changed twice counts once")

	_, err = svc.CreateSpecies(ctx, pair("C"))
	require.NoError(t, err)
	d, err = svc.Plan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, speciesync.DecisionForceBundle, d.Kind)
	assert.Equal(t, speciesync.ReasonThreshold, d.Reason)

	d, err = svc.Plan(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, speciesync.DecisionUpToDate, d.Kind)

	d, err = svc.Plan(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, speciesync.ReasonClientAhead, d.Reason)

	_, err = svc.Plan(ctx, -1)
	var ve *speciesync.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestIncremental_RowsAndTombstones(t *testing.T) {
	svc := newService(t, memstore.New(nil), nil, nil, 0)
	ctx := context.Background()

	a, err := svc.CreateSpecies(ctx, pair("A"))
	require.NoError(t, err)
	b, err := svc.CreateSpecies(ctx, pair("B"))
	require.NoError(t, err)
	m, err := svc.RegisterMedia(ctx, speciesync.MediaInput{SpeciesName: "B", MediaType: "image", DownloadLink: "https://x/b.jpg"})
	require.NoError(t, err)

	_, err = svc.DeleteSpecies(ctx, a.SpeciesID)
	require.NoError(t, err)
	upd := pair("B")
	upd.EN.CommonName = "renamed"
	_, err = svc.UpdateSpecies(ctx, b.SpeciesID, upd)
	require.NoError(t, err)

	resp, err := svc.Incremental(ctx, 2)
	require.NoError(t, err)
	assert.False(t, resp.ForceBundle)
	assert.Equal(t, int64(5), resp.LatestVersion)
	require.Len(t, resp.SpeciesEN, 1)
	assert.Equal(t, "renamed", resp.SpeciesEN[0].CommonName)
	assert.Len(t, resp.SpeciesTET, 1)
	require.Len(t, resp.Media, 1)
	assert.Equal(t, m.Media.MediaID, resp.Media[0].MediaID)
	assert.Equal(t, []speciesync.Tombstone{{EntityType: speciesync.EntitySpecies, EntityID: a.SpeciesID, Version: 4}}, resp.Deleted)

	resp, err = svc.Incremental(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, resp.SpeciesEN)
	assert.Empty(t, resp.Deleted)
	assert.False(t, resp.ForceBundle)
}

func TestIncremental_RepeatedUpdatesYieldOneRow(t *testing.T) {
	svc := newService(t, memstore.New(nil), nil, nil, 0)
	ctx := context.Background()

	_, err := svc.CreateSpecies(ctx, pair("A"))
	require.NoError(t, err)
	b, err := svc.CreateSpecies(ctx, pair("B"))
	require.NoError(t, err)
	for _, common := range []string{"first", "second", "third"} {
		upd := pair("B")
		upd.EN.CommonName = common
		_, err = svc.UpdateSpecies(ctx, b.SpeciesID, upd)
		require.NoError(t, err)
	}

	d, err := svc.Plan(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, speciesync.DecisionIncremental, d.Kind)
	assert.Equal(t, 1, d.ChangeCount)

	resp, err := svc.Incremental(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp.LatestVersion)
	require.Len(t, resp.SpeciesEN, 1)
	assert.Equal(t, b.SpeciesID, resp.SpeciesEN[0].SpeciesID)
	assert.Equal(t, "third", resp.SpeciesEN[0].CommonName)
	require.Len(t, resp.SpeciesTET, 1)
	assert.Equal(t, b.SpeciesID, resp.SpeciesTET[0].SpeciesID)
	assert.Empty(t, resp.Deleted)
}

func TestBundle(t *testing.T) {
	svc := newService(t, memstore.New(nil), nil, nil, 0)
	ctx := context.Background()

	empty, err := svc.Bundle(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Version)
	assert.Empty(t, empty.SpeciesEN)

	_, err = svc.CreateSpecies(ctx, pair("A"))
	require.NoError(t, err)
	_, err = svc.RegisterMedia(ctx, speciesync.MediaInput{SpeciesName: "A", MediaType: "image", DownloadLink: "https://x/a.jpg"})
	require.NoError(t, err)

	b, err := svc.Bundle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Version)
	assert.Len(t, b.SpeciesEN, 1)
	assert.Len(t, b.SpeciesTET, 1)
	assert.Len(t, b.Media, 1)
}

func TestIngestSheet_TranslatesAndForcesBundle(t *testing.T) {
	rows := []speciesync.SpeciesFields{
		fields("Ficus", "fig"),
		fields("Pinus", "pine"),
	}
	tr := prefixTranslator{blank: map[string]bool{"pine": true}}
	svc := newService(t, memstore.New(nil), rowsParser{rows: rows}, tr, 0)
	ctx := context.Background()

	res, err := svc.IngestSheet(ctx, "species.csv", strings.NewReader(""))
	require.NoError(t, err)
	assert.Len(t, res.SpeciesIDs, 2)
	assert.Equal(t, 1, res.Untranslated)

	tet, err := svc.Store().GetSpecies(ctx, speciesync.LangTetum, res.SpeciesIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "Ficus", tet.ScientificName, "scientific names are never translated")
	assert.Equal(t, "tet:fig", tet.CommonName)
	assert.Equal(t, "tet:coastal forest", tet.Habitat)

	tet, err = svc.Store().GetSpecies(ctx, speciesync.LangTetum, res.SpeciesIDs[1])
	require.NoError(t, err)
	assert.Equal(t, "pine", tet.CommonName)

	d, err := svc.Plan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, speciesync.DecisionForceBundle, d.Kind)
	assert.Equal(t, speciesync.ReasonBulkInsert, d.Reason)
}

func TestIngestSheet_Errors(t *testing.T) {
	ctx := context.Background()

	parseErr := &speciesync.ValidationError{Fields: []string{"leaf_type"}, Message: "missing required columns"}
	svc := newService(t, memstore.New(nil), rowsParser{err: parseErr}, prefixTranslator{}, 0)
	_, err := svc.IngestSheet(ctx, "x.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, parseErr)

	svc = newService(t, memstore.New(nil), rowsParser{}, prefixTranslator{}, 0)
	_, err = svc.IngestSheet(ctx, "x.csv", strings.NewReader(""))
	var ve *speciesync.ValidationError
	assert.ErrorAs(t, err, &ve)

	store := memstore.New(nil)
	cancelled := errors.New("context canceled")
	svc = newService(t, store, rowsParser{rows: []speciesync.SpeciesFields{fields("Ficus", "fig")}}, prefixTranslator{err: cancelled}, 0)
	_, err = svc.IngestSheet(ctx, "x.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, cancelled)
	assertEmpty(t, store)
}

func TestTranslateTexts(t *testing.T) {
	svc := newService(t, memstore.New(nil), rowsParser{}, prefixTranslator{}, 0)
	out, err := svc.TranslateTexts(context.Background(), []string{"tree", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"tet:tree", ""}, out)
}

func TestUsersAndAuthenticate(t *testing.T) {
	store := memstore.New(nil)
	svc := newService(t, store, nil, nil, 0)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, speciesync.UserInput{Name: " ana ", Role: speciesync.RoleEditor, Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "ana", created.User.Name)
	assert.True(t, created.User.IsActive)
	assert.NotEqual(t, "s3cret", created.User.PasswordHash)
	assert.Equal(t, speciesync.EntityUsers, created.Entry.EntityType)

	_, err = svc.CreateUser(ctx, speciesync.UserInput{Name: "ana", Role: speciesync.RoleViewer, Password: "x"})
	var ce *speciesync.ConflictError
	assert.ErrorAs(t, err, &ce)

	_, err = svc.CreateUser(ctx, speciesync.UserInput{Name: "bo", Role: "root", Password: "x"})
	var ve *speciesync.ValidationError
	assert.ErrorAs(t, err, &ve)

	u, err := svc.Authenticate(ctx, "ana", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, created.User.UserID, u.UserID)

	_, err = svc.Authenticate(ctx, "ana", "wrong")
	assert.ErrorIs(t, err, speciesync.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, speciesync.ErrInvalidCredentials)

	inactive := false
	_, err = svc.UpdateUser(ctx, created.User.UserID, speciesync.UserPatch{IsActive: &inactive})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "ana", "s3cret")
	assert.ErrorIs(t, err, speciesync.ErrInvalidCredentials)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = svc.DeleteUser(ctx, created.User.UserID)
	require.NoError(t, err)
	var nf *speciesync.NotFoundError
	_, err = svc.GetUser(ctx, created.User.UserID)
	assert.ErrorAs(t, err, &nf)

	// user changes advance the version without giving clients anything to fetch
	d, err := svc.Plan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, speciesync.DecisionUpToDate, d.Kind)
	assert.Equal(t, int64(3), d.LatestVersion)
}

func TestListChangelog(t *testing.T) {
	svc := newService(t, memstore.New(nil), nil, nil, 0)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C"} {
		_, err := svc.CreateSpecies(ctx, pair(name))
		require.NoError(t, err)
	}

	resp, err := svc.ListChangelog(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.LatestVersion)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, int64(2), resp.Entries[0].Version)

	resp, err = svc.ListChangelog(ctx, 0, 1)
	require.NoError(t, err)
	assert.Len(t, resp.Entries, 1)
}

func TestClosedServiceRejectsCalls(t *testing.T) {
	svc := newService(t, memstore.New(nil), nil, nil, 0)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	_, err := svc.Plan(context.Background(), 0)
	assert.ErrorIs(t, err, speciesync.ErrServiceClosed)
	_, err = svc.CreateSpecies(context.Background(), pair("A"))
	assert.ErrorIs(t, err, speciesync.ErrServiceClosed)
}
