package epg

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/resolver"
	"github.com/retrovue/retrovue/pkg/xmltv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannelRepo serves a fixed channel set.
type fakeChannelRepo struct {
	channels []*models.Channel
}

func (f *fakeChannelRepo) Create(context.Context, *models.Channel) error { return nil }
func (f *fakeChannelRepo) GetByID(_ context.Context, id models.ULID) (*models.Channel, error) {
	for _, ch := range f.channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return nil, models.ErrChannelNotFound
}
func (f *fakeChannelRepo) GetBySlug(_ context.Context, slug string) (*models.Channel, error) {
	for _, ch := range f.channels {
		if ch.Slug == slug {
			return ch, nil
		}
	}
	return nil, models.ErrChannelNotFound
}
func (f *fakeChannelRepo) GetAll(context.Context) ([]*models.Channel, error) {
	return f.channels, nil
}
func (f *fakeChannelRepo) GetEnabled(context.Context) ([]*models.Channel, error) {
	return f.channels, nil
}
func (f *fakeChannelRepo) Update(context.Context, *models.Channel) error { return nil }
func (f *fakeChannelRepo) Delete(context.Context, models.ULID) error     { return nil }

// fakeEPGRepo is an in-memory persisted cache tier.
type fakeEPGRepo struct {
	entries map[models.ULID][]*models.EPGEntry
}

func newFakeEPGRepo() *fakeEPGRepo {
	return &fakeEPGRepo{entries: make(map[models.ULID][]*models.EPGEntry)}
}

func (f *fakeEPGRepo) ReplaceChannelEntries(_ context.Context, channelID models.ULID, entries []*models.EPGEntry) error {
	f.entries[channelID] = entries
	return nil
}

func (f *fakeEPGRepo) GetChannelEntries(_ context.Context, channelID models.ULID, from, to time.Time) ([]*models.EPGEntry, error) {
	var out []*models.EPGEntry
	for _, e := range f.entries[channelID] {
		if e.Stop.After(from) && e.Start.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEPGRepo) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

// countingBlockRepo counts resolver hits so cache tests can assert a tier
// was actually served from cache.
type countingBlockRepo struct {
	blocks []*models.ScheduleBlock
	calls  int
}

func (f *countingBlockRepo) Create(context.Context, *models.ScheduleBlock) error { return nil }
func (f *countingBlockRepo) GetByID(context.Context, models.ULID) (*models.ScheduleBlock, error) {
	return nil, nil
}
func (f *countingBlockRepo) GetByChannelID(context.Context, models.ULID) ([]*models.ScheduleBlock, error) {
	f.calls++
	return f.blocks, nil
}
func (f *countingBlockRepo) Update(context.Context, *models.ScheduleBlock) error { return nil }
func (f *countingBlockRepo) Delete(context.Context, models.ULID) error           { return nil }

type fakeBucketRepo struct {
	links []*models.ChannelBucket
}

func (f *fakeBucketRepo) Create(context.Context, *models.Bucket) error { return nil }
func (f *fakeBucketRepo) GetByID(context.Context, models.ULID) (*models.Bucket, error) {
	return nil, models.ErrBucketNotFound
}
func (f *fakeBucketRepo) GetByName(context.Context, string) (*models.Bucket, error) {
	return nil, models.ErrBucketNotFound
}
func (f *fakeBucketRepo) GetAll(context.Context) ([]*models.Bucket, error)         { return nil, nil }
func (f *fakeBucketRepo) Update(context.Context, *models.Bucket) error             { return nil }
func (f *fakeBucketRepo) Delete(context.Context, models.ULID) error                { return nil }
func (f *fakeBucketRepo) AddMedia(context.Context, models.ULID, models.ULID) error { return nil }
func (f *fakeBucketRepo) RemoveMedia(context.Context, models.ULID, models.ULID) error {
	return nil
}
func (f *fakeBucketRepo) GetChannelBuckets(context.Context, models.ULID) ([]*models.ChannelBucket, error) {
	return f.links, nil
}
func (f *fakeBucketRepo) LinkChannel(context.Context, models.ULID, models.ULID, int) error {
	return nil
}
func (f *fakeBucketRepo) UnlinkChannel(context.Context, models.ULID, models.ULID) error {
	return nil
}

func mediaItem(title string, seconds float64) *models.MediaItem {
	return &models.MediaItem{
		BaseModel:       models.BaseModel{ID: models.NewULID()},
		FilePath:        "/media/" + title + ".mp4",
		DurationSeconds: seconds,
		ShowName:        title,
	}
}

func bucketWith(name string, items ...*models.MediaItem) *models.Bucket {
	bucket := &models.Bucket{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Name:      name,
		Kind:      models.BucketKindGlobal,
	}
	for i, item := range items {
		bucket.Media = append(bucket.Media, models.BucketMedia{
			BucketID:    bucket.ID,
			MediaItemID: item.ID,
			Position:    i,
			MediaItem:   item,
		})
	}
	return bucket
}

func scheduleBlock(channelID models.ULID, start, end, days string, priority int, bucket *models.Bucket) *models.ScheduleBlock {
	return &models.ScheduleBlock{
		BaseModel:    models.BaseModel{ID: models.NewULID()},
		ChannelID:    channelID,
		BucketID:     bucket.ID,
		StartTime:    start,
		EndTime:      end,
		DayOfWeek:    days,
		Priority:     priority,
		PlaybackMode: models.PlaybackModeSequential,
		Bucket:       bucket,
	}
}

// June 2024: the 3rd is a Monday.
var testMidnight = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func testConfig() config.EPGConfig {
	return config.EPGConfig{
		LookaheadHours:       12,
		CacheMinutes:         5,
		DatabaseCacheMinutes: 120,
	}
}

type projectorEnv struct {
	projector *Projector
	channel   *models.Channel
	blocks    *countingBlockRepo
	epgRepo   *fakeEPGRepo
	now       time.Time
}

func newProjectorEnv(t *testing.T, blocks []*models.ScheduleBlock, links []*models.ChannelBucket, now time.Time) *projectorEnv {
	t.Helper()

	channel := &models.Channel{
		BaseModel:  models.BaseModel{ID: models.NewULID()},
		Name:       "Retro Toons",
		Slug:       "retro-toons",
		AnchorTime: testMidnight.Unix(),
	}
	for _, b := range blocks {
		b.ChannelID = channel.ID
	}

	blockRepo := &countingBlockRepo{blocks: blocks}
	res := resolver.New(blockRepo, &fakeBucketRepo{links: links}, nil)
	epgRepo := newFakeEPGRepo()

	projector := New(&fakeChannelRepo{channels: []*models.Channel{channel}}, res, epgRepo, testConfig(), nil)
	projector.now = func() time.Time { return now }

	return &projectorEnv{
		projector: projector,
		channel:   channel,
		blocks:    blockRepo,
		epgRepo:   epgRepo,
		now:       now,
	}
}

func fallbackLinks(items ...*models.MediaItem) []*models.ChannelBucket {
	bucket := bucketWith("fallback", items...)
	return []*models.ChannelBucket{{BucketID: bucket.ID, Bucket: bucket}}
}

func TestPrograms_FallbackRotation(t *testing.T) {
	// Two four-hour items anchored at midnight: the guide is an 8h cycle.
	links := fallbackLinks(mediaItem("alpha", 4*3600), mediaItem("beta", 4*3600))
	env := newProjectorEnv(t, nil, links, testMidnight.Add(9*time.Hour))

	programs, err := env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, programs)

	// Window opens at local midnight; the anchor is also midnight, so the
	// first program starts exactly there.
	assert.True(t, programs[0].Start.Equal(testMidnight))
	assert.Equal(t, "alpha", programs[0].Title)
	assert.Equal(t, 0, programs[0].Index)

	// Contiguous, alternating rotation.
	for i := 1; i < len(programs); i++ {
		assert.True(t, programs[i].Start.Equal(programs[i-1].Stop),
			"gap between programs %d and %d", i-1, i)
	}
	assert.Equal(t, "beta", programs[1].Title)
	assert.Equal(t, "alpha", programs[2].Title)

	// Nothing starts at or past the horizon (now + 12h).
	horizon := env.now.Add(12 * time.Hour)
	for _, prog := range programs {
		assert.True(t, prog.Start.Before(horizon))
	}
}

func TestCurrentAndNext(t *testing.T) {
	links := fallbackLinks(mediaItem("alpha", 4*3600), mediaItem("beta", 4*3600))
	// The cycle is 8h, so 09:00 is one hour into the second cycle's "alpha".
	env := newProjectorEnv(t, nil, links, testMidnight.Add(9*time.Hour))

	current, next, err := env.projector.CurrentAndNext(context.Background(), env.channel.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	require.NotNil(t, next)

	assert.Equal(t, "alpha", current.Title)
	assert.True(t, current.Start.Equal(testMidnight.Add(8*time.Hour)))
	assert.Equal(t, "beta", next.Title)
}

func TestPositionForCurrentProgram(t *testing.T) {
	links := fallbackLinks(mediaItem("alpha", 4*3600), mediaItem("beta", 4*3600))
	env := newProjectorEnv(t, nil, links, testMidnight.Add(9*time.Hour))

	pos, ok, err := env.projector.PositionForCurrentProgram(context.Background(), env.channel.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, pos.FileIndex)
	assert.Equal(t, time.Hour, pos.SeekPosition)
}

func TestPrograms_MemoryCacheServesSecondCall(t *testing.T) {
	links := fallbackLinks(mediaItem("alpha", 4*3600))
	env := newProjectorEnv(t, nil, links, testMidnight.Add(9*time.Hour))

	_, err := env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)
	resolves := env.blocks.calls
	require.Positive(t, resolves)

	_, err = env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, resolves, env.blocks.calls, "second call must not re-resolve")
}

func TestPrograms_DatabaseCacheServesFreshProjection(t *testing.T) {
	links := fallbackLinks(mediaItem("alpha", 4*3600))
	env := newProjectorEnv(t, nil, links, testMidnight.Add(9*time.Hour))

	// A fresh projection persisted by a previous process.
	env.epgRepo.entries[env.channel.ID] = []*models.EPGEntry{
		{
			ChannelID:   env.channel.ID,
			Start:       testMidnight.Add(8 * time.Hour),
			Stop:        testMidnight.Add(12 * time.Hour),
			Title:       "from-db",
			ProjectedAt: env.now.Add(-30 * time.Minute),
		},
	}

	programs, err := env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, "from-db", programs[0].Title)
	assert.Zero(t, env.blocks.calls, "fresh DB cache must skip projection")
}

func TestPrograms_DatabaseCachePreservesPlaylistIndex(t *testing.T) {
	links := fallbackLinks(
		mediaItem("alpha", 3600),
		mediaItem("beta", 3600),
		mediaItem("gamma", 3600),
		mediaItem("delta", 3600),
	)
	now := testMidnight.Add(3*time.Hour + 30*time.Minute)
	env := newProjectorEnv(t, nil, links, now)
	// Anchored an hour before the window opens, so the projected programs
	// do not start at playlist index zero and the row ordinal disagrees
	// with the real index.
	env.channel.AnchorTime = testMidnight.Add(-time.Hour).Unix()

	fresh, err := env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)

	want := -1
	for _, p := range fresh {
		if p.Contains(now) {
			want = p.Index
		}
	}
	require.Equal(t, 0, want, "03:30 with a 23:00 anchor over four 1h items is index 0")

	// A restarted process with a cold memory tier must recover the same
	// playlist position from the database cache.
	blockRepo := &countingBlockRepo{}
	res := resolver.New(blockRepo, &fakeBucketRepo{links: links}, nil)
	restarted := New(&fakeChannelRepo{channels: []*models.Channel{env.channel}}, res, env.epgRepo, testConfig(), nil)
	restarted.now = func() time.Time { return now }

	pos, ok, err := restarted.PositionForCurrentProgram(context.Background(), env.channel.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, pos.FileIndex)
	assert.Equal(t, 30*time.Minute, pos.SeekPosition)
	assert.Zero(t, blockRepo.calls, "warm DB cache must not re-resolve")
}

func TestPrograms_StaleDatabaseCacheRegenerates(t *testing.T) {
	links := fallbackLinks(mediaItem("alpha", 4*3600))
	env := newProjectorEnv(t, nil, links, testMidnight.Add(9*time.Hour))

	env.epgRepo.entries[env.channel.ID] = []*models.EPGEntry{
		{
			ChannelID:   env.channel.ID,
			Start:       testMidnight.Add(8 * time.Hour),
			Stop:        testMidnight.Add(12 * time.Hour),
			Title:       "stale",
			ProjectedAt: env.now.Add(-3 * time.Hour),
		},
	}

	programs, err := env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, programs)
	assert.Equal(t, "alpha", programs[0].Title)
	assert.Positive(t, env.blocks.calls)
}

func TestInvalidate_ClearsBothTiers(t *testing.T) {
	links := fallbackLinks(mediaItem("alpha", 4*3600))
	env := newProjectorEnv(t, nil, links, testMidnight.Add(9*time.Hour))

	_, err := env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, env.epgRepo.entries[env.channel.ID])

	require.NoError(t, env.projector.Invalidate(context.Background(), env.channel.ID))
	assert.Empty(t, env.epgRepo.entries[env.channel.ID])

	resolves := env.blocks.calls
	_, err = env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)
	assert.Greater(t, env.blocks.calls, resolves, "invalidated channel must re-project")
}

func TestPrograms_BlockChangeResetsCursor(t *testing.T) {
	// All-day fallback of 1h items, interrupted by a noon block.
	links := fallbackLinks(mediaItem("filler-a", 3600), mediaItem("filler-b", 3600))
	noon := scheduleBlock(models.ULID{}, "12:00", "14:00", "", 5,
		bucketWith("noon", mediaItem("noon-show", 3600)))
	env := newProjectorEnv(t, []*models.ScheduleBlock{noon}, links, testMidnight.Add(9*time.Hour))

	programs, err := env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)

	var noonProgram *Program
	for i := range programs {
		if programs[i].Start.Equal(testMidnight.Add(12 * time.Hour)) {
			noonProgram = &programs[i]
			break
		}
	}
	require.NotNil(t, noonProgram, "a program must start exactly at the block boundary")
	assert.Equal(t, "noon-show", noonProgram.Title)
	assert.Equal(t, 0, noonProgram.Index, "list change resets the cursor")

	// After the block ends the fallback rotation restarts at index 0.
	var after *Program
	for i := range programs {
		if programs[i].Start.Equal(testMidnight.Add(14 * time.Hour)) {
			after = &programs[i]
			break
		}
	}
	require.NotNil(t, after)
	assert.Equal(t, "filler-a", after.Title)
	assert.Equal(t, 0, after.Index)
}

func TestPrograms_WaitingChannelJumpsToNextBlock(t *testing.T) {
	// No fallback; a single evening block. The window before it is silent.
	evening := scheduleBlock(models.ULID{}, "18:00", "20:00", "", 1,
		bucketWith("evening", mediaItem("movie", 3600)))
	env := newProjectorEnv(t, []*models.ScheduleBlock{evening}, nil, testMidnight.Add(9*time.Hour))

	programs, err := env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)
	require.Len(t, programs, 2)

	assert.True(t, programs[0].Start.Equal(testMidnight.Add(18*time.Hour)))
	assert.Equal(t, "movie", programs[0].Title)
	assert.Equal(t, 0, programs[0].Index)
	assert.True(t, programs[1].Start.Equal(testMidnight.Add(19*time.Hour)))
}

func TestWriteXMLTV_RoundTrip(t *testing.T) {
	links := fallbackLinks(mediaItem("alpha", 4*3600), mediaItem("beta", 4*3600))
	env := newProjectorEnv(t, nil, links, testMidnight.Add(9*time.Hour))

	programs, err := env.projector.Programs(context.Background(), env.channel.ID, 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, env.projector.WriteXMLTV(context.Background(), &buf))

	var channels []*xmltv.Channel
	var parsed []*xmltv.Programme
	parser := &xmltv.Parser{
		OnChannel:   func(ch *xmltv.Channel) error { channels = append(channels, ch); return nil },
		OnProgramme: func(prog *xmltv.Programme) error { parsed = append(parsed, prog); return nil },
	}
	require.NoError(t, parser.Parse(&buf))

	require.Len(t, channels, 1)
	assert.Equal(t, "retro-toons", channels[0].ID)
	assert.Equal(t, "Retro Toons", channels[0].DisplayName)

	require.Len(t, parsed, len(programs))
	for i, prog := range parsed {
		assert.Equal(t, "retro-toons", prog.Channel)
		assert.True(t, prog.Start.Equal(programs[i].Start.Truncate(time.Second)))
		assert.True(t, prog.Stop.Equal(programs[i].Stop.Truncate(time.Second)))
		assert.Equal(t, programs[i].Title, prog.Title)
	}
}
