package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/tvcal/internal/model"
	"github.com/hitoshi/tvcal/internal/progress"
	"github.com/hitoshi/tvcal/internal/repository"
	"github.com/hitoshi/tvcal/internal/tvdb"
)

// --- フェイクリポジトリ ---

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id], nil
}

func (r *fakeUserRepo) FindByPIN(_ context.Context, pin string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.PIN == pin {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) UpdateLastSyncedAt(_ context.Context, id string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.LastSyncedAt = &syncedAt
	}
	return nil
}

func (r *fakeUserRepo) ListDueForSync(_ context.Context, cutoff time.Time) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*model.User
	for _, u := range r.users {
		if u.LastSyncedAt == nil || u.LastSyncedAt.Before(cutoff) {
			due = append(due, u)
		}
	}
	return due, nil
}

type fakeSeriesRepo struct {
	mu       sync.Mutex
	byTVDBID map[int64]*model.Series
	nextID   int64
}

func newFakeSeriesRepo() *fakeSeriesRepo {
	return &fakeSeriesRepo{byTVDBID: make(map[int64]*model.Series), nextID: 1}
}

func (r *fakeSeriesRepo) FindByTVDBID(_ context.Context, tvdbID int64) (*model.Series, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byTVDBID[tvdbID]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, nil
}

func (r *fakeSeriesRepo) CreateIfAbsent(_ context.Context, series *model.Series) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byTVDBID[series.TVDBID]; ok {
		*series = *existing
		return nil
	}
	series.ID = r.nextID
	r.nextID++
	clone := *series
	r.byTVDBID[series.TVDBID] = &clone
	return nil
}

func (r *fakeSeriesRepo) Update(_ context.Context, series *model.Series) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byTVDBID[series.TVDBID]; ok {
		existing.Name = series.Name
		existing.IMDBID = series.IMDBID
	}
	return nil
}

func (r *fakeSeriesRepo) MarkSynced(_ context.Context, id int64, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byTVDBID {
		if s.ID == id {
			s.LastSyncedAt = &syncedAt
		}
	}
	return nil
}

func (r *fakeSeriesRepo) ListDueForSync(_ context.Context, cutoff time.Time) ([]*model.Series, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*model.Series
	for _, s := range r.byTVDBID {
		if s.LastSyncedAt == nil || s.LastSyncedAt.Before(cutoff) {
			clone := *s
			due = append(due, &clone)
		}
	}
	return due, nil
}

type fakeUserSeriesRepo struct {
	mu    sync.Mutex
	links map[string]bool
}

func newFakeUserSeriesRepo() *fakeUserSeriesRepo {
	return &fakeUserSeriesRepo{links: make(map[string]bool)}
}

func (r *fakeUserSeriesRepo) CreateIfAbsent(_ context.Context, userID string, seriesID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[fmt.Sprintf("%s/%d", userID, seriesID)] = true
	return nil
}

func (r *fakeUserSeriesRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

type fakeEpisodeRepo struct {
	mu       sync.Mutex
	episodes map[string]*model.Episode
	nextID   int64
}

func newFakeEpisodeRepo() *fakeEpisodeRepo {
	return &fakeEpisodeRepo{episodes: make(map[string]*model.Episode), nextID: 1}
}

func episodeKey(seriesID int64, season, number int) string {
	return fmt.Sprintf("%d/%d/%d", seriesID, season, number)
}

// bySeries は保存済みエピソードの検証用スナップショットを返す。
func (r *fakeEpisodeRepo) bySeries(seriesID int64) []*model.Episode {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Episode
	for _, e := range r.episodes {
		if e.SeriesID == seriesID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out
}

func (r *fakeEpisodeRepo) Upsert(_ context.Context, episode *model.Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := episodeKey(episode.SeriesID, episode.SeasonNumber, episode.EpisodeNumber)
	if existing, ok := r.episodes[key]; ok {
		episode.ID = existing.ID
	} else {
		episode.ID = r.nextID
		r.nextID++
	}
	clone := *episode
	r.episodes[key] = &clone
	return nil
}

func (r *fakeEpisodeRepo) ListUpcomingByUserID(_ context.Context, _ string, _ time.Time) ([]repository.EpisodeWithSeries, error) {
	return nil, nil
}

func (r *fakeEpisodeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.episodes)
}

// --- フェイククライアント ---

type fakeClient struct {
	authErr       error
	favorites     []int64
	favoritesErr  error
	series        map[int64]*tvdb.SeriesPayload
	seriesErr     map[int64]error
	episodes      map[int64][]tvdb.EpisodePayload
	episodeDetail map[int64]*tvdb.EpisodePayload

	mu            sync.Mutex
	episodesCalls int
}

func (c *fakeClient) episodesCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.episodesCalls
}

func (c *fakeClient) Authenticate(_ context.Context, _ string) error {
	return c.authErr
}

func (c *fakeClient) ListFavorites(_ context.Context) ([]int64, error) {
	if c.favoritesErr != nil {
		return nil, c.favoritesErr
	}
	return c.favorites, nil
}

func (c *fakeClient) SeriesDetails(_ context.Context, seriesID int64) (*tvdb.SeriesPayload, error) {
	if err := c.seriesErr[seriesID]; err != nil {
		return nil, err
	}
	if s, ok := c.series[seriesID]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown series %d", seriesID)
}

func (c *fakeClient) SeriesEpisodes(_ context.Context, seriesID int64) ([]tvdb.EpisodePayload, error) {
	c.mu.Lock()
	c.episodesCalls++
	c.mu.Unlock()
	return c.episodes[seriesID], nil
}

func (c *fakeClient) EpisodeDetails(_ context.Context, episodeID int64) (*tvdb.EpisodePayload, error) {
	if d, ok := c.episodeDetail[episodeID]; ok {
		return d, nil
	}
	return nil, errors.New("detail unavailable")
}

// --- 記録用パブリッシャーとメトリクス ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *recordingPublisher) Publish(_ string, ev progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) last() progress.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

func (p *recordingPublisher) hasError() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		if ev.Error {
			return true
		}
	}
	return false
}

type noopMetrics struct{}

func (noopMetrics) RecordSyncSuccess() {}
func (noopMetrics) RecordSyncFailure(string) {}
func (noopMetrics) RecordSeriesSynced() {}
func (noopMetrics) RecordSeriesSkippedFresh() {}
func (noopMetrics) RecordEpisodesUpserted(int) {}
func (noopMetrics) RecordEpisodesDropped(int) {}
func (noopMetrics) RecordUpstreamStatus(int) {}
func (noopMetrics) RecordUpstreamLatency(time.Duration) {}

// --- テスト用の組み立て ---

type env struct {
	users      *fakeUserRepo
	series     *fakeSeriesRepo
	userSeries *fakeUserSeriesRepo
	episodes   *fakeEpisodeRepo
	client     *fakeClient
	publisher  *recordingPublisher
	reconciler *Reconciler
}

func newEnv(client *fakeClient) *env {
	e := &env{
		users:      newFakeUserRepo(),
		series:     newFakeSeriesRepo(),
		userSeries: newFakeUserSeriesRepo(),
		episodes:   newFakeEpisodeRepo(),
		client:     client,
		publisher:  &recordingPublisher{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.reconciler = NewReconciler(
		e.users, e.series, e.userSeries, e.episodes,
		func() CatalogClient { return client },
		e.publisher, noopMetrics{}, logger,
		12*time.Hour,
	)
	return e
}

func intp(n int) *int { return &n }

func episodePayload(id int64, season, number int, aired string) tvdb.EpisodePayload {
	return tvdb.EpisodePayload{
		ID:           id,
		SeasonNumber: intp(season),
		Number:       intp(number),
		Name:         fmt.Sprintf("Episode Title %d", id),
		Aired:        aired,
		Overview:     "An episode.",
	}
}

func seriesPayload(id int64, name string) *tvdb.SeriesPayload {
	return &tvdb.SeriesPayload{
		ID:              id,
		Name:            name,
		AirsTime:        "21:00",
		Timezone:        "America/New_York",
		AverageRuntime:  "60",
		OriginalNetwork: tvdb.Network{Name: "AMC"},
		RemoteIDs:       []tvdb.RemoteID{{ID: "tt0000500", SourceName: "IMDB"}},
	}
}

// --- テスト本体 ---

func TestSyncUser_FirstSyncCreatesEverything(t *testing.T) {
	client := &fakeClient{
		favorites: []int64{500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Test Show")},
		episodes: map[int64][]tvdb.EpisodePayload{500: {
			episodePayload(1, 1, 1, "2025-07-01"),
			episodePayload(2, 1, 2, "2025-07-08"),
		}},
	}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "ABCD1234"}
	_ = e.users.Create(context.Background(), user)

	if err := e.reconciler.SyncUser(context.Background(), user, false); err != nil {
		t.Fatalf("同期が失敗した: %v", err)
	}

	series, _ := e.series.FindByTVDBID(context.Background(), 500)
	if series == nil {
		t.Fatal("シリーズが作成されるべき")
	}
	if series.Name != "Test Show" || series.IMDBID != "tt0000500" {
		t.Errorf("シリーズのメタデータが不正: %+v", series)
	}
	if series.LastSyncedAt == nil {
		t.Error("エピソード同期完了後にlast_synced_atが設定されるべき")
	}
	if e.episodes.count() != 2 {
		t.Errorf("エピソードが2件作成されるべき: got %d", e.episodes.count())
	}
	if e.userSeries.count() != 1 {
		t.Errorf("お気に入り関係が1件作成されるべき: got %d", e.userSeries.count())
	}
	if user.LastSyncedAt == nil {
		t.Error("ユーザーのlast_synced_atが更新されるべき")
	}

	final := e.publisher.last()
	if final.Current != final.Total || final.Percentage != 100 || final.Error {
		t.Errorf("最終イベントはcurrent==total・100%%であるべき: %+v", final)
	}
}

func TestSyncUser_SecondUserWithinWindowSkipsEpisodeFetch(t *testing.T) {
	client := &fakeClient{
		favorites: []int64{500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Test Show")},
		episodes: map[int64][]tvdb.EpisodePayload{500: {
			episodePayload(1, 1, 1, "2025-07-01"),
		}},
	}
	e := newEnv(client)
	userA := &model.User{ID: "user-a", PIN: "AAAA1111"}
	userB := &model.User{ID: "user-b", PIN: "BBBB2222"}
	_ = e.users.Create(context.Background(), userA)
	_ = e.users.Create(context.Background(), userB)

	if err := e.reconciler.SyncUser(context.Background(), userA, false); err != nil {
		t.Fatalf("1人目の同期が失敗した: %v", err)
	}
	callsAfterFirst := client.episodesCallCount()

	if err := e.reconciler.SyncUser(context.Background(), userB, false); err != nil {
		t.Fatalf("2人目の同期が失敗した: %v", err)
	}

	if client.episodesCallCount() != callsAfterFirst {
		t.Errorf("鮮度ウィンドウ内の2人目はエピソードを再取得すべきでない: %d -> %d",
			callsAfterFirst, client.episodesCallCount())
	}
	if e.userSeries.count() != 2 {
		t.Errorf("2人分のお気に入り関係が存在すべき: got %d", e.userSeries.count())
	}
}

func TestSyncUser_ConcurrentUsersSameNewSeries(t *testing.T) {
	client := &fakeClient{
		favorites: []int64{500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Test Show")},
		episodes: map[int64][]tvdb.EpisodePayload{500: {
			episodePayload(1, 1, 1, "2025-07-01"),
		}},
	}
	e := newEnv(client)

	const n = 8
	users := make([]*model.User, n)
	for i := range users {
		users[i] = &model.User{
			ID:  fmt.Sprintf("user-%d", i),
			PIN: fmt.Sprintf("PIN%05d", i),
		}
		_ = e.users.Create(context.Background(), users[i])
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, u := range users {
		wg.Add(1)
		go func(i int, u *model.User) {
			defer wg.Done()
			errs[i] = e.reconciler.SyncUser(context.Background(), u, false)
		}(i, u)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("user-%dの同期が失敗した: %v", i, err)
		}
	}

	e.series.mu.Lock()
	seriesRows := len(e.series.byTVDBID)
	e.series.mu.Unlock()
	if seriesRows != 1 {
		t.Errorf("同一シリーズの同時作成でもシリーズ行は1件であるべき: got %d", seriesRows)
	}
	if e.userSeries.count() != n {
		t.Errorf("お気に入り関係は%d件であるべき: got %d", n, e.userSeries.count())
	}
	if e.episodes.count() != 1 {
		t.Errorf("エピソード行は1件であるべき: got %d", e.episodes.count())
	}
}

func TestSyncUser_ForceBypassesFreshness(t *testing.T) {
	client := &fakeClient{
		favorites: []int64{500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Test Show")},
		episodes: map[int64][]tvdb.EpisodePayload{500: {
			episodePayload(1, 1, 1, "2025-07-01"),
		}},
	}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "ABCD1234"}
	_ = e.users.Create(context.Background(), user)

	_ = e.reconciler.SyncUser(context.Background(), user, false)
	callsAfterFirst := client.episodesCallCount()

	if err := e.reconciler.SyncUser(context.Background(), user, true); err != nil {
		t.Fatalf("強制同期が失敗した: %v", err)
	}
	if client.episodesCallCount() != callsAfterFirst+1 {
		t.Errorf("forceは鮮度チェックを無視してエピソードを再取得すべき: %d -> %d",
			callsAfterFirst, client.episodesCallCount())
	}
}

func TestSyncUser_Idempotent(t *testing.T) {
	client := &fakeClient{
		favorites: []int64{500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Test Show")},
		episodes: map[int64][]tvdb.EpisodePayload{500: {
			episodePayload(1, 1, 1, "2025-07-01"),
			episodePayload(2, 1, 2, "2025-07-08"),
		}},
	}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "ABCD1234"}
	_ = e.users.Create(context.Background(), user)

	_ = e.reconciler.SyncUser(context.Background(), user, false)
	countAfterFirst := e.episodes.count()

	if err := e.reconciler.SyncUser(context.Background(), user, true); err != nil {
		t.Fatalf("再実行が失敗した: %v", err)
	}
	if e.episodes.count() != countAfterFirst {
		t.Errorf("同一データの再実行でエピソード行が増えるべきではない: %d -> %d",
			countAfterFirst, e.episodes.count())
	}
}

func TestSyncUser_InvalidPINIsFatal(t *testing.T) {
	client := &fakeClient{authErr: model.ErrInvalidPIN}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "WRONG"}
	_ = e.users.Create(context.Background(), user)

	err := e.reconciler.SyncUser(context.Background(), user, false)
	if !errors.Is(err, model.ErrInvalidPIN) {
		t.Fatalf("ErrInvalidPINが返るべき: got %v", err)
	}
	if user.LastSyncedAt != nil {
		t.Error("失敗時はlast_synced_atを更新すべきでない")
	}
	last := e.publisher.last()
	if !last.Error || last.Message != "PIN Invalid" {
		t.Errorf("PIN Invalidのエラーイベントが配信されるべき: %+v", last)
	}
}

func TestSyncUser_FavoritesFailureIsFatal(t *testing.T) {
	client := &fakeClient{
		favoritesErr: &model.UpstreamError{Op: "favorites", Message: "upstream down"},
	}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "ABCD1234"}
	_ = e.users.Create(context.Background(), user)

	if err := e.reconciler.SyncUser(context.Background(), user, false); err == nil {
		t.Fatal("お気に入り取得失敗は実行全体の失敗であるべき")
	}
	if user.LastSyncedAt != nil {
		t.Error("失敗時はlast_synced_atを更新すべきでない")
	}
	if !e.publisher.hasError() {
		t.Error("終端のエラーイベントが配信されるべき")
	}
}

func TestSyncUser_PerSeriesErrorIsContained(t *testing.T) {
	client := &fakeClient{
		favorites: []int64{400, 500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Healthy Show")},
		seriesErr: map[int64]error{400: &model.UpstreamError{Op: "series", Message: "boom"}},
		episodes: map[int64][]tvdb.EpisodePayload{500: {
			episodePayload(1, 1, 1, "2025-07-01"),
		}},
	}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "ABCD1234"}
	_ = e.users.Create(context.Background(), user)

	if err := e.reconciler.SyncUser(context.Background(), user, false); err != nil {
		t.Fatalf("個別シリーズの失敗は実行を失敗させるべきでない: %v", err)
	}

	if s, _ := e.series.FindByTVDBID(context.Background(), 500); s == nil {
		t.Error("残りのシリーズは同期されるべき")
	}
	if !e.publisher.hasError() {
		t.Error("失敗したシリーズのエラーイベントが配信されるべき")
	}
	if user.LastSyncedAt == nil {
		t.Error("実行全体は完了扱いでlast_synced_atが更新されるべき")
	}
}

func TestSyncUser_DropsEpisodesMissingMandatoryFields(t *testing.T) {
	noSeason := tvdb.EpisodePayload{ID: 10, Number: intp(1), Aired: "2025-07-01"}
	noAired := tvdb.EpisodePayload{ID: 11, SeasonNumber: intp(1), Number: intp(2)}
	client := &fakeClient{
		favorites: []int64{500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Test Show")},
		episodes: map[int64][]tvdb.EpisodePayload{500: {
			noSeason,
			noAired,
			episodePayload(12, 1, 3, "2025-07-15"),
		}},
	}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "ABCD1234"}
	_ = e.users.Create(context.Background(), user)

	if err := e.reconciler.SyncUser(context.Background(), user, false); err != nil {
		t.Fatalf("同期が失敗した: %v", err)
	}
	if e.episodes.count() != 1 {
		t.Errorf("必須フィールドの揃ったエピソードのみ保存されるべき: got %d", e.episodes.count())
	}
}

func TestSyncUser_TitleFallbackAndFinaleFlag(t *testing.T) {
	untitled := tvdb.EpisodePayload{
		ID: 20, SeasonNumber: intp(2), Number: intp(7),
		Aired: "2025-09-01", FinaleType: "season", Overview: "Finale.",
	}
	client := &fakeClient{
		favorites: []int64{500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Test Show")},
		episodes:  map[int64][]tvdb.EpisodePayload{500: {untitled}},
	}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "ABCD1234"}
	_ = e.users.Create(context.Background(), user)

	if err := e.reconciler.SyncUser(context.Background(), user, false); err != nil {
		t.Fatalf("同期が失敗した: %v", err)
	}

	eps := e.episodes.bySeries(1)
	if len(eps) != 1 {
		t.Fatalf("エピソードが1件保存されるべき: got %d", len(eps))
	}
	if eps[0].Title != "Episode 7" {
		t.Errorf("タイトル欠落時は話数フォールバック: got %q", eps[0].Title)
	}
	if !eps[0].IsSeasonFinale {
		t.Error("finaleTypeがseasonならフラグが立つべき")
	}
}

func TestSyncUser_OverviewBackfillAndSanitize(t *testing.T) {
	noOverview := tvdb.EpisodePayload{
		ID: 30, SeasonNumber: intp(1), Number: intp(1), Aired: "2025-07-01",
	}
	client := &fakeClient{
		favorites: []int64{500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Test Show")},
		episodes:  map[int64][]tvdb.EpisodePayload{500: {noOverview}},
		episodeDetail: map[int64]*tvdb.EpisodePayload{
			30: {ID: 30, Overview: "<p>A <b>dramatic</b> turn.</p>"},
		},
	}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "ABCD1234"}
	_ = e.users.Create(context.Background(), user)

	if err := e.reconciler.SyncUser(context.Background(), user, false); err != nil {
		t.Fatalf("同期が失敗した: %v", err)
	}

	eps := e.episodes.bySeries(1)
	if len(eps) != 1 {
		t.Fatalf("エピソードが1件保存されるべき: got %d", len(eps))
	}
	if eps[0].Overview != "A dramatic turn." {
		t.Errorf("概要はバックフィルされHTMLが除去されるべき: got %q", eps[0].Overview)
	}
}

func TestSyncUser_OverviewBackfillFailureIsNotFatal(t *testing.T) {
	noOverview := tvdb.EpisodePayload{
		ID: 99, SeasonNumber: intp(1), Number: intp(1), Aired: "2025-07-01",
	}
	client := &fakeClient{
		favorites: []int64{500},
		series:    map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Test Show")},
		episodes:  map[int64][]tvdb.EpisodePayload{500: {noOverview}},
		// episodeDetailに登録しない → 詳細取得は失敗する
	}
	e := newEnv(client)
	user := &model.User{ID: "user-1", PIN: "ABCD1234"}
	_ = e.users.Create(context.Background(), user)

	if err := e.reconciler.SyncUser(context.Background(), user, false); err != nil {
		t.Fatalf("概要の詳細取得失敗は同期を中断すべきでない: %v", err)
	}
	if e.episodes.count() != 1 {
		t.Errorf("エピソードは概要なしで保存されるべき: got %d", e.episodes.count())
	}
}

func TestSeriesSweeper_RefreshesStaleSeries(t *testing.T) {
	client := &fakeClient{
		series: map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Renamed Show")},
		episodes: map[int64][]tvdb.EpisodePayload{500: {
			episodePayload(1, 1, 1, "2025-07-01"),
		}},
	}
	e := newEnv(client)

	stale := time.Now().Add(-24 * time.Hour)
	seed := &model.Series{TVDBID: 500, Name: "Old Name"}
	_ = e.series.CreateIfAbsent(context.Background(), seed)
	_ = e.series.MarkSynced(context.Background(), seed.ID, stale)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper := NewSeriesSweeper(e.reconciler, 12*time.Hour, logger)

	if err := sweeper.Run(context.Background()); err != nil {
		t.Fatalf("スイープが失敗した: %v", err)
	}

	refreshed, _ := e.series.FindByTVDBID(context.Background(), 500)
	if refreshed.Name != "Renamed Show" {
		t.Errorf("メタデータが更新されるべき: got %q", refreshed.Name)
	}
	if refreshed.LastSyncedAt == nil || !refreshed.LastSyncedAt.After(stale) {
		t.Error("last_synced_atが前進すべき")
	}
	if e.episodes.count() != 1 {
		t.Errorf("エピソードも更新されるべき: got %d", e.episodes.count())
	}
}

func TestSeriesSweeper_SkipsFreshSeries(t *testing.T) {
	client := &fakeClient{
		series: map[int64]*tvdb.SeriesPayload{500: seriesPayload(500, "Fresh Show")},
	}
	e := newEnv(client)

	seed := &model.Series{TVDBID: 500, Name: "Fresh Show"}
	_ = e.series.CreateIfAbsent(context.Background(), seed)
	_ = e.series.MarkSynced(context.Background(), seed.ID, time.Now().Add(-time.Hour))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper := NewSeriesSweeper(e.reconciler, 12*time.Hour, logger)

	if err := sweeper.Run(context.Background()); err != nil {
		t.Fatalf("スイープが失敗した: %v", err)
	}
	if client.episodesCallCount() != 0 {
		t.Errorf("ウィンドウ内のシリーズは触らないべき: %d回の取得", client.episodesCallCount())
	}
}
