package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/podcastadmin/internal/authz"
	"github.com/hitoshi/podcastadmin/internal/jobs"
	"github.com/hitoshi/podcastadmin/internal/middleware"
	"github.com/hitoshi/podcastadmin/internal/model"
	"github.com/hitoshi/podcastadmin/internal/podcast"
)

// multipartMemory はマルチパートフォーム解析時にメモリに保持する上限。超過分は一時ファイルに書き出す。
const multipartMemory = 8 << 20

// PodcastServiceInterface はポッドキャストハンドラーが必要とするサービスインターフェース。
type PodcastServiceInterface interface {
	List(ctx context.Context) ([]model.PodcastSummary, error)
	Get(ctx context.Context, id int64) (*model.Podcast, error)
	Update(ctx context.Context, id int64, in podcast.UpdateInput) (*model.Podcast, error)
}

// RoleServiceInterface はリソース単位の権限付与・剥奪を行うサービスインターフェース。
type RoleServiceInterface interface {
	Grant(ctx context.Context, capability model.Capability, userID int64, ref model.ResourceRef) (authz.Outcome, error)
	Revoke(ctx context.Context, capability model.Capability, userID int64, ref model.ResourceRef) (authz.Outcome, error)
	Admins(ctx context.Context, podcastID int64) ([]int64, error)
}

// FetchSchedulerInterface はエピソード取得ジョブを投入するインターフェース。
type FetchSchedulerInterface interface {
	ScheduleFetch(ctx context.Context, req jobs.FetchRequest) (string, error)
}

// UserDirectory は編集画面で管理者の表示名を引くためのインターフェース。
type UserDirectory interface {
	FindByIDs(ctx context.Context, ids []int64) ([]model.User, error)
}

// PodcastHandler はポッドキャスト管理画面のHTTPハンドラー。
type PodcastHandler struct {
	podcasts  PodcastServiceInterface
	roles     RoleServiceInterface
	scheduler FetchSchedulerInterface
	users     UserDirectory
	flash     FlashConfig
}

// NewPodcastHandler はPodcastHandlerを生成する。usersがnilの場合、管理者はIDのみ表示する。
func NewPodcastHandler(podcasts PodcastServiceInterface, roles RoleServiceInterface, scheduler FetchSchedulerInterface, users UserDirectory, flash FlashConfig) *PodcastHandler {
	return &PodcastHandler{
		podcasts:  podcasts,
		roles:     roles,
		scheduler: scheduler,
		users:     users,
		flash:     flash,
	}
}

type listPage struct {
	pageData
	Podcasts      []model.PodcastSummary
	RequestTokens map[int64]string
}

type adminEntry struct {
	ID    int64
	Email string
}

type editPage struct {
	pageData
	Podcast      *model.Podcast
	Admins       []adminEntry
	RequestToken string
}

// List はポッドキャスト一覧を表示する。
// GET /admin/podcasts
func (h *PodcastHandler) List(w http.ResponseWriter, r *http.Request) {
	podcasts, err := h.podcasts.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	tokens := make(map[int64]string, len(podcasts))
	for _, p := range podcasts {
		tokens[p.ID] = uuid.NewString()
	}

	render(w, r, "list.html", listPage{
		pageData:      h.page(w, r, "Podcasts"),
		Podcasts:      podcasts,
		RequestTokens: tokens,
	})
}

// Edit はポッドキャストの編集画面を表示する。
// GET /admin/podcasts/:id/edit
func (h *PodcastHandler) Edit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadPodcast(w, r)
	if !ok {
		return
	}

	ids, err := h.roles.Admins(r.Context(), p.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	render(w, r, "edit.html", editPage{
		pageData:     h.page(w, r, p.Title),
		Podcast:      p,
		Admins:       h.adminEntries(r.Context(), ids),
		RequestToken: uuid.NewString(),
	})
}

// adminEntries は管理者IDにメールアドレスを添える。
// 参照に失敗してもページ表示は続け、IDのみを表示する。
func (h *PodcastHandler) adminEntries(ctx context.Context, ids []int64) []adminEntry {
	entries := make([]adminEntry, len(ids))
	for i, id := range ids {
		entries[i].ID = id
	}
	if h.users == nil || len(ids) == 0 {
		return entries
	}

	users, err := h.users.FindByIDs(ctx, ids)
	if err != nil {
		slog.WarnContext(ctx, "failed to look up admin users", slog.String("error", err.Error()))
		return entries
	}
	emails := make(map[int64]string, len(users))
	for _, u := range users {
		emails[u.ID] = u.Email
	}
	for i := range entries {
		entries[i].Email = emails[entries[i].ID]
	}
	return entries
}

// AddAdmin はユーザーにポッドキャストの管理権限を付与し、編集画面にリダイレクトする。
// POST /admin/podcasts/:id/add_admin
func (h *PodcastHandler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	h.changeAdmin(w, r, "grant", h.roles.Grant)
}

// RemoveAdmin はユーザーからポッドキャストの管理権限を剥奪し、編集画面にリダイレクトする。
// DELETE /admin/podcasts/:id/remove_admin
func (h *PodcastHandler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	h.changeAdmin(w, r, "revoke", h.roles.Revoke)
}

type roleChangeFunc func(ctx context.Context, capability model.Capability, userID int64, ref model.ResourceRef) (authz.Outcome, error)

// changeAdmin は付与・剥奪の共通処理。
// 対象ユーザーが存在しない場合も成功時と同じリダイレクトを返す。
func (h *PodcastHandler) changeAdmin(w http.ResponseWriter, r *http.Request, action string, change roleChangeFunc) {
	p, ok := h.loadPodcast(w, r)
	if !ok {
		return
	}
	redirectTo := editPath(p.ID)

	userID, ok := formUserID(r)
	if !ok {
		slog.InfoContext(r.Context(), "role change skipped: invalid user id",
			slog.String("action", action),
			slog.Int64("podcast_id", p.ID),
		)
		http.Redirect(w, r, redirectTo, http.StatusFound)
		return
	}

	outcome, err := change(r.Context(), model.CapabilityPodcastAdmin, userID, model.PodcastRef(p.ID))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	switch outcome {
	case authz.OutcomeNotFound:
		// 存在しないユーザーや付与されていない権限への操作は何もせず成功と同じ扱い
		slog.InfoContext(r.Context(), "role change was a no-op",
			slog.String("action", action),
			slog.Int64("podcast_id", p.ID),
			slog.Int64("user_id", userID),
		)
	case authz.OutcomeGranted, authz.OutcomeAlreadyGranted, authz.OutcomeRevoked:
	}

	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// Update はポッドキャストのメタデータと画像アセットを更新し、一覧画面にリダイレクトする。
// PUT /admin/podcasts/:id
func (h *PodcastHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := podcastIDParam(r)
	if !ok {
		handleServiceError(w, r, model.NewPodcastNotFoundError(0))
		return
	}

	if err := parseForm(r); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge,
				newInvalidRequestError(fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit)))
			return
		}
		handleServiceError(w, r, newInvalidRequestError("Malformed form data"))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	in := podcast.UpdateInput{
		Title:           podcastField(r, "title"),
		FeedURL:         podcastField(r, "feed_url"),
		Description:     podcastField(r, "description"),
		ITunesURL:       podcastField(r, "itunes_url"),
		OvercastURL:     podcastField(r, "overcast_url"),
		AndroidURL:      podcastField(r, "android_url"),
		SoundcloudURL:   podcastField(r, "soundcloud_url"),
		WebsiteURL:      podcastField(r, "website_url"),
		TwitterUsername: podcastField(r, "twitter_username"),
		MainColorHex:    podcastField(r, "main_color_hex"),
		Slug:            podcastField(r, "slug"),
		Reachable:       podcastBool(r, "reachable"),
		Published:       podcastBool(r, "published"),
	}

	image, closeImage, err := formUpload(r, "podcast[image]")
	if err != nil {
		handleServiceError(w, r, newInvalidRequestError("Malformed image upload"))
		return
	}
	defer closeImage()
	in.Image = image

	pattern, closePattern, err := formUpload(r, "podcast[pattern_image]")
	if err != nil {
		handleServiceError(w, r, newInvalidRequestError("Malformed pattern image upload"))
		return
	}
	defer closePattern()
	in.PatternImage = pattern

	p, err := h.podcasts.Update(r.Context(), id, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	setFlash(w, h.flash, fmt.Sprintf("Podcast was successfully updated (%s, #%d)", p.Title, p.ID))
	http.Redirect(w, r, listPath, http.StatusFound)
}

// Fetch はエピソード取得ジョブを投入し、通知付きで一覧画面にリダイレクトする。
// POST /admin/podcasts/:id/fetch
func (h *PodcastHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	id, ok := podcastIDParam(r)
	if !ok {
		handleServiceError(w, r, model.NewPodcastNotFoundError(0))
		return
	}

	requestKey := r.Header.Get("Idempotency-Key")
	if requestKey == "" {
		requestKey = r.PostFormValue("request_token")
	}

	notice, err := h.scheduler.ScheduleFetch(r.Context(), jobs.FetchRequest{
		PodcastID:  id,
		RawLimit:   r.PostFormValue("limit"),
		RawForce:   r.PostFormValue("force"),
		RequestKey: requestKey,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	setFlash(w, h.flash, notice)
	http.Redirect(w, r, listPath, http.StatusFound)
}

// page は共通テンプレートデータを組み立てる。通知Cookieはここで消費される。
func (h *PodcastHandler) page(w http.ResponseWriter, r *http.Request, title string) pageData {
	return pageData{
		PageTitle: title,
		Notice:    popFlash(w, r, h.flash),
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	}
}

// loadPodcast はURLのIDからポッドキャストを取得する。
// 取得できなかった場合はエラーレスポンスを書き込みfalseを返す。
func (h *PodcastHandler) loadPodcast(w http.ResponseWriter, r *http.Request) (*model.Podcast, bool) {
	id, ok := podcastIDParam(r)
	if !ok {
		handleServiceError(w, r, model.NewPodcastNotFoundError(0))
		return nil, false
	}
	p, err := h.podcasts.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}
	return p, true
}

const listPath = "/admin/podcasts"

func editPath(id int64) string {
	return fmt.Sprintf("/admin/podcasts/%d/edit", id)
}

func podcastIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// formUserID は podcast[user_id] または user_id を読み取る。
// 空・非数値・0以下の値はfalseを返し、存在しないユーザーと同じ扱いになる。
func formUserID(r *http.Request) (int64, bool) {
	raw := r.PostFormValue("podcast[user_id]")
	if raw == "" {
		raw = r.PostFormValue("user_id")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

// podcastField はフォームの値を加工せずに返す。
func podcastField(r *http.Request, name string) string {
	return r.PostFormValue("podcast[" + name + "]")
}

// podcastBool はチェックボックスの値を読み取る。
// hiddenフィールドとチェックボックスが同名で送られるため最後の値を採用する。
func podcastBool(r *http.Request, name string) bool {
	values := r.PostForm["podcast["+name+"]"]
	if len(values) == 0 {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(values[len(values)-1])) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

// formUpload はファイルフィールドを読み取る。未送信の場合はnilを返す。
func formUpload(r *http.Request, field string) (*podcast.Upload, func(), error) {
	noop := func() {}
	if r.MultipartForm == nil {
		return nil, noop, nil
	}

	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, err
	}
	if header.Size == 0 && header.Filename == "" {
		file.Close()
		return nil, noop, nil
	}

	return &podcast.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}, func() { file.Close() }, nil
}
