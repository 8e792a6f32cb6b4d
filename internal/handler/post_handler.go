package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/post"
	"github.com/hitoshi/postboard/internal/session"
)

// imageField は投稿フォームの画像フィールド名。
const imageField = "image_path"

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	List(ctx context.Context) ([]*model.Post, error)
	Get(ctx context.Context, id int64) (*model.Post, error)
	Create(ctx context.Context, userID string, in post.Input) (*model.Post, error)
	Update(ctx context.Context, id int64, in post.Input) (*model.Post, error)
	ImageURL(p *model.Post) string
}

var _ PostServiceInterface = (*post.Service)(nil)

// CurrentUserResolver はセッションのログインユーザーを解決する。auth.Serviceが実装する。
type CurrentUserResolver interface {
	CurrentUser(ctx context.Context, sess *model.Session) (*model.User, error)
}

// postForm は投稿フォームの入力値。
type postForm struct {
	Title  string `validate:"required,max=150"`
	Author string `validate:"required,max=75"`
	Body   string `validate:"required,max=800"`
}

// PostHandler は投稿の一覧、作成、編集のHTTPハンドラー。
type PostHandler struct {
	service  PostServiceInterface
	users    CurrentUserResolver
	sessions SessionSaver
	views    *Renderer
	validate *validator.Validate
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface, users CurrentUserResolver, sessions SessionSaver, views *Renderer) *PostHandler {
	return &PostHandler{
		service:  service,
		users:    users,
		sessions: sessions,
		views:    views,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Home は投稿一覧を表示する。
// GET / と GET /home
func (h *PostHandler) Home(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	posts, err := h.service.List(r.Context())
	if err != nil {
		h.renderInternalError(w, r, user, err)
		return
	}

	data := newPageData(r, "Home", user)
	data.Posts = make([]postView, 0, len(posts))
	for _, p := range posts {
		data.Posts = append(data.Posts, toPostView(p, h.service.ImageURL(p)))
	}
	h.views.Render(w, http.StatusOK, pageIndex, data)
}

// NewPost は投稿作成フォームを表示する。
// GET /new_post
func (h *PostHandler) NewPost(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	data := newPageData(r, "New post", user)
	data.Action = "/new_post"
	h.views.Render(w, http.StatusOK, pagePost, data)
}

// CreatePost は投稿を作成する。
// POST /new_post
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	data := newPageData(r, "New post", user)
	data.Action = "/new_post"

	in, image, ok := h.readForm(w, r, data)
	if !ok {
		return
	}
	if image != nil {
		defer image.Close()
	}

	if _, err := h.service.Create(r.Context(), userID, in); err != nil {
		h.handleWriteError(w, r, data, err)
		return
	}
	http.Redirect(w, r, homePath, http.StatusFound)
}

// EditPost は投稿編集フォームを表示する。
// GET /post/{id}
func (h *PostHandler) EditPost(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	p, ok := h.loadPost(w, r, user)
	if !ok {
		return
	}

	view := toPostView(p, h.service.ImageURL(p))
	data := newPageData(r, "Edit post", user)
	data.Action = "/post/" + strconv.FormatInt(p.ID, 10)
	data.Form = postForm{Title: p.Title, Author: p.Author, Body: p.Body}
	data.Post = &view
	data.ImageURL = view.ImageURL
	h.views.Render(w, http.StatusOK, pagePost, data)
}

// UpdatePost は投稿を更新する。画像が添付された場合は置き換える。
// POST /post/{id}
func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	p, ok := h.loadPost(w, r, user)
	if !ok {
		return
	}

	data := newPageData(r, "Edit post", user)
	data.Action = "/post/" + strconv.FormatInt(p.ID, 10)
	data.ImageURL = h.service.ImageURL(p)

	in, image, ok := h.readForm(w, r, data)
	if !ok {
		return
	}
	if image != nil {
		defer image.Close()
	}

	if _, err := h.service.Update(r.Context(), p.ID, in); err != nil {
		h.handleWriteError(w, r, data, err)
		return
	}
	http.Redirect(w, r, homePath, http.StatusFound)
}

// readForm はフォームを検証してpost.Inputを組み立てる。
// 検証に失敗した場合はフォームを再表示してfalseを返す。
// 画像が添付された場合は呼び出し側がCloseすること。
func (h *PostHandler) readForm(w http.ResponseWriter, r *http.Request, data *pageData) (post.Input, multipart.File, bool) {
	form := postForm{
		Title:  strings.TrimSpace(r.FormValue("title")),
		Author: strings.TrimSpace(r.FormValue("author")),
		Body:   strings.TrimSpace(r.FormValue("body")),
	}
	data.Form = form

	var maxErr *http.MaxBytesError
	file, _, err := r.FormFile(imageField)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		file = nil
	case errors.As(err, &maxErr):
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return post.Input{}, nil, false
	case err != nil:
		data.Errors = []string{"The uploaded file could not be read."}
		h.views.Render(w, http.StatusBadRequest, pagePost, data)
		return post.Input{}, nil, false
	}

	if err := h.validate.Struct(form); err != nil {
		if file != nil {
			file.Close()
		}
		data.Errors = validationMessages(err)
		h.views.Render(w, http.StatusBadRequest, pagePost, data)
		return post.Input{}, nil, false
	}

	in := post.Input{Title: form.Title, Author: form.Author, Body: form.Body}
	if file != nil {
		in.Image = file
	}
	return in, file, true
}

func (h *PostHandler) handleWriteError(w http.ResponseWriter, r *http.Request, data *pageData, err error) {
	var apiErr *model.APIError
	switch {
	case errors.Is(err, post.ErrTitleRequired):
		data.Errors = []string{"Title is required."}
		h.views.Render(w, http.StatusBadRequest, pagePost, data)
	case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidImage:
		data.Errors = []string{apiErr.Message, apiErr.Action}
		h.views.Render(w, http.StatusBadRequest, pagePost, data)
	default:
		h.renderInternalError(w, r, data.User, err)
	}
}

// loadPost はURLの投稿IDから投稿を取得する。見つからない場合は404を表示してfalseを返す。
func (h *PostHandler) loadPost(w http.ResponseWriter, r *http.Request, user *model.User) (*model.Post, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.renderNotFound(w, r, user)
		return nil, false
	}

	p, err := h.service.Get(r.Context(), id)
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodePostNotFound {
		h.renderNotFound(w, r, user)
		return nil, false
	}
	if err != nil {
		h.renderInternalError(w, r, user, err)
		return nil, false
	}
	return p, true
}

// currentUser はセッションのログインユーザーを返す。
// ログイン済みマーカーが削除済みユーザーを指す場合はマーカーを消してログイン画面へ戻し、falseを返す。
func (h *PostHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	sess := session.FromContext(r.Context())
	user, err := h.users.CurrentUser(r.Context(), sess)
	if err != nil {
		h.renderInternalError(w, r, nil, err)
		return nil, false
	}
	if user == nil {
		if sess != nil && sess.IsAuthenticated() {
			slog.Warn("session user no longer exists", slog.String("user_id", sess.Values.UserID))
			sess.ClearAuthentication()
			// 残したままだと/loginが/homeへ戻し続ける
			if err := h.sessions.Save(r.Context(), w, sess); err != nil {
				h.renderInternalError(w, r, nil, err)
				return nil, false
			}
		}
		http.Redirect(w, r, "/login", http.StatusFound)
		return nil, false
	}
	return user, true
}

func (h *PostHandler) renderNotFound(w http.ResponseWriter, r *http.Request, user *model.User) {
	data := newPageData(r, "Not found", user)
	data.Message = "The requested post does not exist."
	h.views.Render(w, http.StatusNotFound, pageError, data)
}

func (h *PostHandler) renderInternalError(w http.ResponseWriter, r *http.Request, user *model.User, err error) {
	slog.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	data := newPageData(r, "Error", user)
	data.Message = "Something went wrong. Please try again later."
	h.views.Render(w, http.StatusInternalServerError, pageError, data)
}

// validationMessages はvalidatorのエラーをフォーム向けの文言に変換する。
func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{"The form is invalid."}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required.")
		case "max":
			msgs = append(msgs, fe.Field()+" must be at most "+fe.Param()+" characters.")
		default:
			msgs = append(msgs, fe.Field()+" is invalid.")
		}
	}
	return msgs
}
